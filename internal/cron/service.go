package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/angelmondragon/packfinderz-stock/pkg/metrics"
)

const defaultInterval = time.Minute

// Cadenced is implemented by jobs that should run less often than every
// cycle. The service skips them until Every has elapsed since their last
// successful run on this instance.
type Cadenced interface {
	Every() time.Duration
}

// ServiceParams configure the cron service. JobTimeout bounds each job run;
// zero leaves jobs bounded only by the service context.
type ServiceParams struct {
	Logger       *logger.Logger
	Registry     *Registry
	Lock         Lock
	Metrics      *metrics.CronJobMetrics
	Interval     time.Duration
	InitialDelay time.Duration
	JobTimeout   time.Duration
}

// Service runs the registered jobs on one goroutine. A cycle only proceeds
// while this instance holds the lock, which is extended between jobs.
type Service struct {
	logg         *logger.Logger
	registry     *Registry
	lock         Lock
	metrics      *metrics.CronJobMetrics
	interval     time.Duration
	initialDelay time.Duration
	jobTimeout   time.Duration

	lastRun map[string]time.Time
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:         params.Logger,
		registry:     registry,
		lock:         params.Lock,
		metrics:      params.Metrics,
		interval:     interval,
		initialDelay: max(params.InitialDelay, 0),
		jobTimeout:   max(params.JobTimeout, 0),
		lastRun:      map[string]time.Time{},
		now:          time.Now,
	}, nil
}

// Run waits out the initial delay and then runs one cycle per interval until
// ctx is canceled. The next cycle is scheduled after the previous one ends.
func (s *Service) Run(ctx context.Context) error {
	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-timer.C:
		}
		if err := s.runCycle(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		timer.Reset(s.interval)
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.CycleSkipped()
		s.logg.Debug(ctx, "cron lock held elsewhere, skipping cycle")
		return nil
	}
	defer func() {
		// the cycle context may already be canceled on shutdown
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(relCtx); err != nil {
			s.logg.Warn(ctx, "cron lock release failed: "+err.Error())
		}
	}()

	for i, job := range s.registry.Jobs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			if err := s.lock.Extend(ctx); err != nil {
				return fmt.Errorf("lock extend before %s: %w", job.Name(), err)
			}
		}
		if !s.due(job) {
			continue
		}
		s.runJob(ctx, job)
	}
	return nil
}

func (s *Service) due(job Job) bool {
	c, ok := job.(Cadenced)
	if !ok || c.Every() <= 0 {
		return true
	}
	last, ran := s.lastRun[job.Name()]
	return !ran || s.now().Sub(last) >= c.Every()
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, s.jobTimeout)
		defer cancel()
	}
	start := s.now()
	err := safeRun(jobCtx, job)
	took := s.now().Sub(start)
	s.metrics.JobFinished(job.Name(), took, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.lastRun[job.Name()] = start
	s.logg.Debug(jobCtx, "job completed")
}

// safeRun turns a job panic into an error.
func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
