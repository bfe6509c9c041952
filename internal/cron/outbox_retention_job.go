package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/packfinderz-stock/pkg/db"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"gorm.io/gorm"
)

const (
	defaultEventRetention = 30 * 24 * time.Hour
	defaultDLQRetention   = 90 * 24 * time.Hour
	defaultMinAttempts    = 10
	defaultPurgeBatch     = 500
	// maxPurgeRounds bounds one tick; leftovers go on the next run.
	maxPurgeRounds = 40
)

type outboxPurger interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount, limit int) (int64, error)
}

type dlqPurger interface {
	PurgeFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

// OutboxRetentionJobParams configure the outbox cleanup. Retention values are
// in days. MinAttempts should match the relay's max attempts so unpublished
// rows are only purged once they are dead-lettered.
type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	DB           db.TxRunner
	Repository   outboxPurger
	DeadLetter   dlqPurger
	Retention    int
	DLQRetention int
	MinAttempts  int
	BatchSize    int
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           db.TxRunner
	events       outboxPurger
	deadLetter   dlqPurger
	retention    time.Duration
	dlqRetention time.Duration
	minAttempts  int
	batch        int
	now          func() time.Time
}

// NewOutboxRetentionJob builds the job that trims delivered outbox rows and
// aged DLQ entries. DeadLetter is optional.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	return &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		events:       params.Repository,
		deadLetter:   params.DeadLetter,
		retention:    daysOr(params.Retention, defaultEventRetention),
		dlqRetention: daysOr(params.DLQRetention, defaultDLQRetention),
		minAttempts:  positiveOr(params.MinAttempts, defaultMinAttempts),
		batch:        positiveOr(params.BatchSize, defaultPurgeBatch),
		now:          time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Every keeps the retention purge hourly while the sweeper cycles faster.
func (j *outboxRetentionJob) Every() time.Duration { return time.Hour }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	eventCutoff := now.Add(-j.retention)
	events, err := j.purge(ctx, func(tx *gorm.DB) (int64, error) {
		return j.events.DeletePublishedBefore(ctx, tx, eventCutoff, j.minAttempts, j.batch)
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}

	var dead int64
	dlqCutoff := now.Add(-j.dlqRetention)
	if j.deadLetter != nil {
		dead, err = j.purge(ctx, func(tx *gorm.DB) (int64, error) {
			return j.deadLetter.PurgeFailedBefore(ctx, tx, dlqCutoff, j.batch)
		})
		if err != nil {
			return fmt.Errorf("outbox dlq retention: %w", err)
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"event_cutoff":   eventCutoff,
		"dlq_cutoff":     dlqCutoff,
		"min_attempts":   j.minAttempts,
		"events_deleted": events,
		"dlq_deleted":    dead,
	})
	if events+dead == 0 {
		j.logg.Debug(logCtx, "outbox retention found nothing to delete")
		return nil
	}
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}

// purge repeats step in its own transaction until a short batch comes back.
func (j *outboxRetentionJob) purge(ctx context.Context, step func(tx *gorm.DB) (int64, error)) (int64, error) {
	var total int64
	for round := 0; round < maxPurgeRounds; round++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = step(tx)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(j.batch) {
			break
		}
	}
	return total, nil
}

func daysOr(days int, fallback time.Duration) time.Duration {
	if days <= 0 {
		return fallback
	}
	return time.Duration(days) * 24 * time.Hour
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
