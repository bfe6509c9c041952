package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/angelmondragon/packfinderz-stock/pkg/broker"
	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/angelmondragon/packfinderz-stock/pkg/metrics"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox/registry"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type publisher interface {
	Ping(context.Context) error
	Publish(context.Context, broker.Destination, broker.Message) error
}

type pendingStore interface {
	ClaimPending(ctx context.Context, tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	RecordFailure(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error) error
	Park(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error, attempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// RelayParams wires the outbox relay. Metrics is optional.
type RelayParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         txRunner
	Broker     publisher
	BrokerKind string
	Pending    pendingStore
	DeadLetter deadLetterStore
	Resolver   eventResolver
	Metrics    *metrics.OutboxMetrics
}

// Relay drains committed outbox rows to the broker. Rows are claimed with
// SKIP LOCKED so several relays can run side by side.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	broker      publisher
	brokerKind  string
	pending     pendingStore
	deadLetter  deadLetterStore
	resolver    eventResolver
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	pace        pacer
	now         func() time.Time
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeadLettered
)

func (o outcome) String() string {
	switch o {
	case outcomePublished:
		return metrics.OutboxPublished
	case outcomeRetry:
		return metrics.OutboxRetried
	default:
		return metrics.OutboxDeadLettered
	}
}

type batchSummary struct {
	claimed int
	counts  map[outcome]int
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Broker == nil:
		return nil, errors.New("broker client is required")
	case params.Pending == nil:
		return nil, errors.New("outbox repository is required")
	case params.DeadLetter == nil:
		return nil, errors.New("dlq repository is required")
	case params.Resolver == nil:
		return nil, errors.New("event registry is required")
	}

	kind := params.BrokerKind
	if kind == "" {
		kind = broker.KindPubSub
	}
	batch := params.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	maxAttempts := params.Outbox.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	interval := time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Relay{
		logg:        params.Logger,
		db:          params.DB,
		broker:      params.Broker,
		brokerKind:  kind,
		pending:     params.Pending,
		deadLetter:  params.DeadLetter,
		resolver:    params.Resolver,
		metrics:     params.Metrics,
		batchSize:   batch,
		maxAttempts: maxAttempts,
		pace:        newPacer(interval, maxIdleBackoff),
		now:         time.Now,
	}, nil
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; an empty batch waits one poll interval; a failed batch backs
// off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		r.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := r.broker.Ping(ctx); err != nil {
		r.logg.Error(ctx, r.brokerKind+" ping failed", err)
		return fmt.Errorf("%s ping failed: %w", r.brokerKind, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay context canceled")
			return err
		}

		summary, err := r.drainOnce(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch error", err)
			wait = r.pace.failed()
		case summary.claimed == 0:
			wait = r.pace.idle()
		default:
			r.pace.reset()
			r.logSummary(ctx, summary)
			continue
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// drainOnce claims one batch and settles every row in the same transaction,
// so a crash mid-batch leaves the rows for the next claim.
func (r *Relay) drainOnce(ctx context.Context) (batchSummary, error) {
	summary := batchSummary{counts: map[outcome]int{}}
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.pending.ClaimPending(ctx, tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		summary.claimed = len(rows)
		for _, row := range rows {
			result, err := r.deliver(ctx, tx, row)
			if err != nil {
				return err
			}
			summary.counts[result]++
			r.metrics.Delivery(string(row.EventType), result.String())
		}
		return nil
	})
	if err == nil {
		r.metrics.ObserveBatch(summary.claimed)
	}
	return summary, err
}

// deliver publishes one row and records its fate. The returned error is only
// set when bookkeeping fails, which aborts the batch.
func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (outcome, error) {
	fields := r.rowFields(row)

	resolved, err := r.resolver.Resolve(row)
	if err != nil {
		return outcomeDeadLettered, r.deadLetterRow(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	fields["event_id"] = resolved.Envelope.EventID
	if dest := r.destinationName(resolved.Descriptor); dest != "" {
		fields["destination"] = dest
	}

	err = r.publish(ctx, row, resolved)
	if err == nil {
		if err := r.pending.MarkPublished(ctx, tx, row.ID, r.now()); err != nil {
			return outcomePublished, fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.logg.Debug(r.logg.WithFields(ctx, fields), "outbox event published")
		return outcomePublished, nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return outcomeDeadLettered, r.deadLetterRow(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err, fields)
	}

	attempt := row.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= r.maxAttempts {
		exhausted := fmt.Errorf("max publish attempts reached: %w", err)
		return outcomeDeadLettered, r.deadLetterRow(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, exhausted, fields)
	}

	r.logg.Warn(r.logg.WithField(r.logg.WithFields(ctx, fields), "error", err.Error()), "outbox publish failed, will retry")
	if err := r.pending.RecordFailure(ctx, tx, row.ID, err); err != nil {
		return outcomeRetry, fmt.Errorf("mark failure %s: %w", row.ID, err)
	}
	return outcomeRetry, nil
}

func (r *Relay) deadLetterRow(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	r.logg.Warn(r.logg.WithField(r.logg.WithFields(ctx, fields), "error", cause.Error()), "outbox event dead-lettered")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      r.now().UTC(),
	}
	if err := r.deadLetter.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.pending.Park(ctx, tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("park %s: %w", row.ID, err)
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	dest := broker.Destination{
		Topic:      resolved.Descriptor.Topic,
		RoutingKey: resolved.Descriptor.RoutingKey,
	}
	if dest.Topic == "" && dest.RoutingKey == "" {
		return registry.NewNonRetryableError(fmt.Errorf("no destination configured for %s", row.EventType))
	}

	msg := broker.Message{
		ID:          resolved.Envelope.EventID,
		Data:        row.Payload,
		OrderingKey: row.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"created_at":     row.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	return r.broker.Publish(publishCtx, dest, msg)
}

func (r *Relay) destinationName(desc registry.EventDescriptor) string {
	if r.brokerKind == broker.KindRabbitMQ {
		return desc.RoutingKey
	}
	return desc.Topic
}

func (r *Relay) rowFields(row models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
		"broker":         r.brokerKind,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	return fields
}

func (r *Relay) logSummary(ctx context.Context, summary batchSummary) {
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"claimed":       summary.claimed,
		"published":     summary.counts[outcomePublished],
		"retried":       summary.counts[outcomeRetry],
		"dead_lettered": summary.counts[outcomeDeadLettered],
	}), "outbox batch settled")
}

// pacer spaces polls: idle waits stay at the base interval, failures double
// up to max. Every wait gets up to jitterWindow of random spread.
type pacer struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
	rnd     *rand.Rand
}

func newPacer(base, max time.Duration) pacer {
	return pacer{base: base, max: max, current: base, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (p *pacer) reset() { p.current = p.base }

func (p *pacer) idle() time.Duration {
	p.reset()
	return p.jitter(p.base)
}

func (p *pacer) failed() time.Duration {
	p.current *= 2
	if p.current > p.max {
		p.current = p.max
	}
	return p.jitter(p.current)
}

func (p *pacer) jitter(d time.Duration) time.Duration {
	if d <= 0 || p.rnd == nil {
		return d
	}
	return d + time.Duration(p.rnd.Int63n(int64(jitterWindow)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
