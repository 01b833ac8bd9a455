package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/fleetpact/fleetpact/internal/jobs"
	"github.com/fleetpact/fleetpact/internal/settlement"
	"github.com/fleetpact/fleetpact/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSummaryWarmup precomputes settlement summaries for active parties.
	TaskSummaryWarmup = "settlement:summary_warmup"
	// TaskIdempotencyCleanup prunes processed idempotency keys past retention.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// SummaryWarmupPayload bounds the warmup fan-out.
type SummaryWarmupPayload struct {
	Concurrency int `json:"concurrency"`
}

// NewSummaryWarmupTask constructs the warmup task.
func NewSummaryWarmupTask(concurrency int) (*asynq.Task, error) {
	data, err := json.Marshal(SummaryWarmupPayload{Concurrency: concurrency})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSummaryWarmup, data), nil
}

// SummaryWarmupJob refreshes cached per-party summaries. It only touches the
// cache: no core settlement state is recomputed in the background.
type SummaryWarmupJob struct {
	service *settlement.Service
	parties settlement.Repository
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewSummaryWarmupJob constructs the job. Metrics may be nil.
func NewSummaryWarmupJob(service *settlement.Service, parties settlement.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryWarmupJob {
	return &SummaryWarmupJob{service: service, parties: parties, logger: logger, metrics: metrics}
}

// Handle processes TaskSummaryWarmup tasks.
func (j *SummaryWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("summary_warmup")
	var payload SummaryWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	concurrency := payload.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	partyIDs, err := j.parties.PartyIDs(ctx)
	if err != nil {
		return tracker.End(err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, partyID := range partyIDs {
		g.Go(func() error {
			_, err := j.service.Summary(ctx, partyID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return tracker.End(err)
	}
	j.logger.Info("summary warmup complete", slog.Int("parties", len(partyIDs)))
	return tracker.End(nil)
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// IdempotencyCleanupJob prunes expired idempotency keys.
type IdempotencyCleanupJob struct {
	store   *shared.IdempotencyStore
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the job. Metrics may be nil.
func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, logger: logger, metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("idempotency_cleanup")
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	retention := time.Duration(payload.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if err := j.store.Cleanup(ctx, retention); err != nil {
		return tracker.End(err)
	}
	j.logger.Info("idempotency cleanup complete", slog.Duration("retention", retention))
	return tracker.End(nil)
}
