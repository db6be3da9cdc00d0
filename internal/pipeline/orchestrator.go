package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/notify"
	"github.com/alanyoungcy/copytraderbot/internal/source"
)

const (
	// eventBuffer absorbs detection bursts (backfill sweeps). When it fills,
	// the feed handler blocks, pushing backpressure into the emitting source
	// rather than losing the fill.
	eventBuffer = 256

	defaultWorkers      = 4
	healthCheckInterval = 30 * time.Second
)

// FillFeed is the merged fill surface the orchestrator subscribes to.
type FillFeed interface {
	OnFill(h source.FillHandler) func()
	HealthSummaries() []domain.HealthSummary
}

// HealthReporter is anything with a health summary worth monitoring.
type HealthReporter interface {
	HealthSummary() domain.HealthSummary
}

// Orchestrator runs the event loop: it fans deduplicated fills out to a
// worker pool, watches component health, and drives the daily archive job.
type Orchestrator struct {
	feed      FillFeed
	book      HealthReporter
	processor *Processor
	archiver  *ArchiveRunner
	notifier  *notify.Notifier
	workers   int
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. book, archiver, and notifier may
// be nil depending on the deployed modes.
func NewOrchestrator(feed FillFeed, book HealthReporter, processor *Processor, archiver *ArchiveRunner, notifier *notify.Notifier, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		feed:      feed,
		book:      book,
		processor: processor,
		archiver:  archiver,
		notifier:  notifier,
		workers:   defaultWorkers,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run blocks until ctx is cancelled. Sources must already be started; Run
// only consumes what they emit.
func (o *Orchestrator) Run(ctx context.Context) error {
	events := make(chan domain.LeaderFillEvent, eventBuffer)

	g, ctx := errgroup.WithContext(ctx)

	// Every fill the coordinator emits must reach a worker: a full buffer
	// blocks the handler (and the source behind it) instead of dropping the
	// event, since the polling cursor has already moved past it.
	unsub := o.feed.OnFill(func(ev domain.LeaderFillEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	defer unsub()

	for i := 0; i < o.workers; i++ {
		g.Go(func() error {
			o.work(ctx, events)
			return nil
		})
	}

	g.Go(func() error {
		o.watchHealth(ctx)
		return nil
	})

	if o.archiver != nil {
		g.Go(func() error {
			if err := o.archiver.Run(ctx); ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	o.logger.Info("orchestrator started", slog.Int("workers", o.workers))
	return g.Wait()
}

// work drains the event channel until cancellation.
func (o *Orchestrator) work(ctx context.Context, events <-chan domain.LeaderFillEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := o.processor.HandleFill(ctx, ev); err != nil {
				o.logger.Error("fill processing failed",
					slog.String("dedupe_key", ev.DedupeKey),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// watchHealth polls component health and alerts on healthy-to-unhealthy
// transitions.
func (o *Orchestrator) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	last := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summaries := o.feed.HealthSummaries()
			if o.book != nil {
				summaries = append(summaries, o.book.HealthSummary())
			}

			for _, sum := range summaries {
				prev, seen := last[sum.Name]
				last[sum.Name] = sum.Healthy

				if seen && prev && !sum.Healthy {
					o.logger.Warn("component unhealthy",
						slog.String("name", sum.Name),
						slog.Int64("errors", sum.ErrorCount),
					)
					if o.notifier != nil {
						title, message := notify.SourceUnhealthyMessage(sum)
						_ = o.notifier.Notify(ctx, notify.EventSourceUnhealthy, title, message)
					}
				}
				if seen && !prev && sum.Healthy {
					o.logger.Info("component recovered", slog.String("name", sum.Name))
				}
			}
		}
	}
}
