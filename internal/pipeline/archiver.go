package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// ArchiveRunner uploads each completed UTC day's fill audit log to cold
// storage on a daily schedule.
type ArchiveRunner struct {
	archiver domain.FillArchiver
	runAtUTC int // hour of day
	logger   *slog.Logger
}

// NewArchiveRunner creates an ArchiveRunner that fires at the given UTC hour.
func NewArchiveRunner(archiver domain.FillArchiver, runAtUTC int, logger *slog.Logger) *ArchiveRunner {
	return &ArchiveRunner{
		archiver: archiver,
		runAtUTC: runAtUTC,
		logger:   logger.With(slog.String("component", "archive_runner")),
	}
}

// Run archives yesterday immediately (a no-op when already uploaded), then
// fires once per day at the configured hour until ctx is cancelled.
func (r *ArchiveRunner) Run(ctx context.Context) error {
	if err := r.runOnce(ctx); err != nil {
		r.logger.Error("startup archive run failed", slog.String("error", err.Error()))
	}

	for {
		wait := time.Until(r.nextRun(time.Now().UTC()))
		r.logger.Info("archive runner waiting", slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := r.runOnce(ctx); err != nil {
				r.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runOnce archives the previous UTC day.
func (r *ArchiveRunner) runOnce(ctx context.Context) error {
	day := time.Now().UTC().AddDate(0, 0, -1)

	count, err := r.archiver.ArchiveFills(ctx, day)
	if err != nil {
		return fmt.Errorf("pipeline: archive %s: %w", day.Format("2006-01-02"), err)
	}

	if count > 0 {
		r.logger.Info("archived fills",
			slog.String("day", day.Format("2006-01-02")),
			slog.Int64("count", count),
		)
	}
	return nil
}

// nextRun returns the next occurrence of the configured hour after now.
func (r *ArchiveRunner) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), r.runAtUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
