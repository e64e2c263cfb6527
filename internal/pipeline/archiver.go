package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Archiver exports settled markets and evaluated predictions to cold storage.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewArchiver creates an Archiver that exports records settled more than
// retention ago.
func NewArchiver(blobArchiver domain.Archiver, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    retention,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// RunResult counts the records one run exported.
type RunResult struct {
	Cutoff      time.Time
	Markets     int64
	Predictions int64
}

// Run executes a single archive run.
func (a *Archiver) Run(ctx context.Context) (RunResult, error) {
	res := RunResult{Cutoff: a.now().UTC().Add(-a.retention)}
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", res.Cutoff),
		slog.Duration("retention", a.retention),
	)

	var err error
	res.Markets, err = a.blobArchiver.ArchiveMarkets(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("archiving markets before %v: %w", res.Cutoff, err)
	}
	res.Predictions, err = a.blobArchiver.ArchivePredictions(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("archiving predictions before %v: %w", res.Cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("markets_archived", res.Markets),
		slog.Int64("predictions_archived", res.Predictions),
	)
	return res, nil
}

// RunCron runs the archiver on a 5-field cron schedule until the context is
// cancelled. A failed run is logged and the schedule continues.
//
// Example: "0 3 * * *" runs daily at 03:00 UTC.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("cron %q: %w", cronExpr, err)
		}
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
