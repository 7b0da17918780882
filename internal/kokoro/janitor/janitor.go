// Package janitor purges transcripts of old archived conversations on a
// cron schedule. Summaries are the durable memory and are never deleted;
// only the raw message rows go.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// TranscriptPurger deletes message rows of archived, summarized
// conversations older than the cutoff, returning how many rows went.
type TranscriptPurger interface {
	PurgeArchivedTranscripts(ctx context.Context, olderThan time.Time) (int64, error)
}

// Config controls the retention sweep.
type Config struct {
	// RetentionDays is the transcript age past which archived conversations
	// are purged. Zero or negative disables the janitor entirely.
	RetentionDays int
	// Schedule is the cron expression for the sweep. Empty means "@daily".
	Schedule string
}

// Janitor owns the cron runner. Start it once; Stop waits for an in-flight
// sweep to finish.
type Janitor struct {
	purger TranscriptPurger
	cfg    Config
	logger *slog.Logger
	cron   *cron.Cron
}

// New creates a Janitor. If logger is nil, the default slog logger is used.
func New(purger TranscriptPurger, cfg Config, logger *slog.Logger) *Janitor {
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{purger: purger, cfg: cfg, logger: logger.With("component", "janitor")}
}

// Start registers the sweep and begins the cron loop. With retention
// disabled it logs and does nothing, so callers never need to special-case
// the disabled deployment.
func (j *Janitor) Start(ctx context.Context) error {
	if j.cfg.RetentionDays <= 0 {
		j.logger.Info("transcript retention disabled, janitor not started")
		return nil
	}

	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.cfg.Schedule, func() { j.sweep(ctx) })
	if err != nil {
		return fmt.Errorf("janitor: schedule %q: %w", j.cfg.Schedule, err)
	}
	j.cron.Start()
	j.logger.Info("janitor started",
		"schedule", j.cfg.Schedule,
		"retention_days", j.cfg.RetentionDays,
	)
	return nil
}

// Stop halts the cron loop and blocks until any running sweep returns.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.logger.Info("janitor stopped")
}

// Sweep runs one purge pass immediately, outside the schedule.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -j.cfg.RetentionDays)
	return j.purger.PurgeArchivedTranscripts(ctx, cutoff)
}

func (j *Janitor) sweep(ctx context.Context) {
	start := time.Now()
	deleted, err := j.Sweep(ctx)
	if err != nil {
		j.logger.Error("transcript purge failed", "err", err)
		return
	}
	j.logger.Info("transcript purge complete",
		"deleted_messages", deleted,
		"elapsed", time.Since(start).String(),
	)
}
