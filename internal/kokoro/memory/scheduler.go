package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Kokoro/common/trace"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

const (
	// DefaultSchedulerInterval is how often the scheduler scans for
	// conversations that have gone quiet.
	DefaultSchedulerInterval = 300 * time.Second

	// DefaultSchedulerBackoff is how long the loop pauses after an
	// unexpected loop-level failure before trying again.
	DefaultSchedulerBackoff = 60 * time.Second
)

// EligibilitySource lists conversations ready for archival: active or
// in-progress, quiet past the window, and not yet summarized.
type EligibilitySource interface {
	EligibleForArchival(ctx context.Context, now time.Time, window time.Duration) ([]store.Conversation, error)
}

// ConversationProcessor handles one eligible conversation. The scheduler
// treats any returned error as a counted per-conversation failure.
type ConversationProcessor interface {
	SummarizeConversation(ctx context.Context, conv store.Conversation) error
}

// SchedulerConfig configures the lifecycle loop.
type SchedulerConfig struct {
	// Interval between eligibility scans. Zero means DefaultSchedulerInterval.
	Interval time.Duration
	// Window is the inactivity window. Zero means DefaultInactivityWindow.
	Window time.Duration
	// Backoff after a loop-level failure. Zero means DefaultSchedulerBackoff.
	Backoff time.Duration
}

// TickStats reports one scan's outcome.
type TickStats struct {
	Eligible  int
	Succeeded int
	Failed    int
}

// Scheduler is the long-lived background loop that notices finished
// conversations and feeds them through the summarization pipeline. Each
// conversation is processed independently: one failure is counted and
// logged, and never aborts the batch or the loop.
type Scheduler struct {
	registry EligibilitySource
	pipeline ConversationProcessor
	cfg      SchedulerConfig
	logger   *slog.Logger

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewScheduler creates a Scheduler. If logger is nil, the default slog
// logger is used.
func NewScheduler(registry EligibilitySource, pipeline ConversationProcessor, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultInactivityWindow
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultSchedulerBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{registry: registry, pipeline: pipeline, cfg: cfg, logger: logger.With("component", "scheduler")}
}

// Run starts the loop and blocks until ctx is cancelled or Stop is called.
// Shutdown is cooperative: in-flight per-conversation work finishes or is
// abandoned at the next conversation boundary; nothing is left
// half-committed. Call this in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.stopMu.Lock()
	s.stopCh = make(chan struct{})
	s.stopMu.Unlock()

	s.logger.Info("starting lifecycle scheduler",
		"interval", s.cfg.Interval.String(),
		"inactivity_window", s.cfg.Window.String(),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// The first scan runs immediately; the ticker paces the rest.
	s.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", "context cancelled")
			return
		case <-s.stopCh:
			s.logger.Info("scheduler stopping", "reason", "stop requested")
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// Stop signals the loop to exit. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stopCh != nil {
		select {
		case <-s.stopCh:
		default:
			close(s.stopCh)
		}
	}
}

// runTick wraps Tick with loop-level failure isolation: a failed eligibility
// scan is logged and followed by a backoff pause instead of killing the
// process.
func (s *Scheduler) runTick(ctx context.Context) {
	tickCtx := trace.WithTraceID(ctx, trace.GenerateID())
	if _, err := s.Tick(tickCtx, time.Now()); err != nil {
		s.logger.Error("scheduler tick failed, backing off",
			"trace_id", trace.FromContext(tickCtx),
			"backoff", s.cfg.Backoff.String(),
			"err", err,
		)
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.Backoff):
		}
	}
}

// Tick runs a single scan-and-process pass. Exported so operators can
// trigger one on demand.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickStats, error) {
	traceID := trace.FromContext(ctx)

	eligible, err := s.registry.EligibleForArchival(ctx, now, s.cfg.Window)
	if err != nil {
		return TickStats{}, err
	}

	stats := TickStats{Eligible: len(eligible)}
	if len(eligible) == 0 {
		// Steady state: nothing has gone quiet since the last scan.
		s.logger.Debug("no conversations eligible for archival", "trace_id", traceID)
		return stats, nil
	}

	s.logger.Info("archival cycle starting",
		"trace_id", traceID,
		"eligible", len(eligible),
	)

	for _, conv := range eligible {
		if ctx.Err() != nil {
			s.logger.Info("archival cycle interrupted by shutdown",
				"trace_id", traceID,
				"processed", stats.Succeeded+stats.Failed,
				"remaining", stats.Eligible-stats.Succeeded-stats.Failed,
			)
			return stats, nil
		}

		if err := s.pipeline.SummarizeConversation(ctx, conv); err != nil {
			stats.Failed++
			s.logger.Warn("conversation processing failed, will retry next tick",
				"trace_id", traceID,
				"conversation_id", conv.ID,
				"err", err,
			)
			continue
		}
		stats.Succeeded++
	}

	s.logger.Info("archival cycle complete",
		"trace_id", traceID,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
	return stats, nil
}
