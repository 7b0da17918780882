// Package app wires the Kokoro engine together: the store, the generation
// client, the chat service, the lifecycle scheduler, and the janitor.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bdobrica/Kokoro/internal/kokoro/chat"
	"github.com/bdobrica/Kokoro/internal/kokoro/genai"
	"github.com/bdobrica/Kokoro/internal/kokoro/janitor"
	"github.com/bdobrica/Kokoro/internal/kokoro/memory"
	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

// Config holds application configuration.
type Config struct {
	// DatabasePath is the sqlite database file.
	DatabasePath string

	// APIKey authenticates against the generation backend.
	APIKey string

	// PersonaPath is the persona YAML file. Empty loads the built-in default.
	PersonaPath string

	// SummarizationInterval is how often the scheduler scans for quiet
	// conversations. Zero uses the built-in default (5 minutes).
	SummarizationInterval time.Duration

	// InactivityWindow is how long a conversation must stay quiet before it
	// becomes eligible for archival. Zero uses the built-in default (15
	// minutes).
	InactivityWindow time.Duration
}

// App is the assembled Kokoro engine.
type App struct {
	config    Config
	spec      *persona.Spec
	store     *store.Store
	chat      *chat.Service
	detector  *memory.Detector
	scheduler *memory.Scheduler
	janitor   *janitor.Janitor
	logger    *slog.Logger
}

// New assembles an App from configuration. The database is opened and
// migrated here; everything else is wiring.
func New(config Config) (*App, error) {
	logger := slog.Default()

	spec, err := persona.Load(config.PersonaPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(config.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	client := genai.NewClient(config.APIKey, spec, logger)
	contexts := memory.NewContextBuilder(st, memory.ContextBuilderConfig{})
	chatSvc := chat.NewService(st, client, contexts, logger)
	pipeline := memory.NewPipeline(st, contexts, client, logger)
	scheduler := memory.NewScheduler(st, pipeline, memory.SchedulerConfig{
		Interval: config.SummarizationInterval,
		Window:   config.InactivityWindow,
	}, logger)
	jan := janitor.New(st, janitor.Config{
		RetentionDays: spec.Retention.TranscriptDays,
		Schedule:      spec.Retention.Schedule,
	}, logger)

	return &App{
		config:    config,
		spec:      spec,
		store:     st,
		chat:      chatSvc,
		detector:  memory.NewDetector(st, st, config.InactivityWindow),
		scheduler: scheduler,
		janitor:   jan,
		logger:    logger,
	}, nil
}

// Chat returns the request-path service, for embedding the engine behind a
// transport layer.
func (a *App) Chat() *chat.Service {
	return a.chat
}

// Store returns the underlying store.
func (a *App) Store() *store.Store {
	return a.store
}

// Inactivity returns the read-only inactivity detector, for transport-layer
// status endpoints.
func (a *App) Inactivity() *memory.Detector {
	return a.detector
}

// Run starts the background loops and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.janitor.Start(ctx); err != nil {
		return err
	}

	a.logger.Info("kokoro engine running",
		"persona", a.spec.Metadata.Name,
		"model", a.spec.Backend.Model,
	)
	a.scheduler.Run(ctx)
	return nil
}

// Stop shuts down the background loops and closes the database.
func (a *App) Stop() {
	a.scheduler.Stop()
	a.janitor.Stop()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "err", err)
	}
}
