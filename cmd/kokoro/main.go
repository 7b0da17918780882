package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/bdobrica/Kokoro/common/environment"
	"github.com/bdobrica/Kokoro/common/version"
	"github.com/bdobrica/Kokoro/internal/kokoro/app"
	"github.com/bdobrica/Kokoro/internal/kokoro/memory"
)

func main() {
	fmt.Printf("Kokoro Conversation Engine\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	setupLogging()

	apiKey, err := environment.RequiredString("OPENAI_API_KEY")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	config := app.Config{
		DatabasePath:          environment.StringOr("DATABASE_PATH", "./kokoro.db"),
		APIKey:                apiKey,
		PersonaPath:           environment.StringOr("KOKORO_PERSONA", ""),
		SummarizationInterval: environment.DurationOr("KOKORO_SUMMARIZATION_INTERVAL", memory.DefaultSchedulerInterval),
		InactivityWindow:      environment.DurationOr("KOKORO_INACTIVITY_WINDOW", memory.DefaultInactivityWindow),
	}

	kokoro, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Kokoro: %v\n", err)
		os.Exit(1)
	}
	defer kokoro.Stop()

	if err := kokoro.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Kokoro: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging configures the process-wide slog default from LOG_LEVEL.
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(environment.StringOr("LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
