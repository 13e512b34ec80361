// Package cmd provides the CLI commands for introbot.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - ingest: load question/answer CSV files into the knowledge store
//   - ask: answer a single question from the terminal
//   - hash-password: generate basic auth credentials for config.yaml
//
// Signal handling and graceful shutdown are implemented for long-running
// commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/futuresys/introbot/internal/config"
	"github.com/futuresys/introbot/internal/log"
)

// Execute is the main entry point for the introbot CLI application.
func Execute() error {
	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "ingest":
		return runIngest()
	case "ask":
		return runAsk()
	case "hash-password":
		return runHashPassword()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// loadConfig loads the configuration and installs the configured logger as
// the process default. Every command goes through here so log output is
// consistent.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("introbot - grounded question answering about your company")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  introbot serve [addr]        Start the HTTP API server")
	fmt.Println("  introbot ingest <file.csv>   Load Q&A passages into the knowledge store")
	fmt.Println("  introbot ask <question>      Answer a single question in the terminal")
	fmt.Println("  introbot hash-password       Generate basic auth credentials")
	fmt.Println("  introbot --version           Show version information")
	fmt.Println("  introbot --help              Show this help")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  Read from ~/.introbot/config.yaml or ./config.yaml.")
	fmt.Println("  INTROBOT_* environment variables override file values;")
	fmt.Println("  DATABASE_URL overrides the postgres_* settings.")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY     Required when provider is googleai")
	fmt.Println("  OPENAI_API_KEY     Required when provider is openai")
}
