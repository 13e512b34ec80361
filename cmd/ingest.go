package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/futuresys/introbot/internal/app"
	"github.com/futuresys/introbot/internal/ingest"
)

// runIngest loads a question/answer CSV file into the knowledge store.
func runIngest() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: introbot ingest <file.csv>")
	}
	path := os.Args[2]

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	result, err := ingest.New(a.Knowledge, logger).Run(ctx, path)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}

	fmt.Printf("Ingested %s in %s\n", path, result.Duration.Round(time.Millisecond))
	fmt.Printf("  added:   %d\n", result.Added)
	fmt.Printf("  skipped: %d\n", result.Skipped)
	fmt.Printf("  failed:  %d\n", result.Failed)

	if result.Failed > 0 {
		return fmt.Errorf("%d rows failed, see log for details", result.Failed)
	}
	return nil
}
