package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/futuresys/introbot/internal/app"
	"github.com/futuresys/introbot/internal/pipeline"
)

// runAsk answers a single question from the command line. With --stream,
// fragments are printed as they arrive instead of waiting for the full
// answer.
func runAsk() error {
	askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
	askFlags.SetOutput(os.Stderr)
	stream := askFlags.Bool("stream", false, "print the answer as it is generated")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := askFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ask flags: %w", err)
	}

	question := strings.TrimSpace(strings.Join(askFlags.Args(), " "))
	if question == "" {
		return fmt.Errorf("usage: introbot ask [--stream] <question>")
	}

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

	q := pipeline.Query{Question: question}

	if *stream {
		s, err := a.Pipeline.ResolveStream(ctx, q)
		if err != nil {
			return fmt.Errorf("answering question: %w", err)
		}
		defer s.Close()

		for s.Next() {
			fmt.Print(s.Text())
		}
		fmt.Println()
		if err := s.Err(); err != nil {
			return fmt.Errorf("streaming answer: %w", err)
		}
		return nil
	}

	answer, err := a.Pipeline.Resolve(ctx, q)
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}
	fmt.Println(answer)
	return nil
}
