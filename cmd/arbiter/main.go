// Command arbiter runs LLM experiment measurements: it loads a resolved
// config, plans a trial set, executes it against either the deterministic
// mock backend or live OpenRouter-backed providers, and writes the run's
// artifacts to disk.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arbiterlab/arbiter/internal/backend"
	"github.com/arbiterlab/arbiter/internal/backendhttp"
	"github.com/arbiterlab/arbiter/internal/config"
	"github.com/arbiterlab/arbiter/internal/mockbackend"
	"github.com/arbiterlab/arbiter/internal/orchestrator"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  arbiter run --config <path> [--mode mock|live] [--out <runs_dir>] [--workers N] [--batch-size N] [--max-trials N]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "run":
		run(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func run(args []string) {
	var configPath, mode, out string
	var workers, batchSize, maxTrials int
	mode = "mock"

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--mode":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--mode requires a value")
				os.Exit(1)
			}
			mode = args[i]
		case "--out":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--out requires a value")
				os.Exit(1)
			}
			out = args[i]
		case "--workers":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--workers requires a value")
				os.Exit(1)
			}
			if _, err := fmt.Sscanf(args[i], "%d", &workers); err != nil {
				fmt.Fprintf(os.Stderr, "--workers: %s\n", err)
				os.Exit(1)
			}
		case "--batch-size":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--batch-size requires a value")
				os.Exit(1)
			}
			if _, err := fmt.Sscanf(args[i], "%d", &batchSize); err != nil {
				fmt.Fprintf(os.Stderr, "--batch-size: %s\n", err)
				os.Exit(1)
			}
		case "--max-trials":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--max-trials requires a value")
				os.Exit(1)
			}
			if _, err := fmt.Sscanf(args[i], "%d", &maxTrials); err != nil {
				fmt.Fprintf(os.Stderr, "--max-trials: %s\n", err)
				os.Exit(1)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	if configPath == "" {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if out != "" {
		cfg.Output.RunsDir = out
	}
	if workers > 0 {
		cfg.Execution.Workers = workers
	}
	if batchSize > 0 {
		cfg.Execution.BatchSize = batchSize
	}
	if maxTrials > 0 {
		cfg.Execution.KMax = maxTrials
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	bk, err := buildBackend(mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, interrupted, cleanup := interruptibleContext()
	defer cleanup()

	logger := log.New(os.Stderr, "[arbiter] ", log.LstdFlags)
	res, err := orchestrator.Run(ctx, interrupted, cfg, bk, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("run_id=%s\n", res.RunID)
	fmt.Printf("logs_root=%s\n", res.Dir)
	fmt.Printf("stop_reason=%s\n", res.Manifest.StopReason)
	fmt.Printf("k_attempted=%d\n", res.Manifest.KAttempted)
	fmt.Printf("k_eligible=%d\n", res.Manifest.KEligible)
	for _, w := range res.Manifest.Warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}

	os.Exit(0)
}

func buildBackend(mode string) (backend.Backend, error) {
	switch mode {
	case "", "mock":
		return mockbackend.New(), nil
	case "live":
		apiKey := os.Getenv("OPENROUTER_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("arbiter: OPENROUTER_API_KEY is required in live mode")
		}
		adapter := backendhttp.NewOpenAI("openrouter", apiKey, "https://openrouter.ai/api")
		client := backendhttp.NewClient()
		client.RegisterChat(adapter)
		client.SetEmbedAdapter(adapter)
		return client, nil
	default:
		return nil, fmt.Errorf("arbiter: unknown --mode %q (want mock|live)", mode)
	}
}

// interruptibleContext composes the two-bit cancellation signal spec.md
// §5 describes. interrupted is closed the instant the first SIGINT or
// SIGTERM arrives, so the orchestrator's ShouldStop oracle reacts before
// enqueueing further trials. ctx itself is only canceled once
// orchestrator.GraceWindow has elapsed since that first signal, or a
// second signal arrives, at which point inflight backend calls are
// force-aborted.
//
// Grounded on the teacher's signalCancelContext (cmd/kilroy/main.go),
// extended with the grace-window escalation that teacher has no need
// for, since kilroy's CLI runs have no analogous in-flight-trial
// drain period.
func interruptibleContext() (context.Context, <-chan struct{}, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	interrupted := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		var graceTimer *time.Timer
		var graceC <-chan time.Time
		for {
			select {
			case <-sigCh:
				select {
				case <-interrupted:
					cancel()
				default:
					close(interrupted)
					graceTimer = time.NewTimer(orchestrator.GraceWindow)
					graceC = graceTimer.C
				}
			case <-graceC:
				cancel()
				graceC = nil
			case <-stopCh:
				if graceTimer != nil {
					graceTimer.Stop()
				}
				return
			}
		}
	}()

	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel()
	}
	return ctx, interrupted, cleanup
}
