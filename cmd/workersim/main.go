// workersim runs simulated workers against a coordinator's WebSocket gateway.
// Usage: go run ./cmd/workersim --url ws://localhost:9090/ws/ --workers 4
//
// Each worker registers, then answers every Tick with a Results report and a
// TickEnd for the same tick.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/transport/wsgateway"
	"github.com/rickgao/sim-coordinator/internal/version"
)

func main() {
	baseURL := flag.String("url", "ws://localhost:9090/ws/", "gateway base URL")
	workers := flag.Int("workers", 4, "number of simulated workers")
	agents := flag.Int("agents", 100, "agents simulated per worker")
	tickDelay := flag.Duration("tick-delay", 50*time.Millisecond, "simulated work per tick")
	verbose := flag.Bool("verbose", false, "log every message")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	logger.Info("starting worker simulator", append(version.LogAttrs(), "workers", *workers, "url", *baseURL)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		w := newSimWorker(model.NewWorkerID(), *agents, *tickDelay)
		g.Go(func() error {
			return runWorker(gctx, *baseURL, w, logger.With("worker_id", w.id))
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// runWorker connects one worker and serves it until ctx ends or the gateway drops it.
func runWorker(ctx context.Context, baseURL string, w *simWorker, logger *slog.Logger) error {
	cfg := wsgateway.DefaultClientConfig()
	cfg.URL = wsgateway.WorkerURL(baseURL, w.id)

	client := wsgateway.NewClient(cfg, logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	if err := client.SendMessage(w.registration()); err != nil {
		return err
	}
	logger.Info("registered")

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-client.Errors():
			return err

		case env := <-client.Messages():
			msg, err := model.Decode(env)
			if err != nil {
				logger.Warn("undecodable message", "error", err)
				continue
			}
			logger.Debug("received", "type", msg.Type)

			replies, err := w.handle(ctx, msg)
			if err != nil {
				logger.Warn("failed to handle message", "type", msg.Type, "error", err)
				continue
			}
			for _, reply := range replies {
				if err := client.SendMessage(reply); err != nil {
					return err
				}
			}
		}
	}
}
