package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/sim-coordinator/internal/config"
	"github.com/rickgao/sim-coordinator/internal/coordinator"
	"github.com/rickgao/sim-coordinator/internal/database"
	"github.com/rickgao/sim-coordinator/internal/dispatcher"
	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/registry"
	"github.com/rickgao/sim-coordinator/internal/transport"
	"github.com/rickgao/sim-coordinator/internal/transport/pgqueue"
	"github.com/rickgao/sim-coordinator/internal/transport/wsgateway"
	"github.com/rickgao/sim-coordinator/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/coordinator.example.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging; the level follows config reloads.
	level := new(slog.LevelVar)
	lvl, _ := cfg.Log.SlogLevel()
	level.Set(lvl)
	logger := newLogger(cfg.Log, level)
	slog.SetDefault(logger)

	logger.Info("starting coordinator", append(version.LogAttrs(), "config", *configPath)...)

	nodeID, err := cfg.Instance.NodeWorkerID()
	if err != nil {
		logger.Error("invalid node id", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"node_id", nodeID,
		"transport", cfg.Transport.Kind,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	tp, err := openTransport(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open transport", "error", err)
		os.Exit(1)
	}
	defer tp.cleanup()

	coordCfg := coordinator.Config{
		NodeID: nodeID,
		Dispatcher: dispatcher.Config{
			ReceiveTimeout: cfg.Dispatcher.ReceiveTimeout,
			ErrorBackoff:   cfg.Dispatcher.ErrorBackoff,
		},
		Simulation: coordinator.SimulationConfig{
			MinWorkers: cfg.Simulation.MinWorkers,
			MaxTicks:   cfg.Simulation.MaxTicks,
		},
	}
	coord, err := coordinator.New(coordCfg, tp.transport, logger)
	if err != nil {
		logger.Error("failed to create coordinator", "error", err)
		os.Exit(1)
	}

	// A worker whose connection drops no longer holds up the current tick.
	if gw, ok := tp.transport.(*wsgateway.Gateway); ok {
		gw.OnDisconnect(func(id model.WorkerID) {
			deregisterWorker(ctx, coord, id, logger)
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	// Inbound pump
	g.Go(func() error {
		err := coord.Run(gctx)
		if errors.Is(err, transport.ErrTransportClosed) && gctx.Err() != nil {
			return nil
		}
		return err
	})

	// Transport listener (websocket only)
	if tp.serve != nil {
		g.Go(func() error { return tp.serve(gctx) })
	}

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(coord, tp.ping, logger),
	}
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	// Log level hot reload
	g.Go(func() error {
		err := config.Watch(gctx, *configPath, logger, func(next *config.CoordinatorConfig) {
			lvl, err := next.Log.SlogLevel()
			if err != nil {
				return
			}
			if lvl != level.Level() {
				logger.Info("log level changed", "from", level.Level(), "to", lvl)
				level.Set(lvl)
			}
		})
		if err != nil {
			logger.Warn("config reload disabled", "error", err)
		}
		return nil
	})

	// Simulation progress
	g.Go(func() error {
		select {
		case <-coord.Driver().Done():
			stats := coord.Stats()
			logger.Info("simulation complete",
				"ticks", stats.Ticks.Tick,
				"workers", stats.Workers,
				"results", stats.Ticks.Results,
			)
		case <-gctx.Done():
		}
		return nil
	})

	logger.Info("coordinator running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	if err := g.Wait(); err != nil {
		logger.Error("coordinator stopped with error", "error", err)
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if cfg.Queue.DrainOnExit {
		if n, err := coord.Drain(shutdownCtx); err != nil {
			logger.Warn("failed to drain inbound queue", "error", err)
		} else {
			logger.Info("inbound queue drained", "discarded", n)
		}
	}
	if err := coord.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close transport", "error", err)
	}

	logger.Info("coordinator stopped", "stats", coord.Stats())
}

func newLogger(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openedTransport is a transport plus what main needs to run and release it.
type openedTransport struct {
	transport transport.Transport
	serve     func(ctx context.Context) error // Blocking listener, if any
	ping      func(ctx context.Context) error // Backing store health, if any
	cleanup   func()
}

func openTransport(ctx context.Context, cfg *config.CoordinatorConfig, logger *slog.Logger) (*openedTransport, error) {
	switch cfg.Transport.Kind {
	case config.TransportPostgres:
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}

		tr := pgqueue.New(pgqueue.Config{
			Inbound:      cfg.Queue.Inbound,
			PollInterval: cfg.Queue.PollInterval,
		}, pool, logger.With("component", "pgqueue"))
		if err := tr.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("database connected", "inbound_queue", cfg.Queue.Inbound)

		return &openedTransport{
			transport: tr,
			ping:      pool.Ping,
			cleanup:   pool.Close,
		}, nil

	case config.TransportWebSocket:
		gw := wsgateway.New(wsgateway.Config{
			ListenAddr:        cfg.WebSocket.ListenAddr,
			Path:              cfg.WebSocket.Path,
			WriteTimeout:      cfg.WebSocket.WriteTimeout,
			PingInterval:      cfg.WebSocket.PingInterval,
			PongTimeout:       cfg.WebSocket.PongTimeout,
			ReadLimit:         cfg.WebSocket.ReadLimit,
			InboundBufferSize: wsgateway.DefaultConfig().InboundBufferSize,
		}, logger.With("component", "wsgateway"))

		return &openedTransport{
			transport: gw,
			serve:     gw.ListenAndServe,
			cleanup:   func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported transport kind %q", cfg.Transport.Kind)
	}
}

// deregisterWorker removes id from the coordinator. Workers that never
// registered are ignored.
func deregisterWorker(ctx context.Context, coord *coordinator.Coordinator, id model.WorkerID, logger *slog.Logger) error {
	err := coord.Deregister(ctx, id)
	switch {
	case err == nil:
		logger.Info("worker deregistered", "worker_id", id, "workers", coord.Registry().Count())
	case errors.Is(err, registry.ErrNotFound):
		logger.Debug("disconnected worker was not registered", "worker_id", id)
	default:
		logger.Warn("failed to deregister worker", "worker_id", id, "error", err)
	}
	return err
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(coord *coordinator.Coordinator, ping func(context.Context) error, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if ping != nil {
			if err := ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		if !coord.Dispatcher().Running() {
			health.Status = "unhealthy"
		}
		stats := coord.Stats()
		health.Components["dispatcher"] = map[string]any{
			"running":  coord.Dispatcher().Running(),
			"received": stats.Dispatcher.Received,
		}
		health.Components["registry"] = map[string]any{
			"workers": stats.Workers,
		}
		health.Components["simulation"] = map[string]any{
			"phase":   stats.Ticks.Phase.String(),
			"tick":    stats.Ticks.Tick,
			"pending": stats.Ticks.Pending,
		}
		if stats.Workers == 0 && health.Status == "healthy" {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("failed to write health response", "error", err)
		}
	})

	mux.HandleFunc("/debug/workers", func(w http.ResponseWriter, r *http.Request) {
		workers := coord.Registry().Enumerate()

		type workerView struct {
			ID           string    `json:"id"`
			Channel      string    `json:"channel"`
			RegisteredAt time.Time `json:"registered_at"`
		}
		views := make([]workerView, 0, len(workers))
		for _, wk := range workers {
			views = append(views, workerView{
				ID:           wk.ID.String(),
				Channel:      wk.Channel.Channel(),
				RegisteredAt: wk.RegisteredAt,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":   len(views),
			"workers": views,
		})
	})

	mux.HandleFunc("DELETE /debug/workers/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := model.ParseWorkerID(r.PathValue("id"))
		if err != nil {
			http.Error(w, "invalid worker id", http.StatusBadRequest)
			return
		}
		switch err := deregisterWorker(r.Context(), coord, id, logger); {
		case errors.Is(err, registry.ErrNotFound):
			http.Error(w, "worker not registered", http.StatusNotFound)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(coord.Stats())
	})

	return mux
}
