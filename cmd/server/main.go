package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"codesync/internal/api"
	"codesync/internal/config"
	"codesync/internal/events"
	"codesync/internal/exec"
	"codesync/internal/metrics"
	"codesync/internal/models"
	"codesync/internal/routers"
	"codesync/internal/session"
	"codesync/internal/utils"
)

var (
	listenAndServe = func(srv *http.Server) error { return srv.ListenAndServe() }
	exitFunc       = defaultExit
	exit           = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		exitFunc(err)
	}
}

func defaultExit(err error) {
	log.Printf("codesync: %v", err)
	exit(1)
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	publisher := newPublisher(ctx, cfg, logger)
	defer publisher.Close()

	hub := session.NewHub(logger,
		session.WithGracePeriod(cfg.GracePeriod),
		session.WithRoomDeleted(func(roomID string) {
			metrics.RoomReaped()
			_ = publisher.Publish(context.Background(), events.Event{Type: events.RoomDeleted, RoomID: roomID})
		}),
	)
	defer hub.Close()

	if err := metrics.RegisterRoomStats(prometheus.DefaultRegisterer, hub.Stats); err != nil {
		logger.Warn("room gauges not registered", zap.Error(err))
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	runner := exec.NewRunner(backend, exec.Options{
		Timeout:       cfg.ExecTimeout,
		MaxConcurrent: cfg.MaxConcurrentExecutions,
	}, logger)

	janitor := exec.NewJanitor(cfg.TempDir, cfg.JanitorSchedule, 2*cfg.ExecTimeout, logger)
	if err := janitor.Start(); err != nil {
		return err
	}
	defer janitor.Stop()

	handlers := api.NewHandlers(logger, hub, runner, publisher, cfg.AllowedOrigins)

	// no WriteTimeout: websocket connections are long-lived
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           routers.New(handlers, cfg.AllowedOrigins),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("codesync server starting",
			zap.String("addr", server.Addr),
			zap.String("sandbox", cfg.SandboxBackend),
			zap.Duration("execTimeout", cfg.ExecTimeout))
		errCh <- listenAndServe(server)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("codesync server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("codesync server exited")
	return nil
}

// newPublisher connects the room event feed. Without a redis address, or
// when redis is down at startup, events are still published and any failure
// is logged per event.
func newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) events.Publisher {
	if cfg.RedisAddr == "" {
		return events.Nop{}
	}
	pub := events.NewRedisPublisher(cfg.RedisAddr, cfg.RedisChannel, logger)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pub.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable, room events may be dropped",
			zap.String("addr", cfg.RedisAddr), zap.Error(err))
	} else {
		logger.Info("publishing room events", zap.String("addr", cfg.RedisAddr), zap.String("channel", cfg.RedisChannel))
	}
	return pub
}

func newBackend(cfg *config.Config) (exec.Backend, error) {
	if cfg.SandboxBackend != config.BackendDocker {
		return exec.NewLocalBackend(cfg.Toolchain, cfg.TempDir), nil
	}
	images := make(map[models.Language]string, len(cfg.Images))
	for lang, image := range cfg.Images {
		images[models.Language(lang)] = image
	}
	backend, err := exec.NewContainerBackend(exec.ContainerLimits{}, images)
	if err != nil {
		return nil, err
	}
	return backend, nil
}
