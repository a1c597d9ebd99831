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

	"github.com/urfave/cli/v2"

	"github.com/dj-oyu/ppe-monitor/internal/config"
	"github.com/dj-oyu/ppe-monitor/internal/connection"
	"github.com/dj-oyu/ppe-monitor/internal/fps"
	"github.com/dj-oyu/ppe-monitor/internal/health"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
	"github.com/dj-oyu/ppe-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-monitor/internal/overlay"
	"github.com/dj-oyu/ppe-monitor/internal/webmonitor"
)

const shutdownTimeout = 5 * time.Second

func main() {
	app := &cli.App{
		Name:  "ppe_monitor",
		Usage: "Render live PPE detections as an overlay stream",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file", EnvVars: []string{"PPE_CONFIG"}},
			&cli.StringFlag{Name: "http", Usage: "HTTP server address"},
			&cli.StringFlag{Name: "ws", Usage: "Detection stream websocket URL"},
			&cli.StringFlag{Name: "health-url", Usage: "Backend health endpoint"},
			&cli.Float64Flag{Name: "min-confidence", Usage: "Minimum headgear confidence (0-1)"},
			&cli.IntFlag{Name: "fps", Usage: "Target overlay render rate"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level (debug, info, warn, error, silent)"},
			&cli.BoolFlag{Name: "log-color", Usage: "Enable colored log output"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("ppe_monitor: %v", err)
	}
}

// loadConfig layers command-line flags over the file and environment.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("http") {
		cfg.Monitor.Addr = c.String("http")
	}
	if c.IsSet("ws") {
		cfg.Connection.URL = c.String("ws")
	}
	if c.IsSet("health-url") {
		cfg.Health.URL = c.String("health-url")
	}
	if c.IsSet("min-confidence") {
		cfg.Processor.MinConfidence = c.Float64("min-confidence")
	}
	if c.IsSet("fps") {
		cfg.Monitor.RenderFPS = c.Int("fps")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-color") {
		cfg.Log.Color = c.Bool("log-color")
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)
	defer logger.Sync()

	colors, err := cfg.ColorMap()
	if err != nil {
		return err
	}

	mt := metrics.New()
	proc := cfg.NewProcessor()
	renderer := overlay.NewRenderer(cfg.OverlayConfig(), overlay.WithColors(colors))

	conn := connection.NewManager(cfg.Connection,
		connection.WithProcessor(proc),
		connection.WithMetrics(mt))
	hm := health.NewMonitor(cfg.HealthConfig())
	server := webmonitor.NewServer(cfg.Monitor, conn, hm, proc,
		webmonitor.WithRenderer(renderer),
		webmonitor.WithTracker(fps.NewTracker(cfg.FPS.Window)),
		webmonitor.WithMetrics(mt))

	logger.Info("Main", "PPE monitor starting...")
	logger.Info("Main", "Log level: %s", level)
	logger.Info("Main", "Detection stream: %s (retries=%d, delay=%v)",
		cfg.Connection.URL, cfg.Connection.MaxRetries, cfg.Connection.RetryDelay)
	logger.Info("Main", "Health endpoint: %s (every %v)", cfg.Health.URL, cfg.Health.Interval)

	hm.Start()
	defer func() {
		hm.Stop()
		hm.Wait()
	}()
	server.Start()
	defer server.Stop()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The reconnect policy keeps trying in the background after a failed first dial.
	if err := conn.Connect(ctx); err != nil {
		logger.Warn("Main", "Initial connection failed: %v", err)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			logger.Warn("Main", "Disconnect: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.Monitor.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Main", "Web monitor listening on %s", cfg.Monitor.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Main", "Shutting down...")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// Stop the broadcasters first so streaming handlers return.
	server.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
	return nil
}
