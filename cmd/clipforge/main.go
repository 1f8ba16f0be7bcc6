package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/xvanov/clipforge-sub000/internal/api"
	"github.com/xvanov/clipforge-sub000/internal/config"
	"github.com/xvanov/clipforge-sub000/internal/db"
	"github.com/xvanov/clipforge-sub000/internal/download"
	"github.com/xvanov/clipforge-sub000/internal/encoder"
	"github.com/xvanov/clipforge-sub000/internal/export"
	"github.com/xvanov/clipforge-sub000/internal/jobs"
	"github.com/xvanov/clipforge-sub000/internal/logging"
	"github.com/xvanov/clipforge-sub000/internal/media"
	"github.com/xvanov/clipforge-sub000/internal/notify"
	"github.com/xvanov/clipforge-sub000/internal/project"
	"github.com/xvanov/clipforge-sub000/internal/timeline"
	"github.com/xvanov/clipforge-sub000/internal/ui"
)

var Version = api.Version

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ExportsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create exports dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipforge", "version", Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	ctx := context.Background()

	deviceID, err := ensureSecret(ctx, database, db.ConfigDeviceID, 16)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}
	authToken, err := ensureSecret(ctx, database, db.ConfigAuthToken, 32)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	mediaSvc := media.NewService(media.NewRepository(database.Conn()), logger)

	store := project.NewStore(cfg.ProjectPath(), logger)
	tl, err := store.Open(ctx, mediaSvc,
		timeline.WithPlacementGap(cfg.PlacementGap()),
		timeline.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to open project %s: %w", logging.SanitizePath(store.Path()), err)
	}

	probe := encoder.NewCachedProbe(encoder.FFmpegProber{Path: cfg.FFmpegPath()}, cfg.ProbeTTL(), logger)
	probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
	if caps, err := probe.Refresh(probeCtx); err != nil {
		logger.Warn("encoder probe failed, hardware encoders disabled until next probe", "error", err)
	} else {
		logger.Info("encoder capabilities detected", "encoders", len(caps.Encoders))
	}
	probeCancel()

	var notifier jobs.Notifier
	if url := cfg.WebhookURL(); url != "" {
		notifier = notify.NewWebhook(url, deviceID, logger)
		logger.Info("export webhook enabled")
	}

	manager := jobs.NewManager(jobs.ManagerConfig{
		Timeline: tl,
		Media:    mediaSvc,
		Compiler: export.NewCompiler(cfg.FFmpegPath()),
		Runner:   encoder.NewRunner(cfg.StallTimeout(), logger),
		Probe:    probe,
		Repo:     jobs.NewRepository(database.Conn()),
		Bus:      jobs.NewBus(logger),
		Notifier: notifier,
		Logger:   logger,
	})

	apiServer := api.NewServer(api.ServerConfig{
		Port:            cfg.Port(),
		Timeline:        tl,
		Media:           mediaSvc,
		Jobs:            manager,
		Project:         store,
		Downloads:       download.NewServer(logger),
		Auth:            database,
		ExportRateLimit: cfg.ExportRateLimit(),
		Logger:          logger,
		StartTime:       startTime,
		DeviceID:        deviceID,
	})

	printBanner(cfg.Port(), authToken, deviceID)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
		<-quitCh
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Exports: manager,
			Logger:  logger,
			OnQuit:  quit,
		})
		go func() {
			<-quitCh
			tray.Quit()
		}()
		tray.Run()
		quit()
	}

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var errs []error
	// stopping the export first ends any open event streams
	if err := manager.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop export: %w", err))
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown HTTP server: %w", err))
	}
	if doc, err := store.Save(tl); err != nil {
		errs = append(errs, fmt.Errorf("save project: %w", err))
	} else {
		logger.Info("project saved", "path", logging.SanitizePath(store.Path()), "timeline_version", doc.TimelineVersion)
	}

	for _, err := range errs {
		logger.Error("shutdown step failed", "error", err)
	}
	logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// ensureSecret returns the stored value for key, generating and storing a
// random hex string of n bytes on first run.
func ensureSecret(ctx context.Context, database *db.DB, key string, n int) (string, error) {
	existing, err := database.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := hex.EncodeToString(buf)

	if err := database.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}

func printBanner(port int, authToken, deviceID string) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                    CLIPFORGE v%-28s║\n", Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", port)
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
}
