package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/cachekit"
	"github.com/wudi/cachekit/internal/broadcast"
	"github.com/wudi/cachekit/internal/config"
	"github.com/wudi/cachekit/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/cachekit.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cachekitd %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.NewWithOptions(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting cache engine",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Int("store_shards", cfg.Store.Shards),
		zap.Bool("broadcast", cfg.Broadcast.Enabled),
	)

	opts := []cachekit.Option{cachekit.WithLogger(logger)}
	if cfg.Broadcast.Enabled {
		opts = append(opts, cachekit.WithBroadcaster(broadcast.NewRedis(broadcast.Options{
			Addr:     cfg.Broadcast.RedisAddr,
			Password: cfg.Broadcast.Password,
			DB:       cfg.Broadcast.DB,
			Channel:  cfg.Broadcast.Channel,
		})))
	}

	manager, err := cachekit.New(cfg, opts...)
	if err != nil {
		logging.Error("Failed to create cache engine", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		logging.Error("Failed to start cache engine", zap.Error(err))
		os.Exit(1)
	}

	// Config hot reload: tunables apply in place, everything else needs a
	// restart.
	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		logging.Warn("Config watcher unavailable", zap.Error(err))
	} else {
		watcher.OnChange(func(updated *config.Config) {
			manager.ApplyTunables(updated)
		})
		if err := watcher.Start(); err != nil {
			logging.Warn("Config watcher failed to start", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	var admin *http.Server
	if cfg.Admin.Enabled {
		admin = adminServer(cfg.Admin.Addr, manager)
		go func() {
			logging.Info("Admin listener started", zap.String("addr", cfg.Admin.Addr))
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("Admin listener error", zap.Error(err))
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Info("Shutting down")
	if admin != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Admin shutdown error", zap.Error(err))
		}
	}
	manager.Stop()
}

// adminServer exposes metrics, aggregate stats, and a health probe.
func adminServer(addr string, manager *cachekit.Manager) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", manager.MetricsHandler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, manager.Stats())
	})
	mux.HandleFunc("/gc", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, manager.GCStats())
	})
	mux.HandleFunc("/consistency", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, manager.ForceConsistencyCheck())
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, manager.EventHistory(100))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Admin response encode failed", zap.Error(err))
	}
}
