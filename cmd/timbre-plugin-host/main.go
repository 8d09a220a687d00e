package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/timbrevoice/timbre/pkg/config"
	"github.com/timbrevoice/timbre/pkg/observability"
	"github.com/timbrevoice/timbre/pkg/plugins"
	"github.com/timbrevoice/timbre/pkg/procsnap"
)

// hostVersion is the client version announced to plugins.
var hostVersion = plugins.Version{Major: 1, Minor: 5, Patch: 0}

var (
	systemDir    = flag.String("system-plugin-dir", "", "System plugin directory (overrides TIMBRE_SYSTEM_PLUGIN_DIR)")
	userDir      = flag.String("user-plugin-dir", "", "User plugin directory (overrides TIMBRE_USER_PLUGIN_DIR)")
	pollInterval = flag.Duration("poll-interval", 0, "Positional-data poll interval (overrides TIMBRE_POSITIONAL_POLL_INTERVAL)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *systemDir != "" {
		cfg.Plugins.SystemDir = *systemDir
	}
	if *userDir != "" {
		cfg.Plugins.UserDir = *userDir
	}
	if *pollInterval > 0 {
		cfg.Plugins.PositionalPollInterval = *pollInterval
	}

	log := logrus.New()
	log.SetLevel(logrusLevel(cfg.Observability.LogLevel))

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	processes := procsnap.NewCachingResolver(procsnap.NewSystemResolver(), cfg.Plugins.ProcessCacheTTL)

	manager, err := plugins.NewManager(plugins.ManagerOptions{
		SystemDir:    cfg.Plugins.SystemDir,
		UserDir:      cfg.Plugins.UserDir,
		HostVersion:  hostVersion,
		Processes:    processes,
		PollInterval: cfg.Plugins.PositionalPollInterval,
		Logger:       log,
		Metrics:      metrics,
	})
	if err != nil {
		log.Fatalf("Failed to create plugin manager: %v", err)
	}

	manager.RescanPlugins()
	manager.LoadAllPlugins()
	log.Infof("Plugin host running with %d plugins", manager.Count())

	if err := manager.StartPolling(); err != nil {
		log.Fatalf("Failed to start positional polling: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refresh := func() {
		manager.RescanPlugins()
		manager.LoadAllPlugins()
		processes.Invalidate()
	}
	if cfg.Plugins.WatchDirs {
		if err := manager.Watch(ctx, refresh); err != nil {
			log.WithError(err).Warn("Plugin directory watching disabled")
		}
	}

	var metricsServer *http.Server
	group, groupCtx := errgroup.WithContext(ctx)
	if cfg.Observability.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler(registry))
		metricsServer = &http.Server{
			Addr:    ":" + cfg.Observability.MetricsPort,
			Handler: mux,
		}
		group.Go(func() error {
			log.Infof("Metrics listening on :%s/metrics", cfg.Observability.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			return nil
		})
	}

	obsLog := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)
	shutdown := observability.NewShutdownManager(obsLog, metricsServer, 30*time.Second)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return manager.Close()
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		log.WithError(err).Error("Shutdown reported errors")
	}
	cancel()
	if err := group.Wait(); err != nil {
		log.WithError(err).Error("Metrics server error")
	}
}

// logrusLevel maps the configured log level onto logrus.
func logrusLevel(level observability.LogLevel) logrus.Level {
	switch level {
	case observability.DebugLevel:
		return logrus.DebugLevel
	case observability.WarnLevel:
		return logrus.WarnLevel
	case observability.ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
