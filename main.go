package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/aggregate"
	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
	"github.com/syukriyansyah-ipb/object-detection/internal/annotate"
	"github.com/syukriyansyah-ipb/object-detection/internal/config"
	"github.com/syukriyansyah-ipb/object-detection/internal/health"
	"github.com/syukriyansyah-ipb/object-detection/internal/hub"
	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
	"github.com/syukriyansyah-ipb/object-detection/internal/metrics"
	"github.com/syukriyansyah-ipb/object-detection/internal/service"
	"github.com/syukriyansyah-ipb/object-detection/internal/state"
	"github.com/syukriyansyah-ipb/object-detection/internal/storage"
	"github.com/syukriyansyah-ipb/object-detection/internal/video"
	"github.com/syukriyansyah-ipb/object-detection/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	bootLog, err := logger.New(logger.LogConfig{Level: "info", Format: "text", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	// Load configuration (.env and DETECT_* overrides included)
	configSvc, err := config.NewService(configPath, bootLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	cfg := configSvc.Get()

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()
	configSvc.SetLogger(log.Named("config"))

	log.Info("Starting object detection stream",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcMgr := service.NewManager(log)
	bus := svcMgr.GetEventBus()

	// Persistence
	stateMgr, err := state.NewManager(cfg.History.DatabasePath, log.Named("state"))
	if err != nil {
		log.Error("Failed to open database", "path", cfg.History.DatabasePath, "error", err)
		return 1
	}
	defer stateMgr.Close()

	if err := stateMgr.SaveSystemState(ctx, "last_started_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Warn("Failed to record start time", "error", err)
	}

	historyWriter := aggregate.NewHistoryWriter(stateMgr, aggregate.WriterConfig{
		BufferSize: cfg.History.BufferSize,
		MaxRetries: cfg.History.MaxRetries,
		RetryDelay: cfg.History.RetryDelay,
	}, log.Named("history"))
	aggregator := aggregate.NewAggregator(historyWriter, cfg.History.RecordEmpty)

	diskMonitor := storage.NewDiskMonitor(cfg.History.DatabasePath, cfg.History.Retention.MaxDiskUsage, log.Named("storage"))
	retention := storage.NewRetention(stateMgr, diskMonitor, cfg.History.Retention, log.Named("storage"))

	// Detector
	client := ai.NewClient(ai.ClientConfig{
		ServiceURL:          cfg.Detector.ServiceURL,
		Timeout:             cfg.Detector.Timeout,
		ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
		EnabledClasses:      cfg.Detector.EnabledClasses,
	}, log.Named("detector"))
	guard := ai.NewGuard(client, cfg.Detector.Timeout, ai.Filter{
		MinConfidence: cfg.Detector.ConfidenceThreshold,
		Classes:       cfg.Detector.EnabledClasses,
	}, log.Named("detector"))

	var encoder annotate.Encoder = annotate.Passthrough{}
	if cfg.Annotation.Enabled {
		encoder = annotate.NewJPEGEncoder(cfg.Annotation.JPEGQuality, cfg.Annotation.BoxThickness)
	}

	// Frame source
	opener, err := newOpener(cfg.Source, log.Named("source"))
	if err != nil {
		log.Error("Failed to set up frame source", "error", err)
		return 1
	}
	source := video.NewReconnectingSource(opener, cfg.Source.ReconnectBackoff, log.Named("source"))

	sourceChecker := health.NewSourceChecker()
	source.OnStateChange(func(st video.SourceState, attempt int, err error) {
		sourceChecker.Observe(st, attempt, err)
		publishSourceEvent(bus, st, attempt, err)
	})

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.LatencyWindow)
		registerGauges(m, historyWriter, retention, source, guard)
	}

	streamHub := hub.New(source, guard, encoder, aggregator, hub.Config{
		NonOverlap:   cfg.Stream.NonOverlap,
		WriteTimeout: cfg.Stream.WriteTimeout,
	}, m, log.Named("hub"))
	if m != nil {
		m.RegisterGauge("detect_prefetch_dropped", "Prefetched frames replaced before a cycle used them", func() float64 {
			return float64(streamHub.Stats().PrefetchDropped)
		})
	}

	webServer := web.NewServer(cfg, log.Named("web"))
	webServer.SetVersion(version)
	webServer.SetStreamDependencies(streamHub, m)
	webServer.SetHistoryDependencies(stateMgr, historyWriter)
	webServer.SetVisitStore(stateMgr)

	// Stop order is the reverse: viewers go first, queued history is flushed last
	svcMgr.Register(historyWriter)
	svcMgr.Register(retention)
	svcMgr.Register(streamHub)
	svcMgr.Register(webServer)

	configSvc.Watch(func(ctx context.Context, oldCfg, newCfg *config.Config) error {
		guard.SetFilter(ai.Filter{
			MinConfidence: newCfg.Detector.ConfidenceThreshold,
			Classes:       newCfg.Detector.EnabledClasses,
		})
		client.SetConfidenceThreshold(newCfg.Detector.ConfidenceThreshold)
		client.SetEnabledClasses(newCfg.Detector.EnabledClasses)
		aggregator.SetRecordEmpty(newCfg.History.RecordEmpty)

		if oldCfg.Source.Input != newCfg.Source.Input || oldCfg.Web.Port != newCfg.Web.Port ||
			oldCfg.History.Retention != newCfg.History.Retention {
			log.Warn("Source, listener and retention changes take effect after a restart")
		}
		return nil
	})

	healthMgr := health.NewManager(cfg.Health, log.Named("health"), svcMgr)
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr, cfg.History.DatabasePath))
	healthMgr.RegisterChecker(health.NewDetectorChecker(client, cfg.Detector.ServiceURL))
	healthMgr.RegisterChecker(health.NewStreamChecker(streamHub, staleAfter(cfg.Source)))
	healthMgr.RegisterChecker(sourceChecker)
	healthMgr.RegisterChecker(health.NewDiskChecker(diskMonitor))

	if err := healthMgr.Start(ctx); err != nil {
		log.Error("Failed to start health check server", "error", err)
		return 1
	}

	var exitCode int
	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		exitCode = 1
	} else {
		exitCode = waitForShutdown(ctx, configSvc, streamHub, log)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := healthMgr.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping health check server", "error", err)
	}

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		return 1
	}

	log.Info("Shutdown complete", "exit_code", exitCode)
	return exitCode
}

// waitForShutdown blocks until a termination signal or the end of the stream.
// SIGHUP reloads the configuration. Only source exhaustion is a failure.
func waitForShutdown(ctx context.Context, configSvc *config.Service, streamHub *hub.Hub, log *logger.Logger) int {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := configSvc.Reload(ctx); err != nil {
					log.Error("Failed to reload configuration", "error", err)
				}
				continue
			}
			log.Info("Received shutdown signal", "signal", sig)
			return 0

		case err := <-streamHub.Done():
			switch {
			case err == nil, errors.Is(err, video.ErrSourceClosed):
				log.Info("Frame source ended")
				return 0
			case errors.Is(err, video.ErrSourceExhausted):
				log.Error("Stream stopped: frame source unavailable", "error", err)
				return 1
			default:
				log.Error("Stream stopped", "error", err)
				return 1
			}
		}
	}
}

func newOpener(cfg config.SourceConfig, log *logger.Logger) (video.Opener, error) {
	switch cfg.Kind {
	case "directory":
		return video.DirectoryOpener(cfg.Input, cfg.FPS, cfg.Loop), nil
	case "ffmpeg":
		ffmpeg, err := video.NewFFmpegWrapper(cfg.FFmpegPath, log)
		if err != nil {
			return nil, err
		}
		var probe *video.RTSPProbe
		if cfg.ProbeRTSP {
			probe = video.NewRTSPProbe(5 * time.Second)
		}
		opts := video.CaptureOptions{
			FPS:    cfg.FPS,
			Width:  cfg.Width,
			Height: cfg.Height,
			Loop:   cfg.Loop,
		}
		return video.FFmpegOpener(ffmpeg, cfg.Input, opts, probe, log), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// staleAfter is how long the stream may go without a cycle before health
// reports it degraded
func staleAfter(cfg config.SourceConfig) time.Duration {
	d := 10 * time.Second
	if cfg.FPS > 0 {
		if perFrame := 20 * time.Second / time.Duration(cfg.FPS); perFrame > d {
			d = perFrame
		}
	}
	return d
}

func publishSourceEvent(bus *service.EventBus, st video.SourceState, attempt int, err error) {
	var eventType service.EventType
	switch st {
	case video.SourceConnected:
		eventType = service.EventTypeSourceConnected
	case video.SourceLost:
		eventType = service.EventTypeSourceLost
	default:
		// The hub reports exhaustion when Run stops
		return
	}

	data := map[string]interface{}{"attempt": attempt}
	if err != nil {
		data["error"] = err.Error()
	}
	bus.Publish(service.Event{
		Type:      eventType,
		Source:    "frame-source",
		Timestamp: time.Now(),
		Data:      data,
	})
}

func registerGauges(m *metrics.Metrics, writer *aggregate.HistoryWriter, retention *storage.Retention, source *video.ReconnectingSource, guard *ai.Guard) {
	m.RegisterGauge("detect_history_pending", "History entries waiting to be written", func() float64 {
		return float64(writer.Stats().Pending)
	})
	m.RegisterGauge("detect_history_dropped", "History entries dropped because the queue was full", func() float64 {
		return float64(writer.Stats().Dropped)
	})
	m.RegisterGauge("detect_history_pruned", "History rows removed by retention", func() float64 {
		return float64(retention.Pruned())
	})
	m.RegisterGauge("detect_source_reconnects", "Times the frame source was reopened", func() float64 {
		return float64(source.Reconnects())
	})
	m.RegisterGauge("detect_detector_timeouts", "Detector calls abandoned after the timeout", func() float64 {
		return float64(guard.Timeouts())
	})
}
