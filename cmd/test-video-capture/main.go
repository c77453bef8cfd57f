package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/aggregate"
	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
	"github.com/syukriyansyah-ipb/object-detection/internal/annotate"
	"github.com/syukriyansyah-ipb/object-detection/internal/config"
	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
	"github.com/syukriyansyah-ipb/object-detection/internal/video"
)

func main() {
	var (
		configPath string
		frames     int
		outDir     string
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.IntVar(&frames, "n", 10, "Number of frames to process (0 runs until interrupted)")
	flag.StringVar(&outDir, "out", "", "Directory to write annotated frames to")
	flag.Parse()

	fmt.Println("=== Frame Source & Detector Test ===")
	fmt.Println("Reads frames from the configured source, runs detection and prints the counts")
	fmt.Println()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	fmt.Printf("Source: %s (%s)\n", cfg.Source.Input, cfg.Source.Kind)
	fmt.Printf("Detector URL: %s\n", cfg.Detector.ServiceURL)
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := ai.NewClient(ai.ClientConfig{
		ServiceURL:          cfg.Detector.ServiceURL,
		Timeout:             cfg.Detector.Timeout,
		ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
		EnabledClasses:      cfg.Detector.EnabledClasses,
	}, log)

	fmt.Println("Testing detector connection...")
	if err := client.HealthCheck(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Detector not ready: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Detector is ready")

	fmt.Println("Opening frame source...")
	source, err := openSource(ctx, cfg.Source, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open source: %v\n", err)
		os.Exit(1)
	}
	defer source.Close()
	fmt.Println("✅ Frame source open")
	fmt.Println()

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
			os.Exit(1)
		}
	}
	encoder := annotate.NewJPEGEncoder(cfg.Annotation.JPEGQuality, cfg.Annotation.BoxThickness)

	processed := 0
	withDetections := 0
	for frames == 0 || processed < frames {
		frame, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				fmt.Printf("❌ Source stopped: %v\n", err)
			}
			break
		}
		processed++

		start := time.Now()
		detectCtx, detectCancel := context.WithTimeout(ctx, cfg.Detector.Timeout)
		set, err := client.Detect(detectCtx, frame)
		detectCancel()
		if err != nil {
			fmt.Printf("[Frame %d] ❌ Detection failed: %v\n", frame.Seq, err)
			continue
		}

		counts := aggregate.Summarize(set)
		if counts.Total() > 0 {
			withDetections++
			fmt.Printf("[Frame %d] ✅ %d detections in %s: %v\n", frame.Seq, counts.Total(), time.Since(start).Round(time.Millisecond), counts)
			for _, det := range set {
				fmt.Printf("    - %s\n", annotate.Caption(det))
			}
		} else {
			fmt.Printf("[Frame %d] ℹ️  No detections\n", frame.Seq)
		}

		if outDir != "" {
			image, err := encoder.Encode(frame, set)
			if err != nil {
				fmt.Printf("    ❌ Failed to annotate: %v\n", err)
				continue
			}
			path := filepath.Join(outDir, fmt.Sprintf("frame_%06d.jpg", frame.Seq))
			if err := os.WriteFile(path, image, 0644); err != nil {
				fmt.Printf("    ❌ Failed to write %s: %v\n", path, err)
			}
		}
	}

	fmt.Println()
	fmt.Printf("Processed %d frames, %d with detections\n", processed, withDetections)
}

func openSource(ctx context.Context, cfg config.SourceConfig, log *logger.Logger) (video.FrameSource, error) {
	if cfg.Kind == "directory" {
		return video.OpenDirectorySource(cfg.Input, cfg.FPS, false)
	}

	ffmpeg, err := video.NewFFmpegWrapper(cfg.FFmpegPath, log)
	if err != nil {
		return nil, err
	}
	if video.ClassifyInput(cfg.Input) == video.InputRTSP {
		info, err := video.NewRTSPProbe(5*time.Second).Probe(ctx, cfg.Input)
		if err != nil {
			return nil, err
		}
		fmt.Printf("RTSP stream offers %v\n", info.VideoCodecs)
	}
	return video.OpenFFmpegSource(ctx, ffmpeg, cfg.Input, video.CaptureOptions{
		FPS:    cfg.FPS,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, log)
}
