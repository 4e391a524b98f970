package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/occupancy.report/internal/api"
	"github.com/banshee-data/occupancy.report/internal/capture"
	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/counter"
	"github.com/banshee-data/occupancy.report/internal/counting"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/detect"
	"github.com/banshee-data/occupancy.report/internal/mjpeg"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/track"
	"github.com/banshee-data/occupancy.report/internal/version"
)

var (
	//go:embed static/*
	staticFiles embed.FS
	devMode     = flag.Bool("dev", false, "Run in dev mode (synthetic camera, replayed detections)")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbFile      = flag.String("db", "occupancy.db", "Path to the sqlite database")
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the tuning config JSON")
	device      = flag.String("device", "/dev/video0", "Camera device or stream URL")
	detector    = flag.String("detector", "", "Detector command emitting JSON lines on stdout")
	fixtures    = flag.String("fixtures", "fixtures/detections.jsonl", "Detection fixtures replayed in dev mode")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

const sampleInterval = 15 * time.Second

func loadConfig(path string) *config.CounterConfig {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == config.DefaultConfigPath {
		log.Printf("config %s not found, using built-in defaults", path)
		return config.EmptyCounterConfig()
	}
	cfg, err := config.LoadCounterConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("occupancy-report %s (%s) built %s\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], *dbFile)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := loadConfig(*configPath)

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	frames := pipeline.NewQueue[mjpeg.Frame](cfg.GetFrameQueueDepth())
	detections := pipeline.NewQueue[[]detect.Detection](cfg.GetDetectionQueueDepth())

	demux := mjpeg.NewDemuxer(mjpeg.DemuxerConfig{
		MinFrameBytes: cfg.GetMinFrameBytes(),
		MaxFrameBytes: cfg.GetMaxFrameBytes(),
	})

	var streamer capture.Streamer
	if *devMode {
		streamer = &capture.SyntheticStreamer{
			Width:  cfg.GetFrameWidth(),
			Height: cfg.GetFrameHeight(),
			FPS:    cfg.GetFrameRate(),
		}
	} else {
		streamer = &capture.CommandStreamer{
			Device: *device,
			Width:  cfg.GetFrameWidth(),
			Height: cfg.GetFrameHeight(),
			FPS:    cfg.GetFrameRate(),
		}
	}

	supervisor := capture.NewSupervisor(streamer, demux, frames, timeutil.RealClock{}, capture.SupervisorConfig{
		StallTimeout: cfg.GetStallTimeout(),
		RestartDelay: cfg.GetRestartDelay(),
		MaxRestarts:  cfg.GetMaxRestarts(),
	})

	ingestor := detect.NewIngestor(cfg, detections)

	var source detect.Source
	if *devMode {
		source = &detect.ReplaySource{
			Path:     *fixtures,
			Interval: time.Second / time.Duration(cfg.GetFrameRate()),
			Loop:     true,
		}
	} else {
		if *detector == "" {
			log.Fatal("A -detector command is required outside dev mode")
		}
		fields := strings.Fields(*detector)
		source = &detect.ExecSource{Program: fields[0], Args: fields[1:]}
	}

	tracker := track.NewTracker(track.TrackerConfigFromCounter(cfg))
	monitor := counting.NewMonitor(counting.MonitorConfigFromCounter(cfg))
	counters := counting.NewAggregator()
	runner := counter.NewRunner(counter.RunnerConfig{}, detections, tracker, monitor, counters, database, timeutil.RealClock{})
	runner.AttachHealthSources(supervisor, frames, ingestor)

	latestFrame := &pipeline.Latest[mjpeg.Frame]{}

	// Create a wait group for the capture, detection, tracking, sampling
	// and HTTP server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the capture supervisor to manage the camera subprocess
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := supervisor.Run(ctx); err != nil {
			log.Printf("capture supervisor error: %v", err)
		}
		log.Print("capture routine terminated")
	}()

	// drain the frame queue into the latest-frame slot for /debug/frame
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			frame, ok := frames.Pop(ctx, 250*time.Millisecond)
			if ctx.Err() != nil {
				log.Print("frame drain routine terminated")
				return
			}
			if ok {
				latestFrame.Store(frame)
			}
		}
	}()

	// run the detector and feed its batches through the ingestion filter
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			err := source.Run(ctx, func(batch []detect.Detection) {
				ingestor.Ingest(batch)
			})
			if ctx.Err() != nil {
				log.Print("detector routine terminated")
				return
			}
			log.Printf("detector exited, restarting in %v: %v", cfg.GetRestartDelay(), err)
			select {
			case <-ctx.Done():
				log.Print("detector routine terminated")
				return
			case <-time.After(cfg.GetRestartDelay()):
			}
		}
	}()

	// run the tracking worker
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil {
			log.Printf("tracking worker error: %v", err)
		}
		log.Print("tracking routine terminated")
	}()

	// periodically persist occupancy samples for stats and charting
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := database.RecordSample(counters.Snapshot(), time.Now()); err != nil {
					log.Printf("failed to record occupancy sample: %v", err)
				}
			case <-ctx.Done():
				log.Print("sampler routine terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		database.AttachAdminRoutes(mux)

		// mount the API and debug handlers
		apiServer := api.NewServer(runner, counters, database, cfg)
		apiServer.SetFrameSource(latestFrame)
		apiMux := apiServer.ServeMux()
		mux.Handle("/api/", apiMux)
		mux.Handle("/debug/occupancy_chart", apiMux)
		mux.Handle("/debug/frame", apiMux)

		// read static files from the embedded filesystem in production or
		// from the local ./static in dev for easier iteration without
		// restarting the server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticHandler = http.FileServer(http.FS(staticFiles))
		}
		mux.Handle("/", staticHandler)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
