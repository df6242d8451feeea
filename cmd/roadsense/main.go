package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roadsense/internal/alerts"
	"roadsense/internal/api"
	"roadsense/internal/config"
	"roadsense/internal/ingest"
	"roadsense/internal/livestate"
	"roadsense/internal/serialport"
	"roadsense/internal/storage"
	"roadsense/internal/stream"
	"roadsense/internal/telegram"
	"roadsense/internal/uplink"
	"roadsense/internal/utils"
)

// Version is set during the build process
var version string

func main() {
	flags := config.ParseFlags()
	if flags.ShowVersion {
		if version != "" {
			fmt.Printf("roadsense %s\n", version)
		} else {
			fmt.Println("roadsense development version")
		}
		return
	}

	if version != "" {
		log.Printf("Starting roadsense version %s", version)
	} else {
		log.Print("Starting roadsense development version")
	}

	// Load configuration
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Sync the system clock before stamping any readings
	if cfg.NTP.Enabled {
		if err := utils.SyncClock(cfg.NTP.Server); err != nil {
			log.Printf("Warning: clock sync failed: %v", err)
		}
	}

	csv, err := storage.NewCSVLog(cfg.Storage.CSVPath)
	if err != nil {
		log.Fatalf("Failed to open CSV log: %v", err)
	}
	store := storage.NewMemoryStore(cfg.Ingest.BufferSize)

	var provider serialport.Provider
	if cfg.Serial.Enabled {
		provider = serialport.NewProvider()
	}

	loop, err := ingest.NewLoop(cfg, provider, csv, store)
	if err != nil {
		log.Fatalf("Failed to create acquisition loop: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := stream.NewHub()
	go hub.Run(ctx)

	// Livestate mirror when redis is configured
	var mirror *livestate.Mirror
	if cfg.RedisURL != "" {
		mirror, err = livestate.NewMirror(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		loop.AddSink(mirror)
		loop.OnModeChange(func(synthetic bool, _ error) {
			if err := mirror.SetMockMode(synthetic); err != nil {
				log.Printf("Warning: failed to mirror mode change: %v", err)
			}
		})
	}

	// MQTT uplink when a broker is configured
	var up *uplink.Uplink
	if cfg.MQTT != nil {
		up, err = uplink.New(cfg, store)
		if err != nil {
			log.Fatalf("Failed to create MQTT uplink: %v", err)
		}
		if err := up.Start(); err != nil {
			log.Fatalf("Failed to start MQTT uplink: %v", err)
		}
		loop.AddSink(up)
	}

	loop.AddSink(hub)

	// Alert detection over the accepted-reading stream
	detector := alerts.NewDetector()
	loop.AddSink(detector)
	loop.OnModeChange(detector.ModeChanged)
	if up != nil {
		detector.AddSink(up)
	}

	var notifier *telegram.Notifier
	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		notifier, err = telegram.NewNotifier(cfg.Telegram, cfg.Vehicle.Identifier)
		if err != nil {
			log.Fatalf("Failed to create telegram notifier: %v", err)
		}
		notifier.Start(ctx)
		detector.AddSink(notifier)
	}
	detector.AddSink(hub)

	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	server := api.NewServer(cfg.HTTP.Listen, store, hub)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Handle interrupts for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Print("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	cancel()
	<-loopDone

	if notifier != nil {
		notifier.Stop()
	}
	if up != nil {
		up.Stop()
	}
	if mirror != nil {
		mirror.Close()
	}
}
