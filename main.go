package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Legell/UAV-System/config"
	"github.com/Legell/UAV-System/internal/discovery"
	"github.com/Legell/UAV-System/internal/gcs"
	"github.com/Legell/UAV-System/internal/logger"
	"github.com/Legell/UAV-System/internal/publisher"
	"github.com/Legell/UAV-System/internal/telemetry"
	"github.com/Legell/UAV-System/internal/uav"
	"github.com/Legell/UAV-System/web"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "config/config.yaml", "Path to configuration file")
	logLevel := flag.String("log", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Load configuration
	logger.Info("Loading configuration from %s", *configFile)
	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}

	// Set log level from config or command line
	if *logLevel != "" {
		logger.SetLevelFromString(*logLevel)
	} else {
		logger.SetLevelFromString(cfg.Log.Level)
	}
	if cfg.Log.TimestampFormat != "" {
		logger.SetTimestampFormat(cfg.Log.TimestampFormat)
	}
	logger.Info("Configuration loaded successfully (Log level: %s)", logger.GetLevelString())

	registry := uav.NewRegistry()

	disc := discovery.New(registry, cfg.Fleet.Host, cfg.Fleet.Ports, cfg.Fleet.NameOffset)
	disc.HandshakeTimeout = time.Duration(cfg.Fleet.HandshakeTimeout) * time.Second

	// Initial scan, then periodic rescans pick up late vehicles and sweep
	// out explicitly disconnected ones
	logger.Info("[STARTUP] Probing %d port(s) on %s", len(cfg.Fleet.Ports), cfg.Fleet.Host)
	disc.Scan()

	stopRescan := make(chan struct{})
	if cfg.Fleet.RescanInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.Fleet.RescanInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-stopRescan:
					return
				case <-ticker.C:
					disc.CleanupDisconnected()
					disc.Scan()
				}
			}
		}()
	}

	// Heartbeat monitor flags silent vehicles offline
	monitor := telemetry.NewMonitor(registry, time.Duration(cfg.Fleet.StaleAfter)*time.Second)
	go monitor.Run()

	service := gcs.NewService(registry, disc)

	// Optional MQTT fleet snapshot stream
	var pub *publisher.Publisher
	if cfg.MQTT.Enabled {
		pub, err = publisher.New(registry, cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic,
			time.Duration(cfg.MQTT.Interval)*time.Second)
		if err != nil {
			logger.Warn("[STARTUP] MQTT publisher disabled: %v", err)
		} else {
			go pub.Run()
		}
	}

	// Start web server
	server := web.NewServer(service)
	server.Start(cfg.Web.Port)

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	logger.Info("GCS running. Press Ctrl+C to stop.")
	<-sigCh

	// Graceful shutdown
	logger.Info("[SHUTDOWN] Initiating graceful shutdown...")

	close(stopRescan)
	monitor.Stop()
	if pub != nil {
		pub.Stop()
	}

	// Close every open link; readers exit on the cleared Connected flag
	for _, rec := range registry.SnapshotAll() {
		registry.Update(rec.ID, func(u *uav.UAV) { u.Connected = false })
		if link, ok := registry.DropLink(rec.ID); ok {
			link.Close()
		}
	}

	logger.Info("[SHUTDOWN] Complete")
}
