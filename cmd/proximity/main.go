// Command proximity tracks iBeacon and Eddystone beacons heard by a BLE
// scanner dongle, a capture file or a simulator and serves them over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/proximity.report/internal/api"
	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/config"
	"github.com/banshee-data/proximity.report/internal/monitoring"
	"github.com/banshee-data/proximity.report/internal/scan"
	"github.com/banshee-data/proximity.report/internal/serialmux"
	"github.com/banshee-data/proximity.report/internal/timeutil"
	"github.com/banshee-data/proximity.report/internal/tracking"
	"github.com/banshee-data/proximity.report/internal/version"
)

var (
	listen       = flag.String("listen", ":8080", "Listen address")
	port         = flag.String("port", "", "Serial port of the scanner dongle (empty to disable)")
	baud         = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	pcapFile     = flag.String("pcap", "", "Replay a Bluetooth LE link layer capture")
	pcapRealtime = flag.Bool("pcap-realtime", false, "Replay the capture with its original timing")
	devMode      = flag.Bool("dev", false, "Emit advertisements from simulated beacons")
	configPath   = flag.String("config", "", "Tracking tuning file (JSON)")
	autostart    = flag.Bool("autostart", false, "Start iBeacon and Eddystone tracking at launch")
	verbose      = flag.Bool("verbose", false, "Log debug messages")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

// sourceFlags collects the flags that select advertisement sources.
type sourceFlags struct {
	port         string
	baud         int
	pcapFile     string
	pcapRealtime bool
	dev          bool
}

// newSources builds the configured sources. The returned mux is the dongle
// mux, or a DisabledSerialMux when no port is configured.
func newSources(f sourceFlags, cfg *config.TuningConfig, clock timeutil.Clock) ([]scan.Source, serialmux.SerialMuxInterface, error) {
	var (
		sources []scan.Source
		mux     serialmux.SerialMuxInterface = serialmux.NewDisabledSerialMux()
	)

	if f.port != "" {
		m, err := serialmux.NewRealSerialMux(f.port, serialmux.PortOptions{BaudRate: f.baud})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open scanner dongle: %w", err)
		}
		mux = m
		sources = append(sources, scan.NewSerialSource(mux, clock))
	}
	if f.pcapFile != "" {
		sources = append(sources, &scan.PCAPSource{
			Path:        f.pcapFile,
			DefaultRSSI: cfg.GetPCAPDefaultRSSI(),
			Realtime:    f.pcapRealtime,
			Clock:       clock,
		})
	}
	if f.dev {
		sources = append(sources, &scan.SimulatedSource{
			Beacons:  scan.DefaultVirtualBeacons(),
			Interval: 100 * time.Millisecond,
			Jitter:   3,
			Seed:     uint64(clock.Now().UnixNano()),
			Clock:    clock,
		})
	}
	return sources, mux, nil
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// logNotifications writes every notification to the log until the hub
// closes.
func logNotifications(hub *tracking.Hub) {
	id, c := hub.Subscribe()
	defer hub.Unsubscribe(id)
	for n := range c {
		if n.Kind == tracking.Error {
			log.Printf("%s: error: %s", n.Source, n.Err)
			continue
		}
		monitoring.Debugf("%s: %s (%d beacons)", n.Source, n.Kind, len(n.Beacons))
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	clock := timeutil.RealClock{}
	sources, dongle, err := newSources(sourceFlags{
		port:         *port,
		baud:         *baud,
		pcapFile:     *pcapFile,
		pcapRealtime: *pcapRealtime,
		dev:          *devMode,
	}, cfg, clock)
	if err != nil {
		log.Fatal(err)
	}
	defer dongle.Close()

	if err := dongle.Initialize(); err != nil {
		log.Fatalf("failed to initialize scanner dongle: %v", err)
	}
	if len(sources) == 0 {
		log.Printf("no advertisement source configured; use -port, -pcap or -dev")
	}

	bus := scan.NewBus(sources...)
	hub := tracking.NewHub()
	opts := tracking.OptionsFromConfig(cfg)

	// subscribe before the trackers exist so a radio error is logged
	var logWG sync.WaitGroup
	logWG.Add(1)
	go func() {
		defer logWG.Done()
		logNotifications(hub)
	}()

	ibGate, edGate := bus.Gate("ibeacon"), bus.Gate("eddystone")
	ibeacons := tracking.NewIBeaconTracker(ibGate, hub, opts)
	eddystone := tracking.NewEddystoneTracker(edGate, hub, opts)
	ibGate.Connect(ibeacons.Ingest)
	edGate.Connect(eddystone.Ingest)

	if *autostart && len(sources) > 0 {
		if err := ibeacons.Start(beacon.IBeaconFilter{Major: beacon.Unset, Minor: beacon.Unset}); err != nil {
			log.Printf("failed to start iBeacon tracking: %v", err)
		}
		if err := eddystone.StartUID(beacon.UIDFilter{}); err != nil {
			log.Printf("failed to start Eddystone-UID tracking: %v", err)
		}
		if err := eddystone.StartURL(); err != nil {
			log.Printf("failed to start Eddystone-URL tracking: %v", err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dongle.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	if len(sources) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bus.Run(ctx); err != nil {
				log.Printf("advertisement source failed: %v", err)
			}
			log.Print("scan routine terminated")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(ibeacons, eddystone, hub).ServeMux()
		dongle.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("proximity %s listening on %s", version.String(), *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	stopTracker("iBeacon", ibeacons.Stop)
	stopTracker("Eddystone", eddystone.StopAll)
	hub.Close()
	logWG.Wait()
	log.Printf("Graceful shutdown complete")
}

func stopTracker(name string, stop func() error) {
	if err := stop(); err != nil {
		log.Printf("failed to stop %s tracking: %v", name, err)
	}
}
