package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/langengroup/stcl/host"
	"github.com/langengroup/stcl/monitor"
	"github.com/langengroup/stcl/settings"
)

// consoleRenderer is a minimal monitor.Renderer for environments
// without a GUI frontend: it logs a one-line summary per trace rather
// than plotting it, matching the original monitor's optional headless
// mode.
type consoleRenderer struct{}

func (consoleRenderer) Render(samples []float64, durationMS float64, filtered bool) {
	if len(samples) == 0 {
		return
	}
	min, max := samples[0], samples[0]
	for _, v := range samples {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	log.WithFields(log.Fields{"samples": len(samples), "duration_ms": durationMS, "filtered": filtered, "min": min, "max": max}).Info("trace")
}

func (consoleRenderer) SetOverlay(s settings.NodeSettings) {
	log.WithField("scanning", s.IsScanning()).Info("overlay updated")
}

func main() {
	var (
		kind        string
		label       string
		primaryAddr string
		fsrHz       float64
		savePath    string
		filter      bool
		logLevel    string
	)

	flag.StringVar(&kind, "kind", "cavity", "monitor kind: cavity or error")
	flag.StringVar(&label, "label", "", "node label to monitor")
	flag.StringVar(&primaryAddr, "primary", "", "node's primary address")
	flag.Float64Var(&fsrHz, "fsrhz", 0, "cavity FSR in Hz, used to scale error-monitor output to MHz")
	flag.StringVar(&savePath, "save", "", "error monitor: path to save the error log to on exit")
	flag.BoolVar(&filter, "filter", false, "cavity monitor: apply the Savitzky-Golay display filter")
	flag.StringVar(&logLevel, "loglevel", "info", "log level: debug, info, warning, error")
	flag.Parse()

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("unrecognized log level: %v", logLevel)
	}

	if label == "" || primaryAddr == "" {
		log.Fatal("-label and -primary are required")
	}

	client := &host.NodeHandle{Label: label, PrimaryAddr: primaryAddr}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch kind {
	case "cavity":
		m := monitor.NewCavityMonitor(label, client, consoleRenderer{})
		m.SetFilter(filter)
		m.Run(ctx)
	case "error":
		// Run on a context independent of the shutdown signal: Save and
		// Stop are delivered as commands the monitor's own goroutine
		// drains, so Run must still be polling when ctx is cancelled,
		// not already exited from watching the same signal.
		m := monitor.NewErrorMonitor(label, client, fsrHz)
		done := make(chan struct{})
		go func() {
			m.Run(context.Background())
			close(done)
		}()
		<-ctx.Done()
		if savePath != "" {
			m.Save(savePath)
		}
		m.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			log.Warn("error monitor did not stop in time")
		}
	default:
		log.Fatalf("unrecognized monitor kind: %v", kind)
	}

	log.Info("monitor stopped")
}
