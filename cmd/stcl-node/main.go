package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/langengroup/stcl/acquisition"
	"github.com/langengroup/stcl/internal/statsd"
	"github.com/langengroup/stcl/node"
	"github.com/langengroup/stcl/settings"
)

func main() {
	var (
		label          string
		role           string
		primaryAddr    string
		loopAddr       string
		settingsDir    string
		monitoringAddr string
		logLevel       string
	)

	flag.StringVar(&label, "label", "", "this node's label, used as its settings file name")
	flag.StringVar(&role, "role", "scan", "node role: scan, lock, or monitor")
	flag.StringVar(&primaryAddr, "primary", ":5000", "address for the one-shot primary port")
	flag.StringVar(&loopAddr, "loop", ":5065", "address for the persistent loop port")
	flag.StringVar(&settingsDir, "settingsdir", "/etc/stcl", "directory holding this node's settings JSON files")
	flag.StringVar(&monitoringAddr, "monitoringaddr", ":21039", "address to serve JSON stats on")
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

	if label == "" {
		log.Fatal("-label is required")
	}

	var r node.Role
	switch role {
	case "scan":
		r = node.RoleScan
	case "lock":
		r = node.RoleLock
	case "monitor":
		r = node.RoleMonitor
	default:
		log.Fatalf("unrecognized role: %v", role)
	}

	// TODO: swap in the real acquisition backend once hardware bring-up
	// lands; SimDevice stands in for it per the Non-goal on hardware.
	dev := acquisition.NewSimDevice(nil, 1)

	store := settings.NewFileStore(settingsDir)
	srv := node.New(label, r, dev, store)
	srv.PrimaryAddr = primaryAddr
	srv.LoopAddr = loopAddr

	jsonStats := statsd.NewJSONServer(srv.Stats)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := jsonStats.Serve(ctx, monitoringAddr); err != nil {
			log.WithError(err).Warn("stats server exited")
		}
	}()

	log.WithFields(log.Fields{"label": label, "role": role, "primary": primaryAddr, "loop": loopAddr}).Info("starting node")
	if err := srv.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
		log.Fatal(fmt.Errorf("node failed: %w", err))
	}
}
