// Package main runs the unattended scanner: an orchestrator that cycles
// a receiver through a frequency list whenever no remote operator is
// connected, recording and decoding whatever it finds.
//
// Usage:
//
//	scanrec [-config path/to/config.json]
//
// If -config is not specified, scanrec looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rxtools/scanrec/internal/config"
	"github.com/rxtools/scanrec/internal/decoding"
	"github.com/rxtools/scanrec/internal/eventlog"
	"github.com/rxtools/scanrec/internal/mqtt"
	"github.com/rxtools/scanrec/internal/notify"
	"github.com/rxtools/scanrec/internal/orchestrator"
	"github.com/rxtools/scanrec/internal/presence"
	"github.com/rxtools/scanrec/internal/recorder"
	"github.com/rxtools/scanrec/internal/tuner"
	"github.com/rxtools/scanrec/internal/types"
	"github.com/rxtools/scanrec/internal/util"
)

// Build information, set via -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Warn("failed to load config, using built-in defaults", "error", err)
		cfg = config.New(*configPath)
	}
	snap := cfg.Snapshot()

	ffmpegPath := util.ResolveFFmpegPath(snap.FFmpegPath)
	if ffmpegPath == "" {
		slog.Warn("FFmpeg not found - captures will stay uncompressed",
			"configured_path", snap.FFmpegPath)
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	eventLogger, err := eventlog.NewLogger(eventlog.DefaultLogPath(snap.WebPort))
	if err != nil {
		slog.Error("failed to open event log", "error", err)
		os.Exit(1)
	}

	var receiver tuner.ReceiverControl
	var rigctl *tuner.RigctlReceiver
	if snap.ReceiverAddr != "" {
		rigctl = tuner.NewRigctlReceiver(snap.ReceiverAddr)
		receiver = rigctl
		slog.Info("receiver control via rigctld", "addr", snap.ReceiverAddr)
	} else {
		slog.Warn("no receiver configured - tuning commands will fail")
	}
	tun := tuner.New(receiver)

	if err := util.CheckPathWritable(snap.RecordingsDir); err != nil {
		slog.Error("recordings directory not writable", "path", snap.RecordingsDir, "error", err)
		os.Exit(1)
	}

	rec, err := recorder.New(recorder.Config{
		Directory:       snap.RecordingsDir,
		FFmpegPath:      ffmpegPath,
		RMSThreshold:    snap.RMSThreshold,
		CaptureDwell:    snap.CaptureDwell,
		SilenceTimeout:  snap.SilenceTimeout,
		MinDuration:     snap.MinDuration,
		RetentionDays:   snap.RetentionDays,
		CleanupInterval: snap.CleanupInterval,
		Codec:           snap.Codec,
		StorageMode:     snap.StorageMode,
		S3: recorder.S3Options{
			Endpoint:  snap.S3Endpoint,
			Region:    snap.S3Region,
			Bucket:    snap.S3Bucket,
			AccessKey: snap.S3AccessKey,
			SecretKey: snap.S3SecretKey,
			Prefix:    snap.S3Prefix,
		},
	}, eventLogger)
	if err != nil {
		slog.Error("failed to create recorder", "error", err)
		os.Exit(1)
	}

	decoder, err := decoding.NewManager(snap.DecodingsDir, snap.DecodingBufferSize, eventLogger)
	if err != nil {
		slog.Error("failed to create decoding manager", "error", err)
		os.Exit(1)
	}

	orch := orchestrator.New(cfg, tun, rec, decoder, eventLogger)

	tracker := presence.NewTracker(presence.Options{
		LocalNetworks:        snap.LocalNetworks,
		ConsiderLocalClients: snap.ConsiderLocalClients,
		PollInterval:         snap.PresencePoll,
		Callbacks: presence.Callbacks{
			OnRemoteClientConnected: orch.RemoteClientConnected,
			OnAllRemoteClientsGone:  orch.RemoteClientsGone,
		},
	})

	notifier := notify.NewNotifier(cfg)

	var publisher *mqtt.Publisher
	if snap.HasMQTT() {
		publisher, err = mqtt.NewPublisher(config.MQTTConfig{
			Broker:      snap.MQTTBroker,
			TopicPrefix: snap.MQTTTopicPrefix,
			Username:    snap.MQTTUsername,
			Password:    snap.MQTTPassword,
		})
		if err != nil {
			slog.Warn("mqtt publisher unavailable", "error", err)
			publisher = nil
		}
	}

	versionChecker := NewVersionChecker()
	srv := NewServer(cfg, tun, orch, rec, decoder, tracker, notifier, versionChecker)
	hub := srv.Hub()

	rec.AddObserver(func(recording bool, frequencyHz uint64) {
		hub.BroadcastRecordingStatus(recording, frequencyHz)
		if publisher != nil {
			publisher.PublishRecordingStatus(recording, frequencyHz)
		}
	})
	rec.OnCaptureSaved(notifier.CaptureSaved)

	orch.OnStateChange(func(from, to types.AutoModeState) {
		hub.BroadcastStateChange(to)
		if publisher != nil {
			publisher.PublishStateChange(to)
		}
		notifier.ModeChanged(to)
	})

	rec.Start()
	tracker.Start()
	orch.Start()

	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	versionChecker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	srv.Stop()

	if err := orch.Stop(shutdownCtx); err != nil {
		slog.Error("error stopping orchestrator", "error", err)
	}
	if err := rec.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping recorder", "error", err)
	}
	decoder.StopSession()
	tracker.Stop()

	if publisher != nil {
		publisher.Disconnect()
	}
	if rigctl != nil {
		_ = rigctl.Close()
	}
	if err := eventLogger.Close(); err != nil {
		slog.Error("error closing event log", "error", err)
	}

	slog.Info("shutdown complete")
}
