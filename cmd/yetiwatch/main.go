package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/yetiwatch/yetiwatch/pkg/controller"
	"github.com/yetiwatch/yetiwatch/pkg/log"
	"github.com/yetiwatch/yetiwatch/pkg/mqtt"
	"github.com/yetiwatch/yetiwatch/pkg/server"
	"github.com/yetiwatch/yetiwatch/pkg/storage"
	"github.com/yetiwatch/yetiwatch/pkg/yeti"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	dev := yeti.Configured()
	db := storage.Configured()
	pub := mqtt.Configured()
	ctrl := controller.Configured(dev, db, pub)

	// init server
	srv := server.Configured(ctrl)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Close flushes the publisher and storage.
	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := ctrl.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close controller", "error", err)
		}
	}()

	if err := ctrl.Start(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "controller failed to start", "error", err)
		os.Exit(1)
	}

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
