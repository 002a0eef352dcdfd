package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/hirewire/messaging/internal/client/cli"
	"github.com/hirewire/messaging/internal/client/config"
	"github.com/hirewire/messaging/internal/logging"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	defer app.Close()

	app.Run(ctx)
}
