package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/idbuilder/worker/internal/app"
	"github.com/idbuilder/worker/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file (overrides IDBUILDER_CONFIG)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("IDBUILDER_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
