// Package main is the entry point for the image generation bridge service.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/oremus-labs/imagegen-bridge/internal/app"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Starting image generation bridge v%s", app.Version)

	if err := run(); err != nil {
		log.Fatalf("Bridge stopped: %v", err)
	}
}

func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bridge, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer bridge.Close()

	return bridge.Serve(ctx)
}
