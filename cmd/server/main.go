package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/omochice/toy-private-chat/internal/config"
	"github.com/omochice/toy-private-chat/internal/logging"
	"github.com/omochice/toy-private-chat/internal/relay"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}

	users, err := relay.OpenUsers(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open user store: %v", err)
	}
	defer users.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting relay on %s...", cfg.Addr)
	if err := relay.New(users, cfg.CORSOrigins).Run(ctx, cfg.Addr); err != nil {
		log.Printf("Relay error: %v", err)
		return
	}
	log.Println("Relay stopped")
}
