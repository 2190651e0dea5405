package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"weat-sync/go-backend/internal/app"
	"weat-sync/go-backend/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "configs/config.yaml", "Path to config.yaml")
	flag.Parse()
	if *showVersion {
		fmt.Printf("syncd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("syncd configuration error: %v", err)
	}

	runtime, err := app.New(cfg)
	if err != nil {
		log.Fatalf("syncd failed to initialize: %v", err)
	}

	log.Println("syncd starting")
	if err := runtime.Run(ctx); err != nil {
		log.Fatalf("syncd failed: %v", err)
	}
	log.Println("syncd stopped")
}
