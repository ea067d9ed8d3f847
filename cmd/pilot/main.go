package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pilot/internal/app"
	"pilot/internal/config"
	"pilot/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("PILOT_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.LogFile != "" {
		logFile, err := logger.OpenLogFile(cfg.LogFile)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer logFile.Close()
	}
	logger.SetLevel(cfg.LogLevel)
	logger.Infof("config loaded from %s (broker=%s)", cfgPath, cfg.Broker.Mode)

	application, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	if err := application.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("run: %v", err)
	}
}
