package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bookforge-backend/internal/bootstrap"
	"bookforge-backend/internal/shared/config"
	"bookforge-backend/internal/shared/storage/db"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, db.DefaultWorkerOptions(cfg.MaxConcurrentJobs))
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	log.Printf("worker started workers=%d poll=%s", cfg.MaxConcurrentJobs, cfg.JobPollInterval)
	app.Scheduler.Start(ctx)

	<-ctx.Done()
	log.Printf("shutting down, draining jobs")

	if !app.Scheduler.Wait(cfg.ShutdownTimeout) {
		log.Printf("shutdown timeout exceeded, jobs still running")
	}
}
