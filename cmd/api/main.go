package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bookforge-backend/internal/bootstrap"
	"bookforge-backend/internal/server"
	"bookforge-backend/internal/shared/config"
	"bookforge-backend/internal/shared/storage/db"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, db.DefaultServerOptions())
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	engine := server.NewEngine(cfg, app)
	srv := &http.Server{
		Addr:    server.Addr(cfg.Port),
		Handler: engine,
	}

	go func() {
		log.Printf("Starting API server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
