package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deception-service/internal/factory"
	"deception-service/internal/handler"
	"deception-service/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	router := handler.NewRouter(f.TrapHandler(), f.FeedHandler(), util.Get())

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		util.Info("Starting HTTP server",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("HTTP server failed", util.ErrorField(err))
		}
	}()

	waitForShutdown(f, server)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains the server before
// tearing down the clients.
func waitForShutdown(f *factory.Factory, server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	util.Info("Shutdown signal received", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		util.Error("Server forced to shutdown", util.ErrorField(err))
	}

	f.Close()
	util.Info("Server exited")
}
