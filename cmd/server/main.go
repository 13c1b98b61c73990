package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cookstagram/accounts/internal/app"
	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/internal/logger"
	"github.com/cookstagram/accounts/internal/ssl"
)

// How often expired revocations and states are deleted from stores
// without native expiry.
const purgeInterval = time.Hour

type purger interface {
	PurgeExpired(ctx context.Context) error
}

func main() {
	if err := config.LoadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(config.Current.Log.Level, config.Current.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, &config.Current)
	if err != nil {
		logger.Error("Error starting server", "error", err)
		os.Exit(1)
	}
	logger.Info("Providers enabled", "providers", a.Providers.Names())

	if p, ok := a.DB.(purger); ok {
		go purge(ctx, p)
	}

	addr := fmt.Sprintf(":%s", config.Current.Server.Port)
	srv := http.Server{
		Addr:    addr,
		Handler: a.Handler(),

		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	serve := srv.ListenAndServe
	if server := config.Current.Server; server.Scheme == "https" {
		cert, err := ssl.LoadOrGenerate(server.TLSCertFile, server.TLSKeyFile, []string{server.Host})
		if err != nil {
			logger.Error("Error loading TLS certificate", "error", err)
			a.Close()
			os.Exit(1)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		serve = func() error { return srv.ListenAndServeTLS("", "") }
	}

	go func() {
		logger.Info("Listening", "addr", addr, "scheme", config.Current.Server.Scheme)
		if err := serve(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down server", "error", err)
	}

	logger.Info("Closing database connection...")
	if err := a.Close(); err != nil {
		logger.Error("Error closing database", "error", err)
	}
}

func purge(ctx context.Context, p purger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PurgeExpired(ctx); err != nil {
				logger.Warn("Purging expired records failed", "error", err)
			}
		}
	}
}
