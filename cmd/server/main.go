package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/config"
	"github.com/hvacdash/hvacdash/pkg/logging"
	"github.com/hvacdash/hvacdash/pkg/server"
	"github.com/hvacdash/hvacdash/pkg/server/monitor"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
	taskStopTimeout    = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ./hvacdash.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	closer, err := logging.Init(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize logging: %v", err)
	}
	defer closer.Close()

	log := logging.Component("main")
	log.Infof("Starting hvacdash %s", server.Version)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server exited with error")
		closer.Close()
		os.Exit(1)
	}
	log.Info("hvacdash exited cleanly")
}

func run(cfg *config.Config, log logrus.FieldLogger) error {
	metrics := monitor.NewMetrics()
	store, err := server.InitializeStorage(cfg, metrics, logging.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.New(cfg, store, metrics, logging.Logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr(),
		Handler:      srv.Router(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infof("Received %v, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			cancel()
			srv.Wait()
			return err
		}
	}

	// Cancel first so background tasks stop before Wait
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server shutdown did not complete")
	}

	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("All background tasks stopped")
	case <-time.After(taskStopTimeout):
		log.Warn("Some background tasks did not stop in time")
	}
	return nil
}
