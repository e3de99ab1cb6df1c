package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/emberchat/ember/internal/auth"
	"github.com/emberchat/ember/internal/config"
	"github.com/emberchat/ember/internal/eventbus"
	"github.com/emberchat/ember/internal/httpapi"
	"github.com/emberchat/ember/internal/logging"
	"github.com/emberchat/ember/internal/store"
	"github.com/emberchat/ember/pkg/hub"
	wstransport "github.com/emberchat/ember/pkg/transport/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to config file (json or yaml)")
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	logger.Info("starting ember server", "addr", cfg.Server.Addr())

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	bus := eventbus.NewInMemoryBus(cfg.Hub.EventBufferSize)
	bus.SubscribeAll(eventbus.NewLogHandler(logger.Logger))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	authManager := auth.NewManager(st, cfg.Auth.SessionTTL)

	h := hub.New(logger, bus, hub.Options{SendTimeout: cfg.Hub.SendTimeout})
	dispatcher := hub.NewDispatcher(h, st, logger, bus)
	wsServer := wstransport.NewServer(h, dispatcher, st, authManager, logger, bus)

	api := httpapi.NewHandler(st, authManager, h, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Mount("/api", api.Routes())
	r.Get("/ws/chat/{room}", wsServer.ChatHandler)
	r.Get("/ws/dm/{username}", wsServer.DMHandler)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	bus.Stop()
	logger.Info("server stopped")
	return nil
}
