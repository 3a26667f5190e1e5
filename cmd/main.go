package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "devicesync/docs"
	"devicesync/internal/config"
	"devicesync/internal/handlers"
	"devicesync/internal/logger"
	"devicesync/internal/remote"
	"devicesync/internal/remote/homeassistant"
	"devicesync/internal/remote/hue"
	"devicesync/internal/repository"
	"devicesync/internal/repository/db"
	"devicesync/internal/server"
	"devicesync/internal/service"
)

const (
	configDir       = "configs"
	connectTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// @title        devicesync API
// @version      1.0
// @description  Device state synchronization between UI clients and a home-automation backend.
// @BasePath     /
func main() {
	// load configs/config.yml and DEVICESYNC_* overrides
	cfg, err := config.Load(configDir)
	if err != nil {
		logger.New(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	// open DB
	conn, err := openDB(cfg, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	backend, err := newBackend(cfg.Backend, log)
	if err != nil {
		log.Fatalw("invalid backend configuration", "err", err)
	}

	// wire dependencies
	repos := repository.NewRepository(conn)
	services, err := service.NewService(cfg, backend, repos, log)
	if err != nil {
		log.Fatalw("failed to build services", "err", err)
	}
	defer services.Close()
	apiHandler := handlers.NewHandler(services, log.Named("http"))

	// initial connect; a failure leaves the transport disconnected until
	// POST /api/v1/connection/connect
	connectBackend(services, log)

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	// graceful shutdown
	waitForShutdown(srv, log)
}

// openDB initializes the SQLite database using configuration.
func openDB(cfg *config.Config, log *logger.Logger) (*sql.DB, error) {
	dbPath := cfg.DB.Path
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", config.DefaultDBPath)
		dbPath = config.DefaultDBPath
	}
	return db.InitDB(dbPath)
}

// newBackend selects the remote adapter named by backend.type.
func newBackend(bc config.BackendConfig, log *logger.Logger) (remote.Backend, error) {
	switch bc.Type {
	case config.BackendHue:
		if bc.HueHost == "" || bc.HueUser == "" {
			return nil, fmt.Errorf("backend.hue_host and backend.hue_user are required for %s", config.BackendHue)
		}
		return hue.New(bc.HueHost, bc.HueUser, log.Named("hue")), nil
	default:
		client := homeassistant.NewClient(bc.URL, bc.Token, log.Named("homeassistant"))
		if !client.IsConfigured() {
			log.Warnw("home assistant backend is not configured; set backend.url and DEVICESYNC_BACKEND_TOKEN")
		}
		return client, nil
	}
}

func connectBackend(services *service.Service, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := services.Connect(ctx); err != nil {
		log.Errorw("initial connect failed", "err", err)
		return
	}
	log.Infow("connected", "mode", services.State(ctx).Mode)
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = config.DefaultPort
		}
		log.Infow("http server listening", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// allow in-flight requests to complete
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}
