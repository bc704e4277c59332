package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fair/internal/api"
	"fair/internal/auth"
	"fair/internal/config"
	"fair/internal/logger"
	"fair/internal/manager"
	"fair/internal/messaging"
	"fair/internal/metrics"
	"fair/internal/model"
	"fair/internal/moderation"
	"fair/internal/storage"
)

// @title Fair Marketplace API
// @version 1.0
// @description Listing chat, moderation requests and support inbox
// @host localhost:8080
// @BasePath /
// @schemes http

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Init Metrics
	metrics.Init()

	// Load Configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.Init(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()
	zap.L().Info("configuration loaded", zap.String("driver", cfg.Database.Driver))

	// Setup JWT Secret
	auth.SetSecret(cfg.Auth.JWTSecret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init storage
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		zap.L().Fatal("failed to open storage", zap.Error(err))
	}
	defer store.Close()

	if err := ensureAdmin(ctx, store, cfg.Admin.Username); err != nil {
		zap.L().Fatal("failed to bootstrap admin", zap.Error(err))
	}

	// Init audit pipeline when RabbitMQ is configured
	var (
		notifier moderation.Notifier
		audit    api.AuditControl
		am       *manager.AuditManager
	)
	if cfg.RabbitMQ.URL != "" {
		rabbitClient, err := messaging.NewRabbitClient(cfg.RabbitMQ.URL)
		if err != nil {
			zap.L().Fatal("failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rabbitClient.Close()

		am = manager.NewAuditManager(rabbitClient.GetConnection(), rabbitClient, store, cfg.Workers)
		if err := am.Start(); err != nil {
			zap.L().Fatal("failed to start audit pipeline", zap.Error(err))
		}
		notifier, audit = rabbitClient, am

		// Background loop for updating queue depth metrics
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					rabbitClient.UpdateQueueDepth()
				}
			}
		}()
	} else {
		zap.L().Warn("rabbitmq.url not set, audit trail disabled")
	}

	// Init API
	apiHandler := api.NewAPI(store, cfg, audit, notifier)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zap.L().Info("starting API server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done() // Wait for interrupt signal
	zap.L().Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Stop HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP shutdown error", zap.Error(err))
	}

	// Drain the audit workers before the store closes
	if am != nil {
		am.ShutdownAll()
	}

	zap.L().Info("graceful shutdown complete")
}

// ensureAdmin creates the configured admin account on first start and logs a
// token for it.
func ensureAdmin(ctx context.Context, store storage.Store, username string) error {
	if username == "" {
		return nil
	}
	u, err := store.GetUserByUsername(ctx, username)
	if model.IsNotFound(err) {
		u = &model.User{Username: username, Role: model.RoleAdmin, CreatedAt: time.Now().UTC()}
		err = store.CreateUser(ctx, u)
	}
	if err != nil {
		return err
	}
	if u.Role != model.RoleAdmin {
		return errors.New("user " + username + " exists without the admin role")
	}
	token, err := auth.GenerateToken(u.ID, u.Role)
	if err != nil {
		return err
	}
	zap.L().Info("admin ready", zap.String("username", username), zap.String("token", token))
	return nil
}
