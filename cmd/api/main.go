package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"rangeclaims/api/internal/app"
	"rangeclaims/api/internal/config"
	"rangeclaims/api/internal/email"
	"rangeclaims/api/internal/events"
	"rangeclaims/api/internal/evidence"
	"rangeclaims/api/internal/metrics"
	"rangeclaims/api/internal/platform/logger"
	"rangeclaims/api/internal/ratelimit"
	"rangeclaims/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		AppName:         "rangeclaims-api",
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
		PingTimeout:     cfg.DB.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		log.Info("migrations applied", zap.Strings("versions", applied))
	}

	deps := app.Deps{
		Store:   store.NewPostgresStore(db),
		Metrics: metrics.New(),
		Logger:  log,
	}

	var sender email.Sender
	smtpSender, err := email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
	switch {
	case errors.Is(err, email.ErrNotConfigured):
		log.Warn("smtp not configured, claim emails will report notified=false")
	case err != nil:
		return fmt.Errorf("smtp: %w", err)
	default:
		sender = smtpSender
	}
	deps.Notifier = email.NewDispatcher(sender, email.DispatcherConfig{
		AppName:     cfg.SMTP.FromName,
		AppURL:      cfg.AppURL,
		ReplyTo:     cfg.SMTP.ReplyTo,
		AdminNotify: cfg.SMTP.AdminNotify,
		Timeout:     cfg.SMTP.SendTimeout,
	}, log)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		limiter := ratelimit.NewRedisLimiter(client, "rangeclaims:ratelimit:", cfg.ClaimSubmitLimit, cfg.ClaimSubmitWindow)
		defer limiter.Close()
		deps.Limiter = limiter
		log.Info("using redis for claim submission limits")
	}

	if strings.TrimSpace(cfg.NATSURL) != "" {
		publisher, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer publisher.Close()
		deps.Events = publisher
		log.Info("publishing claim events to nats")
	}

	if strings.TrimSpace(cfg.Evidence.Endpoint) != "" {
		storage, err := evidence.NewMinioStorage(ctx, evidence.MinioConfig{
			Endpoint:  cfg.Evidence.Endpoint,
			AccessKey: cfg.Evidence.AccessKey,
			SecretKey: cfg.Evidence.SecretKey,
			Bucket:    cfg.Evidence.Bucket,
			UseSSL:    cfg.Evidence.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("evidence storage: %w", err)
		}
		deps.Evidence = storage
	} else {
		log.Warn("evidence storage not configured, document uploads are disabled")
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("rangeclaims api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
