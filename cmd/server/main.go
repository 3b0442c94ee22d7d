package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"reviewboard/internal/app"
	"reviewboard/internal/config"
	"reviewboard/internal/mailer"
	"reviewboard/internal/server"
	"reviewboard/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	tokenTTL, err := config.ParseTTL(cfg.TokenTTL, 24*time.Hour)
	if err != nil {
		log.Fatalf("failed to parse token TTL: %v", err)
	}
	confirmTTL, err := config.ParseTTL(cfg.ConfirmTTL, 24*time.Hour)
	if err != nil {
		log.Fatalf("failed to parse confirmation TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var mail mailer.Mailer
	if cfg.AMQPURL != "" {
		amqpMail, err := mailer.NewAMQPMailer(cfg.AMQPURL, cfg.MailQueue)
		if err != nil {
			log.Fatalf("failed to connect mail broker: %v", err)
		}
		defer amqpMail.Close()
		mail = amqpMail
	} else {
		mail = mailer.LogMailer{}
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		TokenSecret:   cfg.TokenSecret,
		TokenTTL:      tokenTTL,
		ConfirmSecret: cfg.ConfirmSecret,
		ConfirmTTL:    confirmTTL,
		Mail:          mail,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		TokenRateLimitPerMinute:  cfg.TokenRateLimitPerMinute,
		TrustedProxies:           cfg.TrustedProxyCIDRs,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
