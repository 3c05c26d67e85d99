package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"inreach-relay/internal/config"
	"inreach-relay/internal/inbound"
	"inreach-relay/internal/logging"
	"inreach-relay/internal/logsink"
	"inreach-relay/internal/relay"
)

func main() {
	path := os.Getenv("RELAY_CONFIG")
	if path == "" {
		path = "configs/config.ini"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}
	logger, closeLogger, err := logging.NewLogger(logging.Options{
		File:       cfg.Logging.File,
		Level:      cfg.Logging.Level,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		panic(err)
	}
	defer closeLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sink := logsink.New(cfg.LogSink.Host, cfg.LogSink.Token, logsink.WithLogger(logger))
	client := inbound.Client{
		Host:     cfg.Inbound.Host,
		Username: cfg.Inbound.User,
		Password: cfg.Inbound.Password,
		Logger:   logger,
	}
	h, err := relay.NewHandler(relay.Settings{
		AuthToken:     cfg.Relay.AuthToken,
		SenderIMEI:    cfg.Relay.SenderIMEI,
		SenderAddress: cfg.Relay.SenderAddress,
		ReceiverIMEI:  cfg.Relay.ReceiverIMEI,
	}, client,
		relay.WithSink(sink),
		relay.WithMetrics(relay.NewMetrics(reg)),
		relay.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build handler")
	}

	srv := &http.Server{
		Addr: cfg.Server.ListenAddr,
		Handler: relay.NewRouter(h, relay.RouterOptions{
			FunctionName:      cfg.Server.FunctionName,
			InvocationTimeout: cfg.InvocationTimeout(),
			Gatherer:          reg,
			Logger:            logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.InvocationTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", cfg.Server.ListenAddr).
		Str("inbound", client.URL()).
		Bool("log_sink", sink.Enabled()).
		Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("http server failed")
	}
}
