package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msbkrkyn/defi-yield-tracker/internal/config"
	"github.com/msbkrkyn/defi-yield-tracker/internal/proxy"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := proxy.NewServer(proxy.Options{
		Addr:        cfg.Listen,
		UpstreamURL: cfg.AggregatorURL,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		RatePerSec:  cfg.RatePerSec,
		Burst:       cfg.Burst,
		TokenTTL:    cfg.TokenTTL,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	logger.Info("proxy start",
		zap.String("listen", cfg.Listen),
		zap.String("upstream", cfg.AggregatorURL),
		zap.Duration("token_ttl", cfg.TokenTTL),
		zap.Float64("rate", cfg.RatePerSec),
	)

	return srv.Start(ctx)
}
