package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/soundmesh/internal/adapters/http"
	"github.com/dkeye/soundmesh/internal/adapters/rtc"
	wssignal "github.com/dkeye/soundmesh/internal/adapters/signal"
	"github.com/dkeye/soundmesh/internal/app"
	"github.com/dkeye/soundmesh/internal/app/orch"
	"github.com/dkeye/soundmesh/internal/config"
	"github.com/dkeye/soundmesh/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	metrics.Register(prometheus.DefaultRegisterer)

	media, err := rtc.NewFactory(rtc.Options{
		ICEServers: cfg.ICEServers,
		UDPPortMin: cfg.UDPPortMin,
		UDPPortMax: cfg.UDPPortMax,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init media engine")
	}

	o, err := orch.New(ctx, orch.Config{
		Secret:             cfg.Secret,
		RequireApproval:    cfg.RequireApproval,
		RenegotiateWorkers: cfg.RenegotiationWorkers,
		SweepInterval:      cfg.ReconcileInterval,
	}, app.NewChannelDirectory(cfg.Channels...), app.NewPolicy(cfg.EnforceTalk), media)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init orchestrator")
	}

	ctrl := wssignal.NewSignalWSController(o,
		wssignal.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow),
		wssignal.Options{
			ReadLimit:        cfg.ReadLimit,
			PingPeriod:       cfg.PingPeriod,
			PongWait:         cfg.PongWait,
			WriteWait:        wssignal.DefaultOptions().WriteWait,
			HandshakeTimeout: cfg.HandshakeTimeout,
			SendBuffer:       wssignal.DefaultOptions().SendBuffer,
		})

	r := router.SetupRouter(cfg, o, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("soundmesh server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Close()
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
