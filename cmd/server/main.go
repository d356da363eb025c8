package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/edustream/classroom/internal/adapters/http"
	"github.com/edustream/classroom/internal/adapters/rtc"
	wsignal "github.com/edustream/classroom/internal/adapters/signal"
	"github.com/edustream/classroom/internal/app"
	"github.com/edustream/classroom/internal/app/sfu"
	"github.com/edustream/classroom/internal/config"
	"github.com/edustream/classroom/internal/fleet"
	"github.com/edustream/classroom/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	instanceID := uuid.NewString()
	log.Info().Str("instance", instanceID).Msg("instance id assigned")

	roomStore := store.New(cfg.Redis.Addr, cfg.Redis.Password)
	if err := roomStore.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("redis unreachable")
	}

	numWorkers := runtime.NumCPU()
	if cfg.Media.MaxWorkers > 0 && numWorkers > cfg.Media.MaxWorkers {
		numWorkers = cfg.Media.MaxWorkers
	}
	media, err := sfu.NewManager(rtc.NewEngine(), roomStore, numWorkers)
	if err != nil {
		log.Fatal().Err(err).Msg("media worker pool failed to start")
	}

	provider, err := fleet.NewEC2Provider(ctx, cfg.AWS.Region)
	if err != nil {
		log.Fatal().Err(err).Msg("fleet provider init")
	}
	coordinator := fleet.NewCoordinator(roomStore, provider, fleet.Config{
		ImageID:        cfg.AWS.ImageID,
		InstanceType:   cfg.AWS.InstanceType,
		SubnetID:       cfg.AWS.SubnetID,
		SecurityGroup:  cfg.AWS.SecurityGroup,
		SettleDelay:    cfg.Provision.SettleDelay,
		RunningTimeout: cfg.Provision.RunningTimeout,
	})

	// Reclamation is externally triggered by design; the ticker is an
	// opt-in convenience for single-node deployments.
	if cfg.Provision.ReclaimInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Provision.ReclaimInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n, err := coordinator.ReclaimIdle(ctx); err != nil {
						log.Warn().Err(err).Msg("idle reclaim pass failed")
					} else if n > 0 {
						log.Info().Int("released", n).Msg("idle instances reclaimed")
					}
				}
			}
		}()
	}

	registry := app.NewRegistry()
	ctl := wsignal.NewController(registry, roomStore, media, instanceID)
	handlers := router.NewHandlers(roomStore, coordinator, registry, media, instanceID, cfg.Port)

	r := router.SetupRouter(ctx, cfg, handlers, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("classroom server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := roomStore.Close(); err != nil {
		log.Error().Err(err).Msg("store close")
	}
	log.Info().Msg("Server exited gracefully")
}
