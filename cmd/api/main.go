package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"

	"loginshield.io/internal/app"
	"loginshield.io/internal/auth"
	"loginshield.io/internal/config"
	"loginshield.io/internal/enforce"
	"loginshield.io/internal/events"
	"loginshield.io/internal/httpapi"
	"loginshield.io/internal/obs"
	"loginshield.io/internal/session"
	"loginshield.io/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	log := obs.Logger()

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	log = obs.Logger()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	shutdownTracing, err := obs.InitTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open stores")
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error().Err(err).Msg("close stores")
		}
	}()

	sink, err := app.NewSink(cfg.Events)
	if err != nil {
		log.Fatal().Err(err).Msg("event sink")
	}
	hub := stream.New(64)
	emitter := events.NewEmitter(sink, hub, cfg.Events.QueueSize)

	var tokens *auth.TokenIssuer
	if cfg.AdminJWTSecret != "" {
		if tokens, err = auth.NewTokenIssuer(cfg.AdminJWTSecret); err != nil {
			log.Fatal().Err(err).Msg("admin tokens")
		}
	} else {
		log.Warn().Msg("ADMIN_JWT_SECRET not set, admin api disabled")
	}

	revoker := session.NewRevoker(stores.Sessions, stores.Transport)
	coordinator := enforce.NewCoordinator(stores.Blocks, auth.NewAuthenticator(stores.Users), stores.Transport, revoker, emitter)
	probe := stores.Probe()

	api := httpapi.New(httpapi.Deps{
		Login:     coordinator,
		Gate:      enforce.NewGate(stores.Blocks, revoker, cfg.Session.CookieName),
		Sessions:  revoker,
		Transport: stores.Transport,
		Users:     stores.Users,
		Blocks:    stores.Blocks,
		Tokens:    tokens,
		Stream:    hub,
		Ready:     probe,
		Version:   version,
		Settings: httpapi.Settings{
			CookieName:     cfg.Session.CookieName,
			CookieMaxAge:   cfg.Session.MaxAge,
			RateLimitRPS:   cfg.HTTP.RateLimitRPS,
			RateLimitBurst: cfg.HTTP.RateLimitBurst,
			MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
		},
	})
	defer api.Close()

	janitor := &app.Janitor{
		Blocks:        stores.Blocks,
		Sessions:      revoker,
		PurgeInterval: cfg.Maintenance.BlockPurgeInterval,
		SweepInterval: cfg.Maintenance.SessionSweepInterval,
		SessionMaxAge: cfg.Session.MaxAge,
	}
	go janitor.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("starting loginshield http")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
		}
		grpcSrv = grpc.NewServer()
		httpapi.NewGRPCServer(probe).Register(grpcSrv)
		go func() {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("starting grpc health")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Error().Err(err).Msg("grpc server")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	// Ends admin event streams; Shutdown would otherwise wait on them.
	api.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown http server")
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDrain()
	if err := emitter.Close(drainCtx); err != nil {
		log.Error().Err(err).Msg("flush events")
	}
	log.Info().Msg("stopped")
}
