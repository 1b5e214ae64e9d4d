package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"eduportal.org/internal/auth"
	"eduportal.org/internal/config"
	"eduportal.org/internal/httpapi"
	"eduportal.org/internal/obs"
	"eduportal.org/internal/sessions"
	"eduportal.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "eduportal-auth: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Version == "dev" {
		cfg.Version = version
	}

	log, err := obs.InitLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	if cfg.SecretGenerated {
		log.Warn("TOKEN_SECRET is empty; using a per-process random secret, tokens will not survive a restart")
	}

	// Инициализация observability (регистрация метрик, build info, трейсинг)
	obs.Init()
	obs.InitBuildInfo(cfg.Version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		Endpoint:       cfg.OTelEndpoint,
		ServiceName:    "eduportal-auth",
		ServiceVersion: cfg.Version,
		Insecure:       cfg.OTelInsecure,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	probe := httpapi.ReadyProbe{Checks: map[string]func(context.Context) error{
		"postgres": store.Ping,
	}}

	backend, err := sessions.Open(cfg, store.DBX())
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()
	if backend.Name == config.BackendRedis {
		probe.Checks["redis"] = backend.Ping
	}
	registry := backend.Registry

	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:    []byte(cfg.Token.Secret),
		Algorithm: cfg.Token.Algorithm,
		Issuer:    cfg.Token.Issuer,
		Audience:  cfg.Token.Audience,
		Leeway:    cfg.Token.ClockSkew,
	})
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}
	authn, err := auth.NewAuthenticator(store, registry, codec,
		auth.WithAccessTTL(cfg.Token.AccessTTL),
		auth.WithRefreshTTL(cfg.Token.RefreshTTL),
		auth.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("authenticator: %w", err)
	}
	guard, err := auth.NewGuard(codec, store, registry,
		auth.WithSessionCheck(cfg.SessionCheck),
		auth.WithGuardLogger(log),
	)
	if err != nil {
		return fmt.Errorf("guard: %w", err)
	}

	sweeper, err := sessions.NewSweeper(registry, cfg.SweepSchedule, log)
	if err != nil {
		return fmt.Errorf("session sweeper: %w", err)
	}
	sweeper.Start()

	api, err := httpapi.New(authn, guard, probe, httpapi.Options{
		Version:        cfg.Version,
		RateLimitBurst: cfg.RateLimitBurst,
		RateLimitRPS:   cfg.RateLimitRPS,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSOrigins,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(httpapi.UnaryLogging))
	httpapi.NewGRPCServer(probe, guard, cfg.Version).Register(grpcServer)

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			log.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	sweeper.Stop(shutdownCtx)
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn("tracer shutdown", zap.Error(err))
	}
	log.Info("stopped")
	return nil
}
