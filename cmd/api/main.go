package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"gradify.org/internal/auth"
	"gradify.org/internal/config"
	"gradify.org/internal/httpapi"
	"gradify.org/internal/ledger"
	"gradify.org/internal/obs"
	"gradify.org/internal/store/pg"
	"gradify.org/internal/stream"
	"gradify.org/internal/vesting"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gradify-vesting: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	log := obs.Setup("gradify-vesting", cfg.Env, cfg.LogFormat, cfg.Verbose)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Postgres when a DSN is configured, in-memory stores otherwise.
	var (
		ledgerSvc ledger.Service
		store     vesting.Store
		ready     httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		db, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.Ping(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		ledgerSvc, store, ready = db, db.Vesting(), httpapi.ReadyProbe{DB: db.DB()}
		log.Info("storage: postgres")
	} else {
		ledgerSvc, store = ledger.NewInMemory(), vesting.NewMemoryStore()
		log.Warn("storage: in-memory, state is lost on restart")
	}

	events := stream.New(cfg.StreamBuffer)
	svc, err := vesting.New(vesting.Config{
		Logger:    log,
		Store:     store,
		Custody:   vesting.LedgerCustody{Ledger: ledgerSvc, Token: cfg.Token},
		ProgramID: cfg.ProgramKey(),
		Token:     cfg.Token,
		Events:    events,
	})
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokens(cfg.AuthSecret)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Options{
		Version:        version,
		Vesting:        svc,
		Ledger:         ledgerSvc,
		Stream:         events,
		Tokens:         tokens,
		Ready:          ready,
		DevTokens:      cfg.DevTokens,
		TokenTTL:       cfg.TokenTTL,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		CORSOrigins:    cfg.CORSOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	// WriteTimeout stays zero so SSE subscribers are not cut off.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		log.Info("http: listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var gs *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs = grpc.NewServer(httpapi.ServerOptions(tokens)...)
		httpapi.NewGRPCServer(svc, ready, version).Register(gs)
		go func() {
			log.Info("grpc: listening", "addr", cfg.GRPCAddr)
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if gs != nil {
		done := make(chan struct{})
		go func() { gs.GracefulStop(); close(done) }()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			gs.Stop()
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("stopped")
	return nil
}
