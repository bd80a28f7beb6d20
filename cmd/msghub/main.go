package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"msghub/internal/access"
	"msghub/internal/auth"
	"msghub/internal/call"
	"msghub/internal/config"
	"msghub/internal/observability/logging"
	"msghub/internal/observability/metrics"
	"msghub/internal/presence"
	"msghub/internal/registry"
	"msghub/internal/router"
	"msghub/internal/store"
	"msghub/internal/transfer"
	httptransport "msghub/internal/transport/http"
	"msghub/internal/transport/ws"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	log := logging.NewLogger(logging.Config{
		ServiceName: "msghub",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(log)

	metrics.MustRegister()

	st, err := store.Open(store.Config{DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		log.Error("opening database", "error", err)
		os.Exit(1)
	}
	if err := st.AutoMigrate(context.Background()); err != nil {
		log.Error("running migrations", "error", err)
		os.Exit(1)
	}

	reg := registry.New()
	pres := presence.New(reg, st, log)
	rt := router.New(reg, st, log)
	calls := call.New(reg, st, log, cfg.CallAcceptTimeout)
	transfers := transfer.New(reg, rt, log, transfer.Config{
		SizeThreshold:        cfg.RelaySizeThreshold,
		NegotiationTimeout:   cfg.NegotiationTimeout,
		AbortActiveOnOffline: cfg.P2PAbortOnOffline,
	})
	guard := access.New(st)

	metrics.MustRegisterActivityGauges(
		func() int { return len(reg.OnlineAccounts()) },
		calls.ActiveCount,
		transfers.ActiveCount,
	)

	tokens := auth.NewTokens(cfg.SigningKey, cfg.Issuer, cfg.AccessTTL)
	authSvc := auth.NewService(st, tokens)

	gateway := ws.NewGateway(reg, pres, rt, calls, transfers, tokens, log, ws.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		SendQueueSize:     cfg.SendQueueSize,
	})

	handler := httptransport.NewRouter(
		authSvc, tokens, st, guard, transfers, gateway, log,
		cfg.UploadDir, cfg.CORSOrigins,
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown", "error", err)
	}
}
