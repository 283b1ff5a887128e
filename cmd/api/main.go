package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-engine/internal/audit"
	"call-engine/internal/auth"
	"call-engine/internal/booking"
	"call-engine/internal/config"
	"call-engine/internal/httpapi"
	"call-engine/internal/registry"
	"call-engine/internal/reporting"
	"call-engine/internal/session"
	"call-engine/internal/settlement"
	"call-engine/internal/transport"
	"call-engine/pkg/logger"
	"call-engine/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Engine wiring. The gateway is both the engine's transport and the
	// WebSocket endpoint, so it is constructed first and bound afterwards.
	// The allocator doubles as the gateway's attach directory: only the
	// registered address for a role may attach.
	alloc := registry.NewAllocator(registry.NewRedisStore(rdb, 0), cfg.Call.PeerRegisterAttempts)
	gateway := transport.NewGateway(nil, alloc, log)

	auditSvc := audit.NewService(audit.NewMemoryRepo())

	ledger := settlement.NewPostgresLedger(db)
	dispatcher := settlement.NewDispatcher(ledger, settlement.DispatcherConfig{
		MaxRetries:      uint64(cfg.Call.SettleMaxRetries),
		InitialInterval: cfg.Call.SettleRetryBase,
		OnDelivered: func(in settlement.Instruction) {
			meta := fmt.Sprintf(`{"net_minor":%d,"currency":%q}`, in.NetMinor, in.Currency)
			if err := auditSvc.LogSettlement(rootCtx, in.SessionID, meta); err != nil {
				log.Debug("audit settlement failed", "session_id", in.SessionID, "err", err)
			}
		},
	}, log)

	termsRepo := booking.NewPostgresRepo(db)
	mgr := session.NewManager(session.ManagerOptions{
		Config: session.Config{
			RingTimeout:    cfg.Call.RingTimeout,
			ConnectTimeout: cfg.Call.ConnectTimeout,
			TickInterval:   cfg.Call.TickInterval,
		},
		Terms:     termsRepo,
		Registry:  alloc,
		Transport: gateway,
		Settler:   dispatcher,
		Log:       log,
	})
	gateway.Bind(mgr)
	reports := reporting.NewService(&reporting.EngineRepo{
		SessionSource:    mgr,
		SettlementSource: ledger,
	})

	// Pump engine events to attached peers.
	wsEvents, cancelWS := mgr.Subscribe()
	defer cancelWS()
	go gateway.Forward(rootCtx, wsEvents)

	// Record transitions and release per-caller session caps.
	trailEvents, cancelTrail := mgr.Subscribe()
	defer cancelTrail()
	go func() {
		for ev := range trailEvents {
			if ev.Type != session.EventStateChange {
				continue
			}
			if err := auditSvc.LogTransition(rootCtx, ev.SessionID, string(ev.PreviousState), string(ev.NewState), string(ev.EndReason)); err != nil {
				log.Debug("audit transition failed", "session_id", ev.SessionID, "err", err)
			}
			if ev.NewState.Terminal() && cfg.Call.MaxLiveSessions > 0 {
				if snap, err := mgr.Snapshot(ev.SessionID); err == nil {
					_ = utils.ReleaseConcurrencyCap(rootCtx, rdb, httpapi.LiveSessionCapKey(snap.CallerID))
				}
			}
		}
	}()

	handlers := httpapi.Handlers{
		Auth:            authManager,
		Sessions:        mgr,
		Settler:         dispatcher,
		Reports:         reports,
		Audit:           auditSvc,
		Terms:           termsRepo,
		Redis:           rdb,
		MaxLiveSessions: cfg.Call.MaxLiveSessions,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, gateway, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Live sessions fail and settle before the listener closes.
	mgr.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
