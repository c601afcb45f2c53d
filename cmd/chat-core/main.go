package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/chat-core/config"
	"github.com/cwrk-planet/chat-core/internal/coord"
	"github.com/cwrk-planet/chat-core/internal/identity"
	"github.com/cwrk-planet/chat-core/internal/msglog"
	"github.com/cwrk-planet/chat-core/internal/msglog/memstore"
	"github.com/cwrk-planet/chat-core/internal/msglog/pebblestore"
	"github.com/cwrk-planet/chat-core/internal/postgres"
	"github.com/cwrk-planet/chat-core/internal/reaction"
	"github.com/cwrk-planet/chat-core/internal/room"
	"github.com/cwrk-planet/chat-core/internal/session"
	"github.com/cwrk-planet/chat-core/internal/simulate"
	httpx "github.com/cwrk-planet/chat-core/internal/transport/http"
	"github.com/cwrk-planet/chat-core/internal/transport/ws"
	"github.com/cwrk-planet/chat-core/internal/typing"
	"github.com/cwrk-planet/chat-core/pkg/logger"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting chat-core",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "storage", cfg.Storage.Backend)

	ctx := context.Background()

	// --- message store ---
	var store msglog.Store
	var closeStore func()
	switch cfg.Storage.Backend {
	case "memory":
		store = memstore.New()
		closeStore = func() {}
	case "pebble":
		ps, err := pebblestore.Open(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("pebble: %v", err)
		}
		store = ps
		closeStore = func() { _ = ps.Close() }
	case "postgres":
		db, err := postgres.New(ctx, cfg.Storage.DSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		ms := postgres.NewMessageStore(db.Pool)
		if err := ms.Migrate(ctx); err != nil {
			log.Fatalf("postgres migrate: %v", err)
		}
		store = ms
		closeStore = db.Close
	}
	defer closeStore()

	// --- identity / auth ---
	ids := identity.NewRegistry(identity.WithBcryptCost(cfg.Auth.BcryptCost))
	signer := identity.NewSigner(cfg.Auth.TokenSecret, cfg.Auth.TokenTTLDuration(), time.Now)

	// --- core ---
	msgLog := msglog.New(store, msglog.WithResolver(ids))
	reactions := reaction.NewAggregator(msgLog)
	tracker := typing.NewTracker(typing.WithWindow(cfg.Chat.TypingWindowDuration()))
	sessions := session.NewRegistry(session.WithAwayWindow(cfg.Chat.AwayWindowDuration()))
	rooms := room.NewDirectory(time.Now)

	coordinator, err := coord.New(sessions, rooms, msgLog, reactions, tracker,
		coord.WithDefaultRoom(cfg.Chat.DefaultRoom),
		coord.WithSubscriberBuffer(cfg.Chat.SubscriberBuffer),
	)
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}

	// --- transport ---
	wsServer := ws.NewServer(coordinator, ids, signer)
	handler := httpx.NewHandler(coordinator, ids, signer)
	router := httpx.NewRouter(handler, signer, coordinator, wsServer)

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// --- simulated traffic (dev only) ---
	simCtx, stopSim := context.WithCancel(ctx)
	defer stopSim()
	if cfg.Simulate.Enabled {
		driver := simulate.NewDriver(coordinator, ids, cfg.Simulate.Seed)
		go func() {
			if err := driver.Run(simCtx); err != nil && err != context.Canceled {
				slog.Warn("simulate stopped", "err", err)
			}
		}()
	}

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	stopSim()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctxShutdown)
	slog.Info("stopped")
}
