// gchat-gateway is a local REST+WebSocket front end over the chat service's
// private wire protocol.
//
// Startup sequence:
//  1. Load configuration (JSON file or defaults) and resolve the cache dir.
//  2. Open the browser cookie vault and build the auth manager on top of it.
//  3. Create the Chrome-fingerprinted transport and the typed chat client.
//  4. Start the streaming channel with its event bus and stay-online loop.
//  5. Serve the gateway, then block until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/auth"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/channel"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/config"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/events"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/gateway"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/metrics"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/transport"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/vault"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Flags ──────────────────────────────────────────────────────────────
	configFile := flag.String("config", "", "Path to JSON config file (optional; uses defaults if omitted)")
	addr := flag.String("addr", "", "Gateway listen address (overrides config)")
	cacheDir := flag.String("cache-dir", "", "Cache directory (overrides $GCHAT_CACHE_DIR)")
	browser := flag.String("browser", "", "Cookie source browser: chrome, brave, edge, chromium, arc")
	profile := flag.String("profile", "", "Browser profile directory name")
	cookieFile := flag.String("cookie-file", "", "Read cookies from this store file instead of discovering one")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// ── Configuration ──────────────────────────────────────────────────────
	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	} else {
		cfg = config.DefaultConfig()
	}
	if *addr != "" {
		cfg.GatewayAddr = *addr
	}
	if *browser != "" {
		cfg.Browser = *browser
	}
	if *profile != "" {
		cfg.Profile = *profile
	}
	if *cookieFile != "" {
		cfg.CookieFile = *cookieFile
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}
	if *debug {
		cfg.Debug = true
	}

	// ── Logger and metrics ─────────────────────────────────────────────────
	level := logger.LevelInfo
	if cfg.Debug {
		level = logger.LevelDebug
	}
	log := logger.New(level)
	log.Info("gchat gateway starting up")

	logRing := gateway.NewLogRing(512)
	log.SetSink(logRing.Sink)
	m := metrics.New()

	// ── Cookie vault and auth manager ──────────────────────────────────────
	resolvedCache, err := config.ResolveCacheDir(cfg.CacheDir)
	if err != nil {
		log.Errorf("%v", err)
		return 2
	}

	source, err := vault.New(cfg.Browser, cfg.Profile, cfg.CookieFile, log)
	if err != nil {
		log.Errorf("cookie vault: %v", err)
		return 2
	}
	authMgr, err := auth.NewManager(auth.ManagerOptions{
		Source:   source,
		CacheDir: resolvedCache,
		Log:      log,
	})
	if err != nil {
		log.Errorf("auth manager: %v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := authMgr.Authenticate(ctx, false); err != nil {
		log.Errorf("initial authentication failed: %v", err)
		if errors.Is(err, auth.ErrNotLoggedIn) {
			log.Error("sign in to the chat service in the selected browser, then restart")
		}
		return 1
	}
	log.Info("authenticated against the upstream")
	if cfg.AuthWatchInterval > 0 {
		go authMgr.WatchLoop(ctx, cfg.AuthWatchInterval)
	}

	// ── Transport and chat client ──────────────────────────────────────────
	rpc, err := transport.New(transport.Options{
		Auth:    authMgr,
		Timeout: cfg.RequestTimeout,
		Log:     log,
		Metrics: m,
	})
	if err != nil {
		log.Errorf("transport: %v", err)
		return 1
	}
	drift := chat.NewDriftObserver(log)
	mapper := chat.NewMapper(drift)
	client := chat.NewClient(rpc, mapper, log)

	// ── Streaming channel ──────────────────────────────────────────────────
	bus := events.NewBus()
	stream, err := channel.New(channel.Options{
		Auth:    authMgr,
		Bus:     bus,
		Mapper:  mapper,
		Log:     log,
		Metrics: m,
	})
	if err != nil {
		log.Errorf("channel: %v", err)
		return 1
	}
	go func() {
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("channel stopped: %v", err)
		}
	}()
	go stream.StayOnline(ctx, cfg.KeepaliveInterval,
		int(cfg.PresenceSharedTimeout/time.Second), client)

	// On every (re)connect, register the session for all visible groups.
	bus.Subscribe(func(events.Event) {
		go func() {
			items, _, err := client.ListWorld(ctx, 0)
			if err != nil {
				log.Errorf("world list for subscriptions: %v", err)
				return
			}
			groups := make([]chat.GroupId, 0, len(items))
			for _, item := range items {
				groups = append(groups, item.Group)
			}
			if err := stream.SubscribeToAll(ctx, groups); err != nil {
				log.Errorf("subscribe to %d groups: %v", len(groups), err)
				return
			}
			log.Infof("subscribed to %d groups", len(groups))
		}()
	}, events.KindConnected)

	// ── Gateway ────────────────────────────────────────────────────────────
	gw, err := gateway.New(gateway.Options{
		Client:          client,
		Auth:            authMgr,
		Bus:             bus,
		Log:             log,
		Metrics:         m,
		LogRing:         logRing,
		MarkReadSpacing: cfg.MarkReadSpacing,
		CacheDir:        resolvedCache,

		PageSize:          cfg.PageSize,
		MaxPages:          cfg.MaxPages,
		ExpandParallelism: cfg.ExpandParallelism,
	})
	if err != nil {
		log.Errorf("gateway: %v", err)
		return 1
	}
	gw.Start(ctx)

	server := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("gateway listening on %s", cfg.GatewayAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("gateway server error: %v", err)
			stop()
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("gateway shutdown: %v", err)
	}

	if n := drift.Total(); n > 0 {
		log.Infof("schema drift findings this run: %d", n)
	}
	log.Info("gchat gateway shut down cleanly")
	return 0
}
