package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"notifgw/internal/blacklist"
	"notifgw/internal/cache"
	"notifgw/internal/channel"
	"notifgw/internal/config"
	"notifgw/internal/httpapi"
	"notifgw/internal/idempotency"
	"notifgw/internal/logging"
	"notifgw/internal/observability"
	"notifgw/internal/queue/backend"
	"notifgw/internal/ratelimit"
	"notifgw/internal/service"
	"notifgw/internal/shortlink"
	"notifgw/internal/store/pg"
	"notifgw/internal/worker"
	"notifgw/internal/workerpool"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.OptionsFrom(cfg.DBConfig))
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := cache.NewClient(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		slog.Error("api redis connect failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	keys := cache.NewKeys(cfg.CacheNamespace)
	q, err := backend.Open(ctx, cfg.QueueConfig, rdb, keys.SendQueue())
	if err != nil {
		slog.Error("api queue init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	store := pg.New(db)
	kv := cache.New(rdb)

	dispatcher := &service.Dispatcher{
		Store:    store,
		Queue:    q.Queue,
		Markers:  idempotency.New(rdb, cfg.IdempotencyTTL),
		Limiter:  ratelimit.NewFixedWindow(rdb, "template"),
		// Admission only asks which channel types are deliverable.
		Handlers: channel.NewRegistry(channel.GuardOptions{}, channel.DefaultHandlers(channel.NewHTTPClient(cfg.ChannelSendTimeout))...),
		Keys:     keys,
	}

	guard := blacklist.New(kv, keys, store, blacklist.Config{
		AutoBanEnabled: cfg.AutoBanEnabled,
		Threshold:      cfg.AutoBanThreshold,
		BanDuration:    cfg.AutoBanDuration,
		ViolationTTL:   cfg.ViolationTTL,
		CacheTTL:       cfg.BlacklistCacheTTL,
	})
	gate := shortlink.NewGate(ratelimit.NewSlidingWindow(rdb, "short_url"), guard, keys, shortlink.GateConfig{
		RateLimitEnabled: cfg.RateLimitEnabled,
		IPPerMinute:      cfg.IPPerMinute,
		GlobalPerMinute:  cfg.GlobalPerMinute,
	})
	accessPool := workerpool.New(workerpool.Options{
		Name:    "short_url_access",
		Core:    cfg.AccessLogWorkers,
		Max:     cfg.AccessLogWorkers,
		Backlog: cfg.AccessLogBacklog,
		Policy:  workerpool.Drop,
	})
	links := shortlink.New(store, kv, keys, accessPool, shortlink.Config{
		Domain:      cfg.ShortURLDomain,
		CodeLength:  cfg.ShortCodeLength,
		DefaultTTL:  cfg.DefaultLinkTTL,
		NegativeTTL: cfg.NegativeCacheTTL,
	})

	s := httpapi.New(observability.APIRequests)
	(&httpapi.API{
		Sender:  dispatcher,
		Retries: &worker.Processor{Store: store, Keys: keys},
		Refresh: channel.NewRefreshBus(rdb, keys.ChannelRefresh()),
	}).Register(s.Mux)
	(&httpapi.ShortLinks{Links: links, Gate: gate}).Register(s.Mux)
	(&httpapi.Blacklist{Guard: guard}).Register(s.Mux)
	(&httpapi.Callbacks{Store: store, AuthToken: cfg.TwilioAuthToken, PublicURL: cfg.PublicCallbackURL}).Register(s.Mux)
	httpapi.RegisterHealth(s.Mux, 2*time.Second,
		httpapi.ReadyzCheck{Name: "db", Check: db.Ping},
		httpapi.ReadyzCheck{Name: "redis", Check: func(c context.Context) error { return rdb.Ping(c).Err() }},
		httpapi.ReadyzCheck{Name: "queue_" + q.Name, Check: q.Ready},
	)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.Mux, ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: httpapi.NewMetrics().Mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("api listening", "port", cfg.Port, "queue", q.Name)
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		slog.Info("api metrics listening", "port", cfg.MetricsPort)
		errCh <- metricsSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exit := 0
	select {
	case sig := <-sigCh:
		slog.Info("api shutdown", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "err", err)
			exit = 1
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := accessPool.Shutdown(shutdownCtx); err != nil {
		slog.Warn("access log pool did not drain", "err", err)
	}
	if exit != 0 {
		os.Exit(exit)
	}
}
