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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"notifgw/internal/cache"
	"notifgw/internal/channel"
	"notifgw/internal/config"
	"notifgw/internal/domain"
	"notifgw/internal/httpapi"
	"notifgw/internal/idempotency"
	"notifgw/internal/logging"
	"notifgw/internal/observability"
	"notifgw/internal/queue/backend"
	"notifgw/internal/store/pg"
	"notifgw/internal/worker"
	"notifgw/internal/workerpool"
)

func main() {
	cfg := config.LoadWorker()
	logging.Init("worker", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.OptionsFrom(cfg.DBConfig))
	if err != nil {
		slog.Error("worker db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := cache.NewClient(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		slog.Error("worker redis connect failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	keys := cache.NewKeys(cfg.CacheNamespace)
	q, err := backend.Open(ctx, cfg.QueueConfig, rdb, keys.SendQueue())
	if err != nil {
		slog.Error("worker queue init failed", "err", err)
		os.Exit(1)
	}
	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	err = q.Ready(startupCtx)
	startupCancel()
	if err != nil {
		slog.Error("queue not reachable", "backend", q.Name, "err", err)
		os.Exit(1)
	}

	policy, err := workerpool.ParsePolicy(cfg.WorkerOverflowPolicy)
	if err != nil {
		slog.Error("invalid worker config", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	registry := channel.NewRegistry(channel.GuardOptions{
		SendTimeout:     cfg.ChannelSendTimeout,
		RPS:             cfg.ChannelRPSPerPod,
		Burst:           cfg.ChannelBurst,
		BreakerFailures: cfg.ChannelBreakerFailures,
		BreakerOpen:     cfg.ChannelBreakerOpen,
	}, channel.DefaultHandlers(channel.NewHTTPClient(cfg.ChannelSendTimeout))...)

	processor := &worker.Processor{
		Store:      pg.New(db),
		Markers:    idempotency.New(rdb, cfg.IdempotencyTTL),
		Dispatcher: registry,
		Keys:       keys,
	}

	pool := workerpool.New(workerpool.Options{
		Name:      "batch",
		Core:      cfg.WorkerCoreSize,
		Max:       cfg.WorkerMaxSize,
		Backlog:   cfg.WorkerBacklog,
		KeepAlive: cfg.WorkerKeepAlive,
		Policy:    policy,
	})

	poller := &worker.Poller{
		Queue:   q.Queue,
		Pool:    pool,
		Timeout: cfg.QueuePopTimeout,
		Handle: func(ctx context.Context, job domain.QueueJob) {
			start := time.Now()
			slog.Info("worker job start", "batch_id", job.BatchID)
			if err := processor.Process(ctx, job); err != nil {
				slog.Error("worker job finish", "batch_id", job.BatchID, "status", "error",
					"duration", time.Since(start), "err", err)
				return
			}
			slog.Info("worker job finish", "batch_id", job.BatchID, "status", "ok", "duration", time.Since(start))
		},
	}

	// health server (liveness + readiness) and metrics
	health := httpapi.New(nil)
	httpapi.RegisterHealth(health.Mux, 2*time.Second,
		httpapi.ReadyzCheck{Name: "db", Check: db.Ping},
		httpapi.ReadyzCheck{Name: "redis", Check: func(c context.Context) error { return rdb.Ping(c).Err() }},
		httpapi.ReadyzCheck{Name: "queue_" + q.Name, Check: q.Ready},
	)
	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: health.Mux, ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: httpapi.NewMetrics().Mux, ReadHeaderTimeout: 5 * time.Second}

	srvErrCh := make(chan error, 2)
	go func() {
		slog.Info("worker health listening", "port", cfg.Port)
		srvErrCh <- healthSrv.ListenAndServe()
	}()
	go func() {
		slog.Info("worker metrics listening", "port", cfg.MetricsPort)
		srvErrCh <- metricsSrv.ListenAndServe()
	}()

	// poller + channel refresh listener
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	g, gctx := errgroup.WithContext(pollCtx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error {
		return channel.NewRefreshBus(rdb, keys.ChannelRefresh()).Listen(gctx, registry, nil)
	})
	loopDone := make(chan error, 1)
	go func() { loopDone <- g.Wait() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exit := 0
	select {
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	case err := <-loopDone:
		if err != nil {
			slog.Error("worker loop failed", "err", err)
			exit = 1
		}
		loopDone <- err
	case err := <-srvErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker http server failed", "err", err)
			exit = 1
		}
	}

	// 1) stop intake, 2) drain the pool within the grace period, 3) close listeners.
	stopPolling()
	select {
	case <-loopDone:
	case <-time.After(cfg.QueuePopTimeout + 5*time.Second):
		slog.Warn("worker shutdown timeout waiting for poll loop")
	}

	graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer graceCancel()
	if err := pool.Shutdown(graceCtx); err != nil {
		slog.Warn("worker pool forced to stop", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	if exit != 0 {
		os.Exit(exit)
	}
}
