package main

import (
    "context"
    "errors"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    appcfg "github.com/park285/cheese-relay/internal/config"
    "github.com/park285/cheese-relay/internal/admission"
    "github.com/park285/cheese-relay/internal/httpapi"
    "github.com/park285/cheese-relay/internal/match"
    "github.com/park285/cheese-relay/internal/msgcat"
    "github.com/park285/cheese-relay/internal/obslog"
    "github.com/park285/cheese-relay/internal/relayws"
    "github.com/park285/cheese-relay/internal/rules"
    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"
)

func main() {
    cfg, err := appcfg.Load()
    if err != nil {
        log.Fatalf("config error: %v", err)
    }

    closeLog, err := obslog.Init(obslog.Options{
        Level:   cfg.Log.Level,
        Format:  cfg.Log.Format,
        Console: cfg.Log.Console,
        ToFile:  cfg.Log.ToFile,
        File:    cfg.Log.File,
        Caller:  cfg.Log.Caller,
    })
    if err != nil {
        log.Fatalf("logger init error: %v", err)
    }
    defer func() { _ = closeLog() }()
    logger := obslog.L()

    if err := run(cfg, logger); err != nil {
        logger.Error("relay_exit", zap.Error(err))
        _ = closeLog()
        os.Exit(1)
    }
}

func run(cfg *appcfg.AppConfig, logger *zap.Logger) error {
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    catalog, err := msgcat.New(cfg.MessagesDir)
    if err != nil {
        return err
    }

    var engineOpts []rules.Option
    engineOpts = append(engineOpts, rules.WithLogger(logger))
    if !cfg.Openings {
        engineOpts = append(engineOpts, rules.WithoutOpenings())
    }
    engine := rules.NewEngine(engineOpts...)

    limiter, closeLimiter, err := newLimiter(ctx, cfg)
    if err != nil {
        return err
    }
    defer closeLimiter()

    mm := match.NewMatchmaker(engine, match.WithLogger(logger), match.WithMessages(catalog, catalog))
    hub := match.NewHub(mm, cfg.HubBuffer, logger)

    api := httpapi.New(httpapi.Config{
        WSPath:           cfg.WSPath,
        AllowedOrigins:   cfg.AllowedOrigins,
        TrustProxyHeader: cfg.TrustProxyHeader,
        Conn: relayws.Options{
            SendBuffer:   cfg.SendBuffer,
            ReadLimit:    cfg.ReadLimit,
            PingInterval: cfg.PingInterval,
            WriteTimeout: cfg.WriteTimeout,
        },
    }, hub, limiter, logger)

    srv := &http.Server{
        Addr:              cfg.ListenAddr,
        Handler:           api.Handler(),
        ReadHeaderTimeout: 10 * time.Second,
    }

    hubCtx, stopHub := context.WithCancel(context.Background())
    defer stopHub()

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error { return hub.Run(hubCtx) })
    g.Go(func() error {
        logger.Info("relay_listen", zap.String("addr", cfg.ListenAddr), zap.String("ws_path", cfg.WSPath))
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            return err
        }
        return nil
    })
    g.Go(func() error {
        <-gctx.Done()
        logger.Info("relay_shutdown", zap.Int("open_conns", api.OpenConns()))
        sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
        defer cancel()
        // Shutdown does not wait for hijacked websockets; close them first.
        api.CloseAll("server shutting down")
        err := srv.Shutdown(sctx)
        stopHub()
        return err
    })
    return g.Wait()
}

func newLimiter(ctx context.Context, cfg *appcfg.AppConfig) (admission.Limiter, func(), error) {
    noop := func() {}
    if cfg.MaxConnsPerIP <= 0 {
        return admission.Unlimited{}, noop, nil
    }
    if cfg.RedisURL == "" {
        return admission.NewMemory(cfg.MaxConnsPerIP), noop, nil
    }
    rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    r, err := admission.NewRedis(rctx, cfg.RedisURL, cfg.MaxConnsPerIP, cfg.AdmissionTTL)
    if err != nil {
        return nil, noop, err
    }
    return r, func() { _ = r.Close() }, nil
}
