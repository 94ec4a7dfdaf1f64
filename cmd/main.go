package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/booth-service/config"
	"github.com/cwrk-planet/booth-service/internal/composite"
	"github.com/cwrk-planet/booth-service/internal/domain"
	"github.com/cwrk-planet/booth-service/internal/objstore"
	"github.com/cwrk-planet/booth-service/internal/postgres"
	"github.com/cwrk-planet/booth-service/internal/redisstore"
	"github.com/cwrk-planet/booth-service/internal/service"
	grpcx "github.com/cwrk-planet/booth-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/booth-service/internal/transport/http"
	"github.com/cwrk-planet/booth-service/internal/transport/ws"
	"github.com/cwrk-planet/booth-service/pkg/logger"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting booth-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version,
		"jobs", cfg.Jobs.Backend, "storage", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("booth-service stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- object store ---
	assets, assetHandler, err := openAssets(cfg)
	if err != nil {
		return err
	}

	// --- job store ---
	jobs, purge, closeJobs, err := openJobs(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeJobs()

	// --- services ---
	defaults := domain.RenderConfig{
		Layout: domain.Layout(cfg.Composite.DefaultLayout),
		Filter: domain.Filter(cfg.Composite.DefaultFilter),
	}
	pipeline := composite.NewPipeline(composite.Config{
		Workers:      cfg.Composite.Workers,
		QueueSize:    cfg.Composite.QueueSize,
		FetchTimeout: cfg.Composite.FetchTimeout,
		JPEGQuality:  cfg.Composite.JPEGQuality,
		Defaults:     defaults,
	}, jobs, composite.NewSourceFetcher(assets, cfg.Composite.FetchTimeout), assets)

	registry := service.NewRegistry(service.RegistryConfig{EmptyTTL: cfg.Room.EmptyTTL})
	scheduler := service.NewScheduler(registry, cfg.Capture.Lead, defaults)
	pairing := service.NewPairing(registry, pipeline)

	// --- WS relay ---
	wsServer := ws.NewServer(ws.Config{
		PingEvery:    cfg.HTTP.PingEvery,
		AllowOrigins: cfg.CORS.AllowedOrigins,
	}, registry, scheduler, pairing)

	// --- HTTP ---
	handler := httpx.NewHandler(cfg.Logging.Service, registry, pipeline, scheduler, assets, cfg.HTTP.MaxUploadBytes)
	router := httpx.NewRouter(httpx.Deps{
		Handler:        handler,
		WS:             wsServer.HandleWS,
		Assets:         assetHandler,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Timeout:        cfg.HTTP.RequestTimeout,
	})
	httpSrv := httpx.NewServer(httpx.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, router)

	httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	// --- gRPC ---
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerInterceptor(cfg.GRPC.CallTimeout)),
		grpc.ChainStreamInterceptor(grpcx.StreamServerInterceptor()),
	)
	hs := grpcx.Register(grpcServer, grpcx.NewServer(scheduler, pipeline))
	var grpcLis net.Listener
	if cfg.GRPC.Addr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPC.Addr); err != nil {
			_ = httpLis.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pipeline.Run(ctx) })
	g.Go(func() error {
		registry.Run(ctx, cfg.Room.SweepEvery)
		return nil
	})
	if purge != nil {
		g.Go(func() error {
			retain(ctx, cfg.Jobs.ResultTTL, purge)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		return httpSrv.Run(ctx, httpLis)
	})

	if grpcLis != nil {
		g.Go(func() error {
			slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
			return grpcServer.Serve(grpcLis)
		})
		g.Go(func() error {
			<-ctx.Done()
			hs.Shutdown()
			grpcServer.GracefulStop()
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openAssets returns the object store plus the handler that serves it under
// /assets, which is nil for S3.
func openAssets(cfg *config.Config) (objstore.Store, http.Handler, error) {
	switch cfg.Storage.Backend {
	case config.StorageS3:
		st, err := objstore.NewS3Store(objstore.S3Config{
			Region:   cfg.Storage.S3.Region,
			Bucket:   cfg.Storage.S3.Bucket,
			Prefix:   cfg.Storage.S3.Prefix,
			Endpoint: cfg.Storage.S3.Endpoint,
			BaseURL:  cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	default:
		st, err := objstore.NewLocalStore(cfg.Storage.Dir, cfg.Storage.PublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Handler(), nil
	}
}

type purgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// openJobs picks the composite job store. purge is nil when the backend expires
// jobs on its own.
func openJobs(ctx context.Context, cfg *config.Config) (composite.Store, purgeFunc, func(), error) {
	switch cfg.Jobs.Backend {
	case config.JobsPostgres:
		if err := postgres.MigrateUp(cfg.Postgres.DSN); err != nil {
			return nil, nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
			ApplicationName: cfg.Logging.Service,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres: %w", err)
		}
		repo := postgres.NewJobRepository(pool)
		return repo, repo.Purge, pool.Close, nil

	case config.JobsRedis:
		client := redisstore.NewClient(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Jobs.ResultTTL,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("redis: %w", err)
		}
		return redisstore.NewJobRepository(client, cfg.Jobs.ResultTTL), nil, func() { _ = client.Close() }, nil

	default:
		mem := composite.NewMemoryStore()
		purge := func(_ context.Context, cutoff time.Time) (int64, error) {
			return int64(mem.Purge(cutoff)), nil
		}
		return mem, purge, func() {}, nil
	}
}

// retain drops composite jobs older than ttl once an hour.
func retain(ctx context.Context, ttl time.Duration, purge purgeFunc) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purge(ctx, time.Now().Add(-ttl))
			if err != nil {
				slog.Warn("job retention failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("job retention purged", "count", n)
			}
		}
	}
}
