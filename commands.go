package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/123bigmirros/electronic-grave/configs"
	"github.com/123bigmirros/electronic-grave/repository"
	"github.com/123bigmirros/electronic-grave/server"
	service "github.com/123bigmirros/electronic-grave/services"
	"github.com/123bigmirros/electronic-grave/utils"
)

// deps bundles what every command opens before doing its work.
type deps struct {
	cfg    configs.Config
	logger zerolog.Logger
	store  *configs.Store
	redis  *redis.Client
}

func openRuntime(ctx context.Context, envFile string, needRedis bool) (*deps, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := configs.Load(files...)
	if err != nil {
		return nil, err
	}
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	store, err := configs.OpenStore(ctx, cfg, true)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	rt := &deps{cfg: cfg, logger: logger, store: store}

	if cfg.RedisAddr != "" {
		rt.redis, err = configs.ConnectRedis(ctx, cfg)
		if err != nil {
			rt.close()
			return nil, err
		}
	} else if needRedis {
		rt.close()
		return nil, fmt.Errorf("GRAVE_REDIS_ADDR is required")
	}
	return rt, nil
}

func (rt *deps) close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if err := rt.store.Close(context.Background()); err != nil {
		rt.logger.Warn().Err(err).Msg("close store")
	}
}

func (rt *deps) claimEngine(registry prometheus.Registerer) *service.ClaimEngine {
	return service.NewClaimEngine(rt.store.Repo, rt.cfg.ClaimEngine(),
		service.WithClaimMetrics(service.NewClaimMetrics(registry)),
		service.WithClaimLogger(rt.logger),
	)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			rt, err := openRuntime(ctx, envFile, false)
			if err != nil {
				return err
			}
			defer rt.close()
			return serve(ctx, rt)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")
	return cmd
}

func serve(ctx context.Context, rt *deps) error {
	cfg, logger := rt.cfg, rt.logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engine := rt.claimEngine(registry)

	g, gctx := errgroup.WithContext(ctx)

	var claimer service.Claimer = engine
	if cfg.ClaimTransport == configs.ClaimTransportQueue {
		client := service.NewClaimQueueClient(rt.redis, cfg.ClaimQueue, cfg.ClaimTimeout, logger)
		g.Go(func() error { return client.Run(gctx) })
		for i := 0; i < cfg.ClaimWorkers; i++ {
			worker := service.NewClaimQueueWorker(rt.redis, cfg.ClaimQueue, engine, logger)
			g.Go(func() error { return worker.Run(gctx) })
		}
		select {
		case <-client.Ready():
		case <-gctx.Done():
			return g.Wait()
		case <-time.After(10 * time.Second):
			return fmt.Errorf("claim reply subscription not ready")
		}
		claimer = client
	}
	canvases := service.NewCanvasService(rt.store.Repo, claimer, cfg.PublicSampleSize, logger)

	uploads, err := service.NewUploadService(cfg.UploadDir)
	if err != nil {
		return err
	}

	keys := utils.NewPublicKeyStore()
	n, err := keys.LoadDir(cfg.JWTPublicKeyDir)
	if err != nil {
		return fmt.Errorf("load public keys: %w", err)
	}
	logger.Info().Int("keys", n).Str("dir", cfg.JWTPublicKeyDir).Msg("loaded JWT public keys")

	var visitors *service.VisitorService
	if rt.redis != nil {
		visitors = service.NewVisitorService(
			repository.NewRedisVisitorRepository(rt.redis, cfg.VisitorTTL),
			service.NewWebSocketService(logger),
			logger,
		)
	}

	app := server.NewHTTPApp(server.HTTPConfig{
		ServiceName:       cfg.ServiceName,
		AllowOrigins:      cfg.AllowOrigins,
		BodyLimit:         cfg.UploadMaxBytes,
		TrustUserIDHeader: cfg.TrustUserIDHeader,
		Canvases:          canvases,
		Uploads:           uploads,
		Visitors:          visitors,
		Keys:              keys,
		Registry:          registry,
		Logger:            logger,
	})
	grpcServer := server.NewGRPCServer(keys, canvases, logger)

	g.Go(func() error {
		return server.RunGRPCServer(gctx, cfg.GRPCAddr, grpcServer, logger)
	})
	g.Go(func() error {
		go func() {
			<-gctx.Done()
			_ = app.ShutdownWithTimeout(5 * time.Second)
		}()
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		return app.Listen(cfg.HTTPAddr)
	})

	if cfg.ConsulAddress != "" {
		deregister, err := configs.RegisterService(cfg)
		if err != nil {
			logger.Warn().Err(err).Msg("consul registration failed")
		} else {
			logger.Info().Str("service", cfg.ServiceName).Msg("registered with consul")
			defer func() {
				if err := deregister(); err != nil {
					logger.Warn().Err(err).Msg("consul deregistration failed")
				}
			}()
		}
	}

	return g.Wait()
}

func newClaimWorkerCmd() *cobra.Command {
	var (
		envFile string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "claim-worker",
		Short: "Answer queued heritage claims without serving HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			rt, err := openRuntime(ctx, envFile, true)
			if err != nil {
				return err
			}
			defer rt.close()

			if workers <= 0 {
				workers = max(rt.cfg.ClaimWorkers, 1)
			}
			engine := rt.claimEngine(nil)
			g, gctx := errgroup.WithContext(ctx)
			for i := 0; i < workers; i++ {
				worker := service.NewClaimQueueWorker(rt.redis, rt.cfg.ClaimQueue, engine, rt.logger)
				g.Go(func() error { return worker.Run(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")
	cmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent workers (default GRAVE_CLAIM_WORKERS)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema or indexes of the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), envFile, false)
			if err != nil {
				return err
			}
			defer rt.close()
			rt.logger.Info().Str("store", rt.cfg.Store).Msg("schema up to date")
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")
	return cmd
}
