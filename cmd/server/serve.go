package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"newsletter/internal/api"
	"newsletter/internal/config"
	"newsletter/internal/metrics"
	"newsletter/internal/repository"
	"newsletter/internal/service"
	"newsletter/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var noWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the queue monitor and (unless disabled) delivery workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if noWorkers {
				opts.cfg.Delivery.Embedded = false
			}
			return runServe(opts.cfg)
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "do not run delivery workers in this process")
	return cmd
}

type components struct {
	db       *gorm.DB
	issues   *repository.IssueRepository
	queue    *repository.DeliveryQueueRepository
	subs     *repository.SubscriptionRepository
	idem     *repository.IdempotencyRepository
	observer metrics.Observer
}

func newComponents(db *gorm.DB) *components {
	return &components{
		db:       db,
		issues:   repository.NewIssueRepository(db),
		queue:    repository.NewDeliveryQueueRepository(db),
		subs:     repository.NewSubscriptionRepository(db),
		idem:     repository.NewIdempotencyRepository(db),
		observer: metrics.NewPrometheusObserver(),
	}
}

func (c *components) deliveryWorker(cfg *config.Config) *service.DeliveryWorker {
	return service.NewDeliveryWorker(c.db, c.queue, c.issues, newSender(cfg.Email), service.WorkerConfig{
		IdleInterval:      cfg.Delivery.IdleInterval,
		ErrorInterval:     cfg.Delivery.ErrorInterval,
		SendTimeout:       cfg.Delivery.SendTimeout,
		SendRatePerSecond: cfg.Delivery.SendRatePerSecond,
		Retry: service.RetryPolicy{
			MaxRetries:  cfg.Delivery.MaxRetries,
			BaseBackoff: cfg.Delivery.BaseBackoff,
			MaxBackoff:  cfg.Delivery.MaxBackoff,
		},
	}, c.observer)
}

func runServe(cfg *config.Config) error {
	// 1. Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize Infrastructure
	rdb, err := initRedis(cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	db, err := initDB(cfg.Database)
	if err != nil {
		return err
	}

	// 3. Repositories and services
	c := newComponents(db)
	news := service.NewNewsletterService(c.issues, c.queue, c.subs)
	exec := service.NewIdempotencyExecutor(db, c.idem, service.IdempotencyConfig{
		MaxKeyLength: cfg.Idempotency.MaxKeyLength,
		Policy:       service.InFlightPolicy(cfg.Idempotency.InFlightPolicy),
		Wait:         cfg.Idempotency.InFlightWait,
		Poll:         cfg.Idempotency.InFlightPoll,
	}, c.observer)
	subSvc := service.NewSubscriptionService(db, c.subs, newSender(cfg.Email), cfg.Application.BaseURL)
	tokens := service.NewTokenService(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	// 4. HTTP Server
	if cfg.Server.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.RegisterRoutes(
		api.NewIssueHandler(news, exec),
		api.NewSubscriptionHandler(subSvc),
		api.NewHealthHandler(func(ctx context.Context) error { return repository.Ping(ctx, db) }),
		tokens,
		rdb,
		cfg.RateLimit.RequestsPerSecond,
		cfg.Auth.DevMode,
	)
	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}

	// 5. Background routines
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		service.NewQueueMonitor(c.queue, c.observer, cfg.Monitor.Interval).Run(gctx)
		return nil
	})
	if cfg.Delivery.Embedded {
		if cfg.Database.Driver == "sqlite" {
			logger.Warn("embedded delivery workers share the single sqlite connection with the API; requests wait while an email is sent",
				zap.Duration("send_timeout", cfg.Delivery.SendTimeout))
		}
		worker := c.deliveryWorker(cfg)
		g.Go(func() error {
			service.RunWorkers(gctx, cfg.Delivery.Workers, worker)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited properly")
	return nil
}
