package main

import (
	"context"
	"os/signal"
	"syscall"

	"newsletter/internal/service"

	"github.com/spf13/cobra"
)

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run delivery workers without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if workers > 0 {
				cfg.Delivery.Workers = workers
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := initDB(cfg.Database)
			if err != nil {
				return err
			}
			c := newComponents(db)
			worker := c.deliveryWorker(cfg)

			go service.NewQueueMonitor(c.queue, c.observer, cfg.Monitor.Interval).Run(ctx)
			service.RunWorkers(ctx, cfg.Delivery.Workers, worker)
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "n", 0, "number of concurrent delivery loops (overrides delivery.workers)")
	return cmd
}
