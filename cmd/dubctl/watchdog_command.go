package main

import (
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/dubbing-be/internal/bootstrap"
	"github.com/cuongbtq/dubbing-be/internal/watchdog"
)

func newWatchdogCommand(ctx *commandContext) *cobra.Command {
	watchdogCmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Recover stuck and undelivered jobs",
	}

	var lockPath string
	var stuckAfter, requeueAfter time.Duration
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one watchdog pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withApp(cmd, true, func(app *bootstrap.App) error {
				cfg := app.Config.Watchdog
				if lockPath == "" {
					lockPath = cfg.LockFile
				}
				if lockPath != "" {
					lock := flock.New(lockPath)
					ok, err := lock.TryLock()
					if err != nil {
						return fmt.Errorf("lock %s: %w", lockPath, err)
					}
					if !ok {
						return fmt.Errorf("another watchdog holds %s", lockPath)
					}
					defer lock.Unlock()
				}

				wcfg := watchdog.Config{
					StuckAfter:   cfg.StuckAfter,
					RequeueAfter: cfg.RequeueAfter,
					BatchSize:    cfg.BatchSize,
				}
				if stuckAfter > 0 {
					wcfg.StuckAfter = stuckAfter
				}
				if requeueAfter > 0 {
					wcfg.RequeueAfter = requeueAfter
				}

				res, err := watchdog.New(app.Store, wcfg, app.Logger).Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "failed %d, redispatched %d\n", res.Failed, res.Redispatched)
				return nil
			})
		},
	}
	sweepCmd.Flags().StringVar(&lockPath, "lock", "", "Lock file shared with other sweepers (defaults to watchdog.lock_file)")
	sweepCmd.Flags().DurationVar(&stuckAfter, "stuck-after", 0, "Override watchdog.stuck_after")
	sweepCmd.Flags().DurationVar(&requeueAfter, "requeue-after", 0, "Override watchdog.requeue_after")
	watchdogCmd.AddCommand(sweepCmd)

	return watchdogCmd
}
