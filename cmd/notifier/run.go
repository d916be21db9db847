package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bcpea_notifier/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all active filter groups once and send the summaries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()

		sched, err := a.newScheduler()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		st, err := sched.TryRun(ctx)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "users: %d, sent: %d, failed: %d\n", st.Users, st.Sent, st.Failed)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run on the configured interval and serve the admin API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()

		sched, err := a.newScheduler()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if a.cfg.AdminToken() == "" {
			a.log.Warn("admin token not set, admin endpoints disabled", "env", a.cfg.AdminTokenEnv)
		}
		srv := server.New(sched, a.store, a.cfg.AdminToken(), a.log)

		a.log.Info("starting notifier", "interval", a.cfg.Interval, "run_timeout", a.cfg.RunTimeout)
		sched.Go(ctx)

		err = srv.ListenAndServe(ctx, a.cfg.ListenAddr)
		cancel()
		sched.Wait()
		a.log.Info("notifier stopped")
		return err
	},
}
