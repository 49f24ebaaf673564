package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mafzaal/d365fo-client-go/internal/core"
	"github.com/mafzaal/d365fo-client-go/internal/domain"
	"github.com/mafzaal/d365fo-client-go/internal/scheduler"

	"github.com/mafzaal/d365fo-client-go/infrastructure/logging"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sync", Short: "Manage metadata sync sessions"}
	cmd.AddCommand(newSyncStartCmd(), newSyncStatusCmd(), newSyncCancelCmd(), newSyncHistoryCmd(), newSyncDaemonCmd())
	return cmd
}

func newSyncDaemonCmd() *cobra.Command {
	var retentionCron string
	var retentionDays int
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run retention sweeps and periodic re-sync until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return cliError(err)
			}
			client, err := core.Open(cmd.Context(), cfg)
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			sched := scheduler.New(logging.NewFromEnv("d365fo-client"))
			if err := sched.AddRetentionSweep(cmd.Context(), retentionCron, func(ctx context.Context) (int, error) {
				return client.CleanupUnusedVersions(ctx, retentionDays)
			}); err != nil {
				return cliError(err)
			}
			if cfg.MetadataSyncInterval > 0 {
				err := sched.AddResync(cmd.Context(), cfg.MetadataSyncInterval.String(), func(ctx context.Context) error {
					_, err := client.StartSync(ctx, domain.StrategyIncremental, nil)
					return err
				})
				if err != nil {
					return cliError(err)
				}
			}
			sched.Start()
			fmt.Println("daemon started; press Ctrl+C to stop")

			stopCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-stopCtx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return sched.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&retentionCron, "retention-cron", scheduler.DefaultRetentionCron, "cron expression for the stale global version sweep")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 30, "global versions unused by any environment for longer than this are removed")
	return cmd
}

func newSyncStartCmd() *cobra.Command {
	var strategy string
	var wait bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a sync session, auto-selecting a strategy unless --strategy is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			session, err := client.StartSync(cmd.Context(), domain.SyncStrategy(strategy), nil)
			if err != nil {
				return cliError(err)
			}
			if !wait {
				printJSON(session)
				return nil
			}
			for {
				time.Sleep(500 * time.Millisecond)
				snap, ok := client.GetSyncProgress(session.SessionID)
				if !ok {
					break
				}
				session = snap
				switch session.State {
				case domain.SessionCompleted, domain.SessionFailed, domain.SessionCancelled:
					printJSON(session)
					return nil
				}
			}
			printJSON(session)
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "force a strategy (full, full_without_labels, sharing_mode, incremental)")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the session reaches a terminal state")
	return cmd
}

func newSyncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a sync session's current progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			session, ok := client.GetSyncProgress(args[0])
			if !ok {
				return cliError(fmt.Errorf("unknown session %q", args[0]))
			}
			printJSON(session)
			return nil
		},
	}
}

func newSyncCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Request cooperative cancellation of a running sync session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			if err := client.CancelSync(args[0]); err != nil {
				return cliError(err)
			}
			fmt.Println("cancellation requested")
			return nil
		},
	}
}

func newSyncHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past sync sessions for the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			history, err := client.GetSyncHistory(cmd.Context(), limit)
			if err != nil {
				return cliError(err)
			}
			printJSON(history)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions to return")
	return cmd
}
