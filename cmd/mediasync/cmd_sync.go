package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/mediasync/internal/autosync"
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncNowCmd, syncEnableCmd, syncDisableCmd, syncStatusCmd)

	syncEnableCmd.Flags().Duration("interval", autosync.DefaultInterval, "time between reconciliations")
	syncEnableCmd.Flags().String("cron", "", `cron expression instead of an interval, e.g. "*/5 * * * *" or "@hourly"`)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the catalog with the file server",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Run one reconciliation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			added := a.reconciler.SyncNow(cmd.Context())
			if st := a.reconciler.Status(); st.LastError != "" {
				return fmt.Errorf("sync: %s", st.LastError)
			}
			fmt.Fprintf(os.Stdout, "Added %d item(s).\n", added)
			return nil
		})
	},
}

// syncEnableCmd records the setting; a running `mediasync serve` picks it
// up on its next start.
var syncEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn on periodic reconciliation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		spec, _ := cmd.Flags().GetString("cron")
		if spec == "" && interval < time.Second {
			return fmt.Errorf("interval must be at least 1s")
		}
		return withApp(func(a *app) error {
			defer a.reconciler.Stop()
			if spec != "" {
				if err := a.reconciler.EnableSchedule(cmd.Context(), spec); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "Auto-sync enabled on schedule %q.\n", spec)
				return nil
			}
			if err := a.reconciler.Enable(cmd.Context(), interval); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Auto-sync enabled every %s.\n", interval)
			return nil
		})
	},
}

var syncDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn off periodic reconciliation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.reconciler.Disable(); err != nil {
				return err
			}
			fmt.Println("Auto-sync disabled.")
			return nil
		})
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show auto-sync settings and the file server's health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			st := a.reconciler.Status()
			fmt.Printf("enabled:   %t\n", st.Enabled)
			if st.Schedule != "" {
				fmt.Printf("schedule:  %s\n", st.Schedule)
			} else {
				fmt.Printf("interval:  %s\n", st.Interval())
			}
			fmt.Printf("known:     %d\n", st.Known)

			server := "not configured"
			if a.client.Configured() {
				server = a.client.BaseURL() + " (ok)"
				if err := a.client.Health(cmd.Context()); err != nil {
					server = fmt.Sprintf("%s (%v)", a.client.BaseURL(), err)
				}
			}
			fmt.Printf("server:    %s\n", server)
			return nil
		})
	},
}
