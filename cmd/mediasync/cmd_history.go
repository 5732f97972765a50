package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Bool("clear", false, "delete the history")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent catalog changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wipe, _ := cmd.Flags().GetBool("clear")
		return withApp(func(a *app) error {
			if wipe {
				if err := a.history.Clear(); err != nil {
					return err
				}
				fmt.Println("History cleared.")
				return nil
			}

			items := a.history.Items()
			if len(items) == 0 {
				fmt.Println("No history.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tDESCRIPTION")
			for _, h := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\n", h.Timestamp.Local().Format("2006-01-02 15:04:05"), h.Kind, h.Description)
			}
			return w.Flush()
		})
	},
}
