package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/mediasync/internal/types"
)

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd, eventsEmitCmd, eventsReadCmd, eventsClearCmd)

	eventsListCmd.Flags().Bool("unread", false, "only unread events")
	eventsListCmd.Flags().IntP("limit", "n", 20, "events to show, newest first")

	eventsEmitCmd.Flags().String("title", "", "event title")
	eventsEmitCmd.Flags().String("message", "", "event message")
	eventsEmitCmd.Flags().Int("progress", -1, "progress percentage (0-100)")
	eventsEmitCmd.Flags().String("output-url", "", "link to the produced file")

	eventsReadCmd.Flags().Bool("all", false, "mark every event as read")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and emit notification events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		unreadOnly, _ := cmd.Flags().GetBool("unread")
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(func(a *app) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tTYPE\tTITLE\tREAD")
			shown := 0
			for _, ev := range a.bus.Events() {
				if unreadOnly && ev.Read {
					continue
				}
				if limit > 0 && shown == limit {
					break
				}
				shown++
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", ev.ID, ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.Type, ev.Title, ev.Read)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d unread\n", a.bus.UnreadCount())
			return nil
		})
	},
}

func eventTypeNames() string {
	names := make([]string, len(types.EventTypes))
	for i, t := range types.EventTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

var eventsEmitCmd = &cobra.Command{
	Use:   "emit <type>",
	Short: "Emit an event through the bus",
	Long:  "Emit an event through the bus. Known types: " + eventTypeNames(),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		message, _ := cmd.Flags().GetString("message")
		progress, _ := cmd.Flags().GetInt("progress")
		outputURL, _ := cmd.Flags().GetString("output-url")

		draft := types.EventDraft{
			Type:     types.EventType(args[0]),
			Title:    title,
			Message:  message,
			Metadata: types.EventMetadata{OutputURL: outputURL},
		}
		if progress >= 0 {
			if progress > 100 {
				return fmt.Errorf("progress must be between 0 and 100")
			}
			draft.Progress = &progress
		}
		return withApp(func(a *app) error {
			ev, err := a.bus.Emit(draft)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Emitted %s.\n", ev.ID)
			return nil
		})
	},
}

var eventsReadCmd = &cobra.Command{
	Use:   "read [id]...",
	Short: "Mark events as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return fmt.Errorf("give event ids or --all")
		}
		return withApp(func(a *app) error {
			if all {
				return a.bus.MarkAllAsRead()
			}
			for _, id := range args {
				if err := a.bus.MarkAsRead(types.EventID(id)); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var eventsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every event",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.bus.ClearEvents(); err != nil {
				return err
			}
			fmt.Println("Events cleared.")
			return nil
		})
	},
}
