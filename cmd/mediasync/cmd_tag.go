package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/mediasync/internal/catalog"
	"github.com/user/mediasync/internal/types"
)

func init() {
	rootCmd.AddCommand(tagCmd)
	tagCmd.AddCommand(tagAddCmd, tagListCmd, tagEditCmd, tagRemoveCmd)

	tagAddCmd.Flags().String("color", string(types.ColorBlue), "tag color")
	tagEditCmd.Flags().String("name", "", "new name")
	tagEditCmd.Flags().String("color", "", "new color")
}

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage tags",
}

var tagAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, _ := cmd.Flags().GetString("color")
		return withApp(func(a *app) error {
			t, err := a.catalog.AddTag(args[0], types.TagColor(color))
			if err != nil {
				return fmt.Errorf("add tag: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Tag %q added (%s).\n", t.Name, t.ID)
			return nil
		})
	},
}

var tagListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tags with their usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			tags := a.catalog.Tags()
			if len(tags) == 0 {
				fmt.Println("No tags.")
				return nil
			}
			used := make(map[types.TagID]int)
			for _, m := range a.catalog.Media() {
				for _, id := range m.Tags {
					used[id]++
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCOLOR\tITEMS")
			for _, t := range tags {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", t.ID, t.Name, t.Color, used[t.ID])
			}
			return w.Flush()
		})
	},
}

var tagEditCmd = &cobra.Command{
	Use:   "edit <name>",
	Short: "Rename or recolor a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		color, _ := cmd.Flags().GetString("color")
		return withApp(func(a *app) error {
			t, ok := a.catalog.TagByName(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", catalog.ErrTagNotFound, args[0])
			}
			if name == "" {
				name = t.Name
			}
			c := t.Color
			if color != "" {
				c = types.TagColor(color)
			}
			if err := a.catalog.UpdateTag(t.ID, name, c); err != nil {
				return fmt.Errorf("update tag: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Tag %q updated.\n", name)
			return nil
		})
	},
}

var tagRemoveCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete a tag and clear it from every item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			t, ok := a.catalog.TagByName(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", catalog.ErrTagNotFound, args[0])
			}
			if err := a.catalog.RemoveTag(t.ID); err != nil {
				return fmt.Errorf("remove tag: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Tag %q removed.\n", t.Name)
			return nil
		})
	},
}
