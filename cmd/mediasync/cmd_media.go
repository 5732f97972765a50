package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/disiqueira/gotree/v3"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/user/mediasync/internal/catalog"
	"github.com/user/mediasync/internal/gateway"
	"github.com/user/mediasync/internal/types"
)

func init() {
	rootCmd.AddCommand(mediaCmd)
	mediaCmd.AddCommand(mediaListCmd, mediaTreeCmd, mediaUploadCmd, mediaRemoveCmd, mediaLinkCmd, mediaTagCmd, mediaEditCmd)

	mediaListCmd.Flags().StringP("query", "q", "", "match name or tag name")
	mediaListCmd.Flags().StringSlice("tag", nil, "only items carrying every listed tag")
	mediaListCmd.Flags().String("folder", "", "only items linked from this folder")
	mediaListCmd.Flags().Bool("view", false, "use the saved view instead of flags")
	mediaListCmd.Flags().Bool("save-view", false, "remember these filters as the view")
	mediaListCmd.Flags().Bool("json", false, "print JSON")

	mediaUploadCmd.Flags().StringSlice("tag", nil, "tag names to apply")
	mediaUploadCmd.Flags().Int64("parallel", gateway.Sequential,
		"uploads in flight at once; above 1 leaves sequential mode and sends concurrent uploads")

	mediaTagCmd.Flags().Bool("remove", false, "remove the tags instead of adding them")

	mediaEditCmd.Flags().String("name", "", "new display name")
	mediaEditCmd.MarkFlagRequired("name")
}

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Browse and manage the media catalog",
}

var mediaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		useView, _ := cmd.Flags().GetBool("view")
		saveView, _ := cmd.Flags().GetBool("save-view")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(func(a *app) error {
			var f catalog.Filter
			if useView {
				f = catalog.FilterFromView(a.catalog.View())
			} else {
				query, _ := cmd.Flags().GetString("query")
				tagNames, _ := cmd.Flags().GetStringSlice("tag")
				folder, _ := cmd.Flags().GetString("folder")
				tags, err := resolveTags(a, tagNames)
				if err != nil {
					return err
				}
				f = catalog.Filter{Query: query, TagIDs: tags, Folder: folder}
			}
			if saveView {
				if err := a.catalog.SetView(catalog.ViewState{Search: f.Query, SelectedTags: f.TagIDs, Folder: f.Folder}); err != nil {
					return fmt.Errorf("save view: %w", err)
				}
			}

			media := a.catalog.Filter(f)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if media == nil {
					media = []*types.MediaItem{}
				}
				return enc.Encode(media)
			}
			if len(media) == 0 {
				fmt.Println("No media.")
				return nil
			}

			names := tagLabels(a)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tSIZE\tTAGS\tSOURCE")
			for _, m := range media {
				labels := make([]string, 0, len(m.Tags))
				for _, id := range m.Tags {
					labels = append(labels, names[id])
				}
				source := "remote"
				if m.IsLinked {
					source = m.SourcePath
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", m.ID, m.Name, m.Type, m.Size, strings.Join(labels, ","), source)
			}
			return w.Flush()
		})
	},
}

var mediaTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Show the catalog grouped by source folder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			fmt.Print(renderTree(a.catalog.Media()))
			return nil
		})
	},
}

// renderTree groups linked items under their source folder and remote
// items under a single "remote" node.
func renderTree(media []*types.MediaItem) string {
	root := gotree.New("media")
	groups := make(map[string][]*types.MediaItem)
	for _, m := range media {
		key := "remote"
		if m.IsLinked && m.SourceFolder != "" {
			key = m.SourceFolder
		}
		groups[key] = append(groups[key], m)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		node := root.Add(fmt.Sprintf("%s (%d)", k, len(groups[k])))
		items := groups[k]
		sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
		for _, m := range items {
			node.Add(fmt.Sprintf("%s [%s]", m.Name, m.Type))
		}
	}
	return root.Print()
}

var mediaUploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files to the file server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tagNames, _ := cmd.Flags().GetStringSlice("tag")
		parallel, _ := cmd.Flags().GetInt64("parallel")

		return withApp(func(a *app) error {
			tags, err := resolveTags(a, tagNames)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var results []gateway.Result
			if parallel > gateway.Sequential {
				slog.Warn("parallel uploads requested; the file server will receive concurrent uploads", "parallel", parallel)
				results = uploadQueued(ctx, a, args, tags, parallel)
			} else {
				results = a.gateway.UploadBatch(ctx, args, tags, func(p gateway.Progress) {
					fmt.Fprintf(os.Stderr, "\r[%3d%%] %d/%d", p.Percent, p.Done, p.Total)
				})
				fmt.Fprintln(os.Stderr)
			}
			return reportUploads(args, results)
		})
	},
}

// uploadQueued runs uploads through a Queue, one lane per directory.
func uploadQueued(ctx context.Context, a *app, paths []string, tags []types.TagID, parallel int64) []gateway.Result {
	queue := gateway.NewQueue(a.gateway, parallel)
	queue.Start(ctx)
	defer queue.Stop()

	results := make([]gateway.Result, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		job := gateway.NewJob(filepath.Dir(path), path, tags)
		idx := i
		job.OnComplete = func(j *gateway.Job) {
			results[idx] = j.Result
			wg.Done()
		}
		wg.Add(1)
		if err := queue.Enqueue(job); err != nil {
			wg.Done()
			results[idx] = gateway.Result{Outcome: gateway.OutcomeFailed, Err: err}
		}
	}
	wg.Wait()
	return results
}

func reportUploads(paths []string, results []gateway.Result) error {
	failed := 0
	for i, res := range results {
		switch res.Outcome {
		case gateway.OutcomeSuccess:
			fmt.Fprintf(os.Stdout, "uploaded  %s -> %s\n", paths[i], res.Item.URL)
		case gateway.OutcomeLocalFallback:
			fmt.Fprintf(os.Stdout, "local     %s\n", paths[i])
		default:
			failed++
			fmt.Fprintf(os.Stdout, "failed    %s: %v\n", paths[i], res.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(results))
	}
	return nil
}

var mediaRemoveCmd = &cobra.Command{
	Use:   "rm <id|name>",
	Short: "Delete an item from the file server and the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			item, err := resolveMedia(a, args[0])
			if err != nil {
				return err
			}
			res := a.gateway.DeleteFromServer(cmd.Context(), item)
			switch res.Outcome {
			case gateway.OutcomeSuccess:
				fmt.Fprintf(os.Stdout, "Deleted %s.\n", item.Name)
			case gateway.OutcomeLocalFallback:
				fmt.Fprintf(os.Stdout, "Removed %s from the catalog (server not reached).\n", item.Name)
			default:
				return fmt.Errorf("delete %s: %w", item.Name, res.Err)
			}
			return nil
		})
	},
}

var mediaLinkCmd = &cobra.Command{
	Use:   "link <dir>",
	Short: "Add the media files of a local folder without uploading them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			n, err := a.gateway.LinkFolder(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Linked %d new item(s) from %s.\n", n, args[0])
			return nil
		})
	},
}

var mediaTagCmd = &cobra.Command{
	Use:   "tag <id|name> <tag>...",
	Short: "Add or remove tags on an item",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		remove, _ := cmd.Flags().GetBool("remove")
		return withApp(func(a *app) error {
			item, err := resolveMedia(a, args[0])
			if err != nil {
				return err
			}
			tags, err := resolveTags(a, args[1:])
			if err != nil {
				return err
			}

			verb := "Tagged"
			if remove {
				verb = "Untagged"
				err = a.catalog.UntagMedia(item.ID, tags...)
			} else {
				err = a.catalog.TagMedia(item.ID, tags...)
			}
			if err != nil {
				return err
			}
			desc := fmt.Sprintf("%s %s: %s", verb, item.Name, strings.Join(args[1:], ", "))
			if err := a.history.AddHistoryItem(types.HistoryTag, desc, item.Name); err != nil {
				return fmt.Errorf("record history: %w", err)
			}
			fmt.Fprintln(os.Stdout, desc)
			return nil
		})
	},
}

var mediaEditCmd = &cobra.Command{
	Use:   "edit <id|name>",
	Short: "Rename a catalog item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		return withApp(func(a *app) error {
			item, err := resolveMedia(a, args[0])
			if err != nil {
				return err
			}
			if err := renameMedia(a, item, name); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Renamed %s to %s.\n", item.Name, strings.TrimSpace(name))
			return nil
		})
	},
}

// renameMedia changes the display name only; the url and the remote file
// keep their original name.
func renameMedia(a *app, item *types.MediaItem, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if err := a.catalog.UpdateMedia(item.ID, catalog.MediaPatch{Name: &name}); err != nil {
		return err
	}
	desc := fmt.Sprintf("Renamed %s to %s", item.Name, name)
	if err := a.history.AddHistoryItem(types.HistoryEdit, desc, name); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// resolveMedia finds an item by id, then by exact name.
func resolveMedia(a *app, ref string) (*types.MediaItem, error) {
	if m, ok := a.catalog.Get(types.MediaID(ref)); ok {
		return m, nil
	}
	var found []*types.MediaItem
	for _, m := range a.catalog.Media() {
		if m.Name == ref {
			found = append(found, m)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", catalog.ErrMediaNotFound, ref)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%d items are named %q; use the id", len(found), ref)
	}
}

func resolveTags(a *app, names []string) ([]types.TagID, error) {
	ids := make([]types.TagID, 0, len(names))
	for _, name := range names {
		t, ok := a.catalog.TagByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", catalog.ErrTagNotFound, name)
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func tagLabels(a *app) map[types.TagID]string {
	out := make(map[types.TagID]string)
	for _, t := range a.catalog.Tags() {
		out[t.ID] = t.Name
	}
	return out
}
