// Package gateway performs catalog mutations that must reach the remote file
// store, falling back to local-only changes when the store is unreachable.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/user/mediasync/internal/metrics"
	"github.com/user/mediasync/internal/remote"
	"github.com/user/mediasync/internal/types"
)

// ErrUnsupportedType is returned for files that are neither images nor videos.
var ErrUnsupportedType = errors.New("unsupported media type")

// Outcome tags the terminal state of a gateway operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomeLocalFallback means the server could not be reached (or is not
	// configured) and the change was applied locally only.
	OutcomeLocalFallback Outcome = "local_fallback"
	OutcomeFailed        Outcome = "failed"
)

// Result is returned by every gateway operation. Err is set for
// OutcomeFailed and carries the network cause for OutcomeLocalFallback.
type Result struct {
	Outcome Outcome
	Item    *types.MediaItem
	Err     error
}

func (r Result) OK() bool { return r.Outcome != OutcomeFailed }

// FileStore is the remote store as seen by the gateway. *remote.Client
// satisfies it.
type FileStore interface {
	Configured() bool
	Upload(ctx context.Context, name string, content io.Reader) (*remote.UploadResult, error)
	Delete(ctx context.Context, fileName string) error
	FileName(url string) string
}

// Catalog is the catalog surface the gateway mutates. Inserts go through
// AddMediaIfAbsent so concurrent uploads, links and sync ticks never store
// two items with one url.
type Catalog interface {
	types.MediaCatalog
}

// Option configures optional collaborators on a Gateway.
type Option func(*Gateway)

// WithEmitter publishes upload-completed and upload-failed events.
func WithEmitter(e types.EventEmitter) Option {
	return func(g *Gateway) { g.events = e }
}

// WithClock overrides the time source used for createdAt stamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// Gateway couples catalog mutations to the remote file store.
type Gateway struct {
	files   FileStore
	catalog Catalog
	history types.HistoryRecorder
	events  types.EventEmitter
	now     func() time.Time
}

func New(files FileStore, catalog Catalog, history types.HistoryRecorder, opts ...Option) *Gateway {
	g := &Gateway{
		files:   files,
		catalog: catalog,
		history: history,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// UploadToServer sends the file at path to the remote store and inserts the
// resulting item into the catalog. Nothing is mutated on failure and the
// upload is not retried. With no store configured the file is added as a
// local item instead.
func (g *Gateway) UploadToServer(ctx context.Context, path string, tags []types.TagID) Result {
	res := g.upload(ctx, path, tags)
	metrics.Uploads.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

func (g *Gateway) upload(ctx context.Context, path string, tags []types.TagID) Result {
	name := filepath.Base(path)
	mediaType, err := detectType(path)
	if err != nil {
		return g.uploadFailed(name, err)
	}
	if !g.files.Configured() {
		item, err := g.AddLocal(path, tags)
		if err != nil {
			return g.uploadFailed(name, err)
		}
		return Result{Outcome: OutcomeLocalFallback, Item: item, Err: remote.ErrNotConfigured}
	}

	f, err := os.Open(path)
	if err != nil {
		return g.uploadFailed(name, fmt.Errorf("open file: %w", err))
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return g.uploadFailed(name, fmt.Errorf("stat file: %w", err))
	}

	up, err := g.files.Upload(ctx, name, f)
	if err != nil {
		return g.uploadFailed(name, err)
	}

	thumb := up.ThumbnailURL
	if thumb == "" {
		thumb = up.URL
	}
	item := &types.MediaItem{
		ID:           types.NewMediaID(),
		Name:         name,
		Type:         mediaType,
		URL:          up.URL,
		ThumbnailURL: thumb,
		Tags:         append([]types.TagID{}, tags...),
		CreatedAt:    g.now(),
		Size:         info.Size(),
	}
	stored, added, err := g.catalog.AddMediaIfAbsent(item)
	if err != nil {
		return g.uploadFailed(name, fmt.Errorf("add media: %w", err))
	}
	if !added {
		// The reconciler or another upload already stored this url.
		return Result{Outcome: OutcomeSuccess, Item: stored}
	}
	g.record(types.HistoryUpload, "Uploaded "+name, name)
	g.emit(types.EventDraft{
		Type:     types.EventUploadCompleted,
		Title:    "Upload complete",
		Message:  name + " uploaded to server",
		Metadata: types.EventMetadata{OutputURL: up.URL},
	})
	return Result{Outcome: OutcomeSuccess, Item: item}
}

func (g *Gateway) uploadFailed(name string, err error) Result {
	slog.Warn("upload failed", "file", name, "error", err)
	g.emit(types.EventDraft{
		Type:     types.EventUploadFailed,
		Title:    "Upload failed",
		Message:  name + ": " + err.Error(),
		Metadata: types.EventMetadata{Error: err.Error()},
	})
	return Result{Outcome: OutcomeFailed, Err: err}
}

// DeleteFromServer removes item from the remote store and the catalog.
// When the server is unreachable the item is removed locally anyway; when
// the server rejects the delete the item is kept and the error returned.
func (g *Gateway) DeleteFromServer(ctx context.Context, item *types.MediaItem) Result {
	res := g.delete(ctx, item)
	metrics.Deletes.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

func (g *Gateway) delete(ctx context.Context, item *types.MediaItem) Result {
	if item.IsLinked || !g.files.Configured() {
		if err := g.removeLocal(item); err != nil {
			return Result{Outcome: OutcomeFailed, Item: item, Err: err}
		}
		return Result{Outcome: OutcomeSuccess, Item: item}
	}

	err := g.files.Delete(ctx, g.files.FileName(item.URL))
	switch {
	case err == nil:
		if err := g.removeLocal(item); err != nil {
			return Result{Outcome: OutcomeFailed, Item: item, Err: err}
		}
		return Result{Outcome: OutcomeSuccess, Item: item}
	case remote.IsNetwork(err):
		slog.Warn("server unreachable, deleting locally", "media_id", string(item.ID), "error", err)
		if rerr := g.removeLocal(item); rerr != nil {
			return Result{Outcome: OutcomeFailed, Item: item, Err: rerr}
		}
		return Result{Outcome: OutcomeLocalFallback, Item: item, Err: err}
	default:
		return Result{Outcome: OutcomeFailed, Item: item, Err: fmt.Errorf("delete %s: %w", item.Name, err)}
	}
}

func (g *Gateway) removeLocal(item *types.MediaItem) error {
	if err := g.catalog.RemoveMedia(item.ID); err != nil {
		return fmt.Errorf("remove media: %w", err)
	}
	g.record(types.HistoryDelete, "Deleted "+item.Name, item.Name)
	return nil
}

// AddLocal registers path as a linked item without contacting the server.
// A path already in the catalog returns the existing item.
func (g *Gateway) AddLocal(path string, tags []types.TagID) (*types.MediaItem, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	mediaType, err := detectType(abs)
	if err != nil {
		return nil, err
	}

	url := fileURL(abs)
	item := &types.MediaItem{
		ID:           types.NewMediaID(),
		Name:         filepath.Base(abs),
		Type:         mediaType,
		URL:          url,
		ThumbnailURL: url,
		Tags:         append([]types.TagID{}, tags...),
		CreatedAt:    info.ModTime(),
		Size:         info.Size(),
		SourcePath:   abs,
		SourceFolder: filepath.Dir(abs),
		IsLinked:     true,
	}
	stored, added, err := g.catalog.AddMediaIfAbsent(item)
	if err != nil {
		return nil, fmt.Errorf("add media: %w", err)
	}
	if added {
		g.record(types.HistoryUpload, "Added "+item.Name+" locally", item.Name)
	}
	return stored, nil
}

// LinkFolder walks dir and registers every image or video file in it as a
// linked item. Files already in the catalog are skipped. Returns the number
// of items added.
func (g *Gateway) LinkFolder(dir string) (int, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("resolve folder: %w", err)
	}
	added := 0
	err = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		mediaType, ok := types.MediaTypeFromName(d.Name())
		if !ok {
			return nil
		}
		url := fileURL(p)
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		item := &types.MediaItem{
			ID:           types.NewMediaID(),
			Name:         d.Name(),
			Type:         mediaType,
			URL:          url,
			ThumbnailURL: url,
			Tags:         []types.TagID{},
			CreatedAt:    info.ModTime(),
			Size:         info.Size(),
			SourcePath:   p,
			SourceFolder: filepath.Dir(p),
			IsLinked:     true,
		}
		_, ok, err = g.catalog.AddMediaIfAbsent(item)
		if err != nil {
			return fmt.Errorf("add media: %w", err)
		}
		if ok {
			added++
		}
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("link folder: %w", err)
	}
	if added > 0 {
		g.record(types.HistoryUpload, fmt.Sprintf("Linked %d files from %s", added, root), "")
	}
	return added, nil
}

func (g *Gateway) record(kind types.HistoryKind, description, mediaName string) {
	if g.history == nil {
		return
	}
	if err := g.history.AddHistoryItem(kind, description, mediaName); err != nil {
		slog.Warn("record history failed", "kind", string(kind), "error", err)
	}
}

func (g *Gateway) emit(draft types.EventDraft) {
	if g.events == nil {
		return
	}
	if _, err := g.events.Emit(draft); err != nil {
		slog.Warn("emit event failed", "type", string(draft.Type), "error", err)
	}
}

// detectType sniffs the file content and falls back to the extension when
// the content is not recognised as image or video.
func detectType(path string) (types.MediaType, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect type: %w", err)
	}
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return types.MediaImage, nil
		case strings.HasPrefix(m.String(), "video/"):
			return types.MediaVideo, nil
		}
	}
	if t, ok := types.MediaTypeFromName(path); ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, filepath.Base(path), mt.String())
}

func fileURL(abs string) string {
	return "file://" + filepath.ToSlash(abs)
}
