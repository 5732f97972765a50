// Package catalog holds the client-side media catalog and the activity
// history. AddMedia is a plain insert with no url check; callers that
// must keep urls unique (the gateway and the reconciler) use
// AddMediaIfAbsent, which checks and inserts in one store update.
//
// Every mutation is a read-modify-write of the stored record, so a daemon
// and a CLI process sharing the data dir see and keep each other's writes.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/user/mediasync/internal/state"
	"github.com/user/mediasync/internal/types"
)

var (
	ErrMediaNotFound = errors.New("media not found")
	ErrTagNotFound   = errors.New("tag not found")
	ErrInvalidColor  = errors.New("invalid tag color")
)

// ViewState is the persisted selection the UI last used.
type ViewState struct {
	SelectedTags []types.TagID `json:"selected_tags"`
	Search       string        `json:"search"`
	Folder       string        `json:"folder"`
}

type snapshot struct {
	Media []*types.MediaItem `json:"media"`
	Tags  []*types.Tag       `json:"tags"`
	View  ViewState          `json:"view"`
}

func (s *snapshot) normalize() {
	if s.Media == nil {
		s.Media = []*types.MediaItem{}
	}
	if s.Tags == nil {
		s.Tags = []*types.Tag{}
	}
}

// Catalog is the canonical list of media items and tags, persisted under
// state.KeyCatalog.
type Catalog struct {
	mu    sync.Mutex
	store state.Store
	// snap is the last snapshot read from or written to the store.
	snap snapshot
}

// New loads the catalog from store, starting empty when nothing was saved.
func New(store state.Store) (*Catalog, error) {
	c := &Catalog{store: store}
	if err := c.reload(); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return c, nil
}

// reload re-reads the stored snapshot. Caller must hold mu.
func (c *Catalog) reload() error {
	var snap snapshot
	if _, err := state.LoadJSON(c.store, state.KeyCatalog, &snap); err != nil {
		return err
	}
	c.snap = snap
	return nil
}

// current returns the stored snapshot, or the last good one when the
// store cannot be read. Caller must hold mu.
func (c *Catalog) current() *snapshot {
	if err := c.reload(); err != nil {
		slog.Warn("reload catalog failed; serving cached copy", "error", err)
	}
	return &c.snap
}

// mutate applies fn to the stored snapshot as one store update. The cached
// copy only changes when the write succeeds, so a failed save leaves no
// trace. fn may return state.ErrUnchanged to skip the write.
func (c *Catalog) mutate(fn func(s *snapshot) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fnErr error
	snap, err := state.UpdateJSON(c.store, state.KeyCatalog, func(s *snapshot) error {
		fnErr = nil
		if err := fn(s); err != nil {
			if !errors.Is(err, state.ErrUnchanged) {
				fnErr = err
			}
			return err
		}
		s.normalize()
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	c.snap = snap
	return nil
}

// AddMedia prepends item to the catalog.
func (c *Catalog) AddMedia(item *types.MediaItem) error {
	return c.mutate(func(s *snapshot) error {
		s.Media = append([]*types.MediaItem{item.Clone()}, s.Media...)
		return nil
	})
}

// AddMediaIfAbsent prepends item unless an item with the same url exists,
// in which case that item is returned and added is false. The check and
// the insert happen in the same store update.
func (c *Catalog) AddMediaIfAbsent(item *types.MediaItem) (existing *types.MediaItem, added bool, err error) {
	err = c.mutate(func(s *snapshot) error {
		existing = nil
		for _, m := range s.Media {
			if m.URL == item.URL {
				existing = m.Clone()
				return state.ErrUnchanged
			}
		}
		s.Media = append([]*types.MediaItem{item.Clone()}, s.Media...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	return item.Clone(), true, nil
}

// RemoveMedia drops the item with the given id. Removing an unknown id is
// a no-op.
func (c *Catalog) RemoveMedia(id types.MediaID) error {
	return c.mutate(func(s *snapshot) error {
		kept := s.Media[:0:0]
		for _, m := range s.Media {
			if m.ID != id {
				kept = append(kept, m)
			}
		}
		if len(kept) == len(s.Media) {
			return state.ErrUnchanged
		}
		s.Media = kept
		return nil
	})
}

// MediaPatch lists the fields UpdateMedia merges. Nil fields are left
// unchanged; a non-nil empty Tags slice clears the tags.
type MediaPatch struct {
	Name         *string
	ThumbnailURL *string
	Tags         []types.TagID
	Duration     *float64
	Size         *int64
}

func (p MediaPatch) apply(m *types.MediaItem) {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.ThumbnailURL != nil {
		m.ThumbnailURL = *p.ThumbnailURL
	}
	if p.Tags != nil {
		m.Tags = dedupTags(p.Tags)
	}
	if p.Duration != nil {
		d := *p.Duration
		m.Duration = &d
	}
	if p.Size != nil {
		m.Size = *p.Size
	}
}

// UpdateMedia merges patch into the item with the given id.
func (c *Catalog) UpdateMedia(id types.MediaID, patch MediaPatch) error {
	return c.mutate(func(s *snapshot) error {
		m := findMedia(s, id)
		if m == nil {
			return fmt.Errorf("%w: %s", ErrMediaNotFound, id)
		}
		patch.apply(m)
		return nil
	})
}

func findMedia(s *snapshot, id types.MediaID) *types.MediaItem {
	for _, m := range s.Media {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Get returns a copy of the item with the given id.
func (c *Catalog) Get(id types.MediaID) (*types.MediaItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m := findMedia(c.current(), id); m != nil {
		return m.Clone(), true
	}
	return nil, false
}

// FindByURL returns a copy of the item whose url matches.
func (c *Catalog) FindByURL(url string) (*types.MediaItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.current().Media {
		if m.URL == url {
			return m.Clone(), true
		}
	}
	return nil, false
}

// HasURL reports whether any item carries url.
func (c *Catalog) HasURL(url string) bool {
	_, ok := c.FindByURL(url)
	return ok
}

// Media returns copies of all items, most recently added first.
func (c *Catalog) Media() []*types.MediaItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	media := c.current().Media
	out := make([]*types.MediaItem, len(media))
	for i, m := range media {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of media items.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.current().Media)
}

// Folders returns the distinct source folders of linked items, sorted.
func (c *Catalog) Folders() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)
	var folders []string
	for _, m := range c.current().Media {
		if m.SourceFolder != "" && !seen[m.SourceFolder] {
			seen[m.SourceFolder] = true
			folders = append(folders, m.SourceFolder)
		}
	}
	sort.Strings(folders)
	return folders
}

// SetView replaces the persisted view state.
func (c *Catalog) SetView(v ViewState) error {
	return c.mutate(func(s *snapshot) error {
		s.View = v
		return nil
	})
}

func (c *Catalog) View() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.current().View
	v.SelectedTags = append([]types.TagID(nil), v.SelectedTags...)
	return v
}

// Filter narrows the media list.
type Filter struct {
	// TagIDs, when non-empty, keeps items that carry every listed tag.
	TagIDs []types.TagID
	// Query matches case-insensitively against the item name and the names
	// of its tags.
	Query string
	// Folder keeps items whose source folder starts with the prefix.
	Folder string
}

// FilterFromView builds the filter matching a view state.
func FilterFromView(v ViewState) Filter {
	return Filter{TagIDs: v.SelectedTags, Query: v.Search, Folder: v.Folder}
}

// Filter returns copies of the items matching f, in catalog order.
func (c *Catalog) Filter(f Filter) []*types.MediaItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.current()
	tagNames := make(map[types.TagID]string, len(snap.Tags))
	for _, t := range snap.Tags {
		tagNames[t.ID] = strings.ToLower(t.Name)
	}
	query := strings.ToLower(strings.TrimSpace(f.Query))

	var out []*types.MediaItem
	for _, m := range snap.Media {
		if !hasAllTags(m, f.TagIDs) {
			continue
		}
		if f.Folder != "" && !strings.HasPrefix(m.SourceFolder, f.Folder) {
			continue
		}
		if query != "" && !matchesQuery(m, query, tagNames) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

func hasAllTags(m *types.MediaItem, ids []types.TagID) bool {
	for _, id := range ids {
		if !m.HasTag(id) {
			return false
		}
	}
	return true
}

func matchesQuery(m *types.MediaItem, query string, tagNames map[types.TagID]string) bool {
	if strings.Contains(strings.ToLower(m.Name), query) {
		return true
	}
	for _, id := range m.Tags {
		if strings.Contains(tagNames[id], query) {
			return true
		}
	}
	return false
}

func dedupTags(ids []types.TagID) []types.TagID {
	seen := make(map[types.TagID]bool, len(ids))
	out := make([]types.TagID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
