package catalog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/mediasync/internal/state"
	"github.com/user/mediasync/internal/types"
)

// MaxHistory bounds the activity feed.
const MaxHistory = 100

// History is the human-readable activity feed (uploads, deletes, edits,
// tagging). It is independent from the notification event log.
type History struct {
	mu    sync.Mutex
	store state.Store
	items []*types.HistoryItem
	now   func() time.Time
}

// NewHistory loads the feed from store. now may be nil.
func NewHistory(store state.Store, now func() time.Time) (*History, error) {
	if now == nil {
		now = time.Now
	}
	var items []*types.HistoryItem
	if _, err := state.LoadJSON(store, state.KeyHistory, &items); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return &History{store: store, items: items, now: now}, nil
}

// AddHistoryItem records an entry at the head of the feed, dropping the
// oldest entries beyond MaxHistory.
func (h *History) AddHistoryItem(kind types.HistoryKind, description, mediaName string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	item := &types.HistoryItem{
		ID:          types.NewHistoryID(),
		Kind:        kind,
		Description: description,
		MediaName:   mediaName,
		Timestamp:   h.now(),
	}
	items, err := state.UpdateJSON(h.store, state.KeyHistory, func(items *[]*types.HistoryItem) error {
		cp := *item
		*items = append([]*types.HistoryItem{&cp}, *items...)
		if len(*items) > MaxHistory {
			*items = (*items)[:MaxHistory]
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	h.items = items
	return nil
}

// Items returns copies of the feed, newest first.
func (h *History) Items() []*types.HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()

	var items []*types.HistoryItem
	if _, err := state.LoadJSON(h.store, state.KeyHistory, &items); err != nil {
		slog.Warn("reload history failed; serving cached copy", "error", err)
	} else {
		h.items = items
	}

	out := make([]*types.HistoryItem, len(h.items))
	for i, it := range h.items {
		cp := *it
		out[i] = &cp
	}
	return out
}

func (h *History) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := state.SaveJSON(h.store, state.KeyHistory, []*types.HistoryItem{}); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	h.items = nil
	return nil
}
