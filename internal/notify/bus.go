// Package notify is the process-wide notification bus: a bounded, persisted
// event log with ordered subscriber dispatch and per-type channel gating.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/mediasync/internal/delivery"
	"github.com/user/mediasync/internal/metrics"
	"github.com/user/mediasync/internal/state"
	"github.com/user/mediasync/internal/types"
)

// MaxEvents bounds the persisted event log.
const MaxEvents = 100

// ErrUnknownEventType is returned by Emit for types outside types.EventTypes.
var ErrUnknownEventType = errors.New("unknown event type")

// Callback receives a copy of each matching event.
type Callback func(ev *types.Event)

// Filter selects the event types a subscriber receives. The zero Filter
// matches every type.
type Filter struct {
	kinds map[types.EventType]struct{}
}

// Any matches every event type.
var Any = Filter{}

// Types matches only the listed event types.
func Types(ts ...types.EventType) Filter {
	f := Filter{kinds: make(map[types.EventType]struct{}, len(ts))}
	for _, t := range ts {
		f.kinds[t] = struct{}{}
	}
	return f
}

func (f Filter) Matches(t types.EventType) bool {
	if f.kinds == nil {
		return true
	}
	_, ok := f.kinds[t]
	return ok
}

// ChangeKind says what happened to the log.
type ChangeKind string

const (
	ChangeEmitted ChangeKind = "emitted"
	ChangeRead    ChangeKind = "read"
	ChangeCleared ChangeKind = "cleared"
	ChangeConfig  ChangeKind = "config"
)

// Change is broadcast to watchers after every mutation. Event is set for
// ChangeEmitted, and for ChangeRead when a single event was marked.
type Change struct {
	Kind   ChangeKind   `json:"kind"`
	Event  *types.Event `json:"event,omitempty"`
	Unread int          `json:"unread"`
}

type subscription struct {
	id     string
	seq    uint64
	filter Filter
	cb     Callback
}

// Bus records events and fans them out. Emits are totally ordered: each
// Emit finishes dispatching before the next one starts. Callbacks run on the
// emitting goroutine and must not call Emit themselves.
type Bus struct {
	emitMu sync.Mutex

	mu       sync.RWMutex
	store    state.Store
	channels *delivery.Registry
	now      func() time.Time
	events   []*types.Event
	config   Config
	subs     []*subscription
	seq      uint64
	watchers map[uint64]chan Change
}

// Option configures a Bus.
type Option func(*Bus)

func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// WithChannels sets the delivery channels events are presented on.
func WithChannels(r *delivery.Registry) Option {
	return func(b *Bus) { b.channels = r }
}

// New loads the persisted log and configuration from store.
func New(store state.Store, opts ...Option) (*Bus, error) {
	b := &Bus{
		store:    store,
		channels: delivery.NewRegistry(),
		now:      time.Now,
		config:   DefaultConfig(),
		watchers: make(map[uint64]chan Change),
	}
	for _, opt := range opts {
		opt(b)
	}
	if _, err := state.LoadJSON(store, state.KeyEvents, &b.events); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	if len(b.events) > MaxEvents {
		b.events = b.events[:MaxEvents]
	}
	if _, err := state.LoadJSON(store, state.KeyNotifications, &b.config); err != nil {
		return nil, fmt.Errorf("load notification config: %w", err)
	}
	if b.config.EventFilters == nil {
		b.config.EventFilters = make(map[types.EventType]bool)
	}
	metrics.UnreadEvents.Set(float64(b.unreadLocked()))
	return b, nil
}

// Subscribe registers cb for events matching filter. Subscribing again
// with the same id replaces the earlier registration. The returned
// function removes this registration only; it is a no-op once replaced.
func (b *Bus) Subscribe(id string, filter Filter, cb Callback) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
	b.seq++
	sub := &subscription{id: id, seq: b.seq, filter: filter, cb: cb}
	b.subs = append(b.subs, sub)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id, sub.seq) })
	}
}

func (b *Bus) unsubscribe(id string, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id && s.seq == seq {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the ids of current subscribers in dispatch order.
func (b *Bus) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, len(b.subs))
	for i, s := range b.subs {
		ids[i] = s.id
	}
	return ids
}

// Emit stamps draft into an event, records it at the head of the stored
// log and then dispatches to subscribers in registration order and to
// enabled channels. A persistence failure is returned after dispatch; the
// event is still kept in the in-memory log.
func (b *Bus) Emit(draft types.EventDraft) (*types.Event, error) {
	if !draft.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, draft.Type)
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	ev := (&types.Event{
		ID:        types.NewEventID(),
		Type:      draft.Type,
		Title:     draft.Title,
		Message:   draft.Message,
		Progress:  draft.Progress,
		Metadata:  draft.Metadata,
		Timestamp: b.now(),
	}).Clone()

	b.mu.Lock()
	persistErr := b.updateEventsLocked(func(events *[]*types.Event) error {
		*events = append([]*types.Event{ev.Clone()}, *events...)
		return nil
	})
	if persistErr != nil {
		b.events = append([]*types.Event{ev}, b.events...)
		if len(b.events) > MaxEvents {
			b.events = b.events[:MaxEvents]
		}
	}
	b.reloadConfigLocked()
	emitted := ev.Clone()
	subs := append([]*subscription(nil), b.subs...)
	cfg := b.config.clone()
	unread := b.unreadLocked()
	b.mu.Unlock()

	if persistErr != nil {
		slog.Warn("persist events failed", "error", persistErr)
	}
	metrics.EventsEmitted.WithLabelValues(string(emitted.Type)).Inc()
	metrics.UnreadEvents.Set(float64(unread))

	for _, s := range subs {
		if s.filter.Matches(emitted.Type) {
			b.call(s, emitted.Clone())
		}
	}
	b.present(cfg, emitted)
	b.broadcast(Change{Kind: ChangeEmitted, Event: emitted.Clone(), Unread: unread})

	if persistErr != nil {
		return emitted, fmt.Errorf("persist events: %w", persistErr)
	}
	return emitted, nil
}

func (b *Bus) call(s *subscription, ev *types.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subscriber panicked", "subscriber", s.id, "panic", r)
		}
	}()
	s.cb(ev)
}

// present hands ev to every channel whose switch is on, provided
// notifications are enabled and the event's type is not filtered out.
func (b *Bus) present(cfg Config, ev *types.Event) {
	if !cfg.Allows(ev.Type) {
		return
	}
	for _, name := range b.channels.Names() {
		if !cfg.ChannelEnabled(name) {
			metrics.ChannelDeliveries.WithLabelValues(name, "skipped").Inc()
			continue
		}
		err := b.channels.Deliver(context.Background(), name, ev.Clone())
		switch {
		case err == nil:
			metrics.ChannelDeliveries.WithLabelValues(name, "ok").Inc()
		case errors.Is(err, delivery.ErrPermissionDenied):
			metrics.ChannelDeliveries.WithLabelValues(name, "skipped").Inc()
		default:
			metrics.ChannelDeliveries.WithLabelValues(name, "error").Inc()
			slog.Warn("notification delivery failed", "channel", name, "event_id", string(ev.ID), "error", err)
		}
	}
}

// MarkAsRead flags one event as read. Unknown ids are ignored.
func (b *Bus) MarkAsRead(id types.EventID) error {
	b.mu.Lock()
	var marked *types.Event
	err := b.updateEventsLocked(func(events *[]*types.Event) error {
		marked = nil
		for _, ev := range *events {
			if ev.ID == id {
				if ev.Read {
					break
				}
				ev.Read = true
				marked = ev.Clone()
				return nil
			}
		}
		return state.ErrUnchanged
	})
	unread := b.unreadLocked()
	b.mu.Unlock()

	if err != nil {
		return fmt.Errorf("persist events: %w", err)
	}
	if marked == nil {
		return nil
	}
	metrics.UnreadEvents.Set(float64(unread))
	b.broadcast(Change{Kind: ChangeRead, Event: marked, Unread: unread})
	return nil
}

// MarkAllAsRead flags every event as read.
func (b *Bus) MarkAllAsRead() error {
	b.mu.Lock()
	err := b.updateEventsLocked(func(events *[]*types.Event) error {
		changed := false
		for _, ev := range *events {
			if !ev.Read {
				ev.Read = true
				changed = true
			}
		}
		if !changed {
			return state.ErrUnchanged
		}
		return nil
	})
	b.mu.Unlock()

	if err != nil {
		return fmt.Errorf("persist events: %w", err)
	}
	metrics.UnreadEvents.Set(0)
	b.broadcast(Change{Kind: ChangeRead})
	return nil
}

// ClearEvents empties the log.
func (b *Bus) ClearEvents() error {
	b.mu.Lock()
	err := b.updateEventsLocked(func(events *[]*types.Event) error {
		*events = nil
		return nil
	})
	b.mu.Unlock()

	if err != nil {
		return fmt.Errorf("persist events: %w", err)
	}
	metrics.UnreadEvents.Set(0)
	b.broadcast(Change{Kind: ChangeCleared})
	return nil
}

// Events returns copies of the log, newest first.
func (b *Bus) Events() []*types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reloadEventsLocked()
	out := make([]*types.Event, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Clone()
	}
	return out
}

func (b *Bus) UnreadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reloadEventsLocked()
	return b.unreadLocked()
}

func (b *Bus) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reloadConfigLocked()
	return b.config.clone()
}

// UpdateConfig replaces the configuration and persists it.
func (b *Bus) UpdateConfig(cfg Config) error {
	cfg = cfg.clone()
	b.mu.Lock()
	err := state.SaveJSON(b.store, state.KeyNotifications, cfg)
	if err == nil {
		b.config = cfg
	}
	unread := b.unreadLocked()
	b.mu.Unlock()

	if err != nil {
		return fmt.Errorf("save notification config: %w", err)
	}
	b.broadcast(Change{Kind: ChangeConfig, Unread: unread})
	return nil
}

// Watch returns a channel that receives a Change after every mutation, and
// a function that stops the watch. Slow watchers miss changes rather than
// block the bus.
func (b *Bus) Watch() (<-chan Change, func()) {
	ch := make(chan Change, 32)
	b.mu.Lock()
	b.seq++
	key := b.seq
	b.watchers[key] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.watchers, key)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) broadcast(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}

// updateEventsLocked applies fn to the stored log as one store update and
// caches the result. Caller must hold mu.
func (b *Bus) updateEventsLocked(fn func(events *[]*types.Event) error) error {
	events, err := state.UpdateJSON(b.store, state.KeyEvents, func(events *[]*types.Event) error {
		if err := fn(events); err != nil {
			return err
		}
		if len(*events) > MaxEvents {
			*events = (*events)[:MaxEvents]
		}
		if *events == nil {
			*events = []*types.Event{}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(events) > MaxEvents {
		events = events[:MaxEvents]
	}
	b.events = events
	return nil
}

// reloadEventsLocked picks up log changes written by other processes,
// keeping the cached log when the store cannot be read.
func (b *Bus) reloadEventsLocked() {
	var events []*types.Event
	if _, err := state.LoadJSON(b.store, state.KeyEvents, &events); err != nil {
		slog.Warn("reload events failed; serving cached copy", "error", err)
		return
	}
	if len(events) > MaxEvents {
		events = events[:MaxEvents]
	}
	b.events = events
}

func (b *Bus) reloadConfigLocked() {
	cfg := DefaultConfig()
	if _, err := state.LoadJSON(b.store, state.KeyNotifications, &cfg); err != nil {
		slog.Warn("reload notification config failed; using cached copy", "error", err)
		return
	}
	if cfg.EventFilters == nil {
		cfg.EventFilters = make(map[types.EventType]bool)
	}
	b.config = cfg
}

func (b *Bus) unreadLocked() int {
	n := 0
	for _, ev := range b.events {
		if !ev.Read {
			n++
		}
	}
	return n
}
