// Package autosync periodically ingests files that appeared on the remote
// store into the local catalog.
package autosync

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/mediasync/internal/metrics"
	"github.com/user/mediasync/internal/scheduler"
	"github.com/user/mediasync/internal/state"
	"github.com/user/mediasync/internal/types"
)

const (
	DefaultInterval = 60 * time.Second
	jobName         = "autosync"
)

// Lister lists the remote store. *remote.Client satisfies it.
type Lister interface {
	ListFiles(ctx context.Context) ([]types.RemoteFile, error)
}

// Settings is the persisted auto-sync configuration.
type Settings struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"intervalSeconds"`
	// Schedule, when set, is a cron expression used instead of the
	// interval.
	Schedule string `json:"schedule,omitempty"`
}

func (s Settings) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return DefaultInterval
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Status is a snapshot of the reconciler for display.
type Status struct {
	Settings
	Running   bool      `json:"running"`
	Known     int       `json:"known"`
	LastRun   time.Time `json:"lastRun,omitempty"`
	LastAdded int       `json:"lastAdded"`
	LastError string    `json:"lastError,omitempty"`
	NextRun   time.Time `json:"nextRun,omitempty"`
}

// Option configures optional collaborators on a Reconciler.
type Option func(*Reconciler)

// WithEmitter announces ticks that ingested at least one item.
func WithEmitter(e types.EventEmitter) Option {
	return func(r *Reconciler) { r.events = e }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler diffs the remote listing against the urls it already knows and
// inserts the rest into the catalog. Overlapping runs are coalesced: a
// manual sync issued while a tick is in flight waits for and shares that
// tick's result.
type Reconciler struct {
	lister  Lister
	catalog types.MediaCatalog
	store   state.Store
	events  types.EventEmitter
	now     func() time.Time
	sched   *scheduler.Scheduler
	group   singleflight.Group

	mu        sync.Mutex
	known     map[string]struct{}
	settings  Settings
	baseCtx   context.Context
	lastRun   time.Time
	lastAdded int
	lastErr   error
}

// New creates a reconciler, loading persisted settings and seeding the
// known set from the catalog.
func New(lister Lister, catalog types.MediaCatalog, store state.Store, opts ...Option) (*Reconciler, error) {
	r := &Reconciler{
		lister:   lister,
		catalog:  catalog,
		store:    store,
		now:      time.Now,
		sched:    scheduler.New(),
		known:    make(map[string]struct{}),
		settings: Settings{IntervalSeconds: int(DefaultInterval / time.Second)},
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, err := state.LoadJSON(store, state.KeyAutoSync, &r.settings); err != nil {
		return nil, fmt.Errorf("load autosync settings: %w", err)
	}
	r.seed()
	return r, nil
}

func (r *Reconciler) seed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.catalog.Media() {
		r.known[m.URL] = struct{}{}
	}
}

// SyncNow runs one reconciliation and returns the number of items added.
// Errors are logged and reported through Status, never returned.
func (r *Reconciler) SyncNow(ctx context.Context) int {
	v, _, _ := r.group.Do(jobName, func() (any, error) {
		return r.tick(ctx), nil
	})
	return v.(int)
}

func (r *Reconciler) tick(ctx context.Context) int {
	files, err := r.lister.ListFiles(ctx)
	if err != nil {
		slog.Warn("auto-sync failed", "error", err)
		metrics.ReconcileTicks.WithLabelValues("error").Inc()
		r.mu.Lock()
		r.lastRun, r.lastAdded, r.lastErr = r.now(), 0, err
		r.mu.Unlock()
		return 0
	}

	added := 0
	for _, f := range files {
		name := f.Name
		if name == "" {
			name = nameFromURL(f.URL)
		}
		mediaType, ok := types.MediaTypeFromName(name)
		if !ok || f.URL == "" {
			continue
		}
		if r.isKnown(f.URL) {
			continue
		}
		created := r.now()
		if f.CreatedAt != nil && !f.CreatedAt.IsZero() {
			created = *f.CreatedAt
		}
		thumb := f.ThumbnailURL
		if thumb == "" {
			thumb = f.URL
		}
		item := &types.MediaItem{
			ID:           types.NewMediaID(),
			Name:         name,
			Type:         mediaType,
			URL:          f.URL,
			ThumbnailURL: thumb,
			Tags:         []types.TagID{},
			CreatedAt:    created,
			Size:         f.Size,
		}
		// Catalog check and insert are one step, so an upload or a
		// manual tick racing this one cannot duplicate the url.
		_, inserted, err := r.catalog.AddMediaIfAbsent(item)
		if err != nil {
			slog.Warn("auto-sync add failed", "file", name, "error", err)
			continue
		}
		r.remember(f.URL)
		if inserted {
			added++
		}
	}

	metrics.ReconcileTicks.WithLabelValues("ok").Inc()
	metrics.ItemsIngested.Add(float64(added))
	r.mu.Lock()
	r.lastRun, r.lastAdded, r.lastErr = r.now(), added, nil
	r.mu.Unlock()

	if added > 0 {
		slog.Info("auto-sync ingested files", "count", added)
		r.announce(added)
	}
	return added
}

func (r *Reconciler) announce(added int) {
	if r.events == nil {
		return
	}
	noun := "files"
	if added == 1 {
		noun = "file"
	}
	_, err := r.events.Emit(types.EventDraft{
		Type:    types.EventSyncCompleted,
		Title:   "Sync complete",
		Message: fmt.Sprintf("Synced %d new %s from server", added, noun),
	})
	if err != nil {
		slog.Warn("emit sync event failed", "error", err)
	}
}

func (r *Reconciler) isKnown(u string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.known[u]
	return ok
}

func (r *Reconciler) remember(u string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known[u] = struct{}{}
}

// Enable persists the setting, runs one reconciliation immediately and then
// schedules one every interval. A non-positive interval keeps the current
// one. Any cron schedule is cleared.
func (r *Reconciler) Enable(ctx context.Context, interval time.Duration) error {
	r.mu.Lock()
	r.settings.Enabled = true
	r.settings.Schedule = ""
	if interval > 0 {
		r.settings.IntervalSeconds = int(interval.Round(time.Second) / time.Second)
		if r.settings.IntervalSeconds < 1 {
			r.settings.IntervalSeconds = 1
		}
	}
	settings := r.settings
	r.mu.Unlock()
	return r.enable(ctx, settings)
}

// EnableSchedule is Enable with a cron expression ("*/5 * * * *",
// "@hourly", or six fields with seconds) instead of a fixed interval.
func (r *Reconciler) EnableSchedule(ctx context.Context, spec string) error {
	if err := scheduler.Validate(spec); err != nil {
		return err
	}
	r.mu.Lock()
	r.settings.Enabled = true
	r.settings.Schedule = spec
	settings := r.settings
	r.mu.Unlock()
	return r.enable(ctx, settings)
}

func (r *Reconciler) enable(ctx context.Context, settings Settings) error {
	if err := state.SaveJSON(r.store, state.KeyAutoSync, settings); err != nil {
		return fmt.Errorf("save autosync settings: %w", err)
	}
	r.SyncNow(ctx)
	return r.schedule(settings)
}

// Disable cancels the schedule and persists the setting. A tick already in
// flight is not cancelled and may still add items.
func (r *Reconciler) Disable() error {
	r.sched.Remove(jobName)
	r.mu.Lock()
	r.settings.Enabled = false
	settings := r.settings
	r.mu.Unlock()

	if err := state.SaveJSON(r.store, state.KeyAutoSync, settings); err != nil {
		return fmt.Errorf("save autosync settings: %w", err)
	}
	return nil
}

func (r *Reconciler) schedule(settings Settings) error {
	tick := func() {
		r.mu.Lock()
		ctx := r.baseCtx
		r.mu.Unlock()
		r.SyncNow(ctx)
	}
	var err error
	if settings.Schedule != "" {
		err = r.sched.Schedule(jobName, settings.Schedule, tick)
	} else {
		err = r.sched.Every(jobName, settings.Interval(), tick)
	}
	if err != nil {
		return err
	}
	r.sched.Start()
	return nil
}

// Start re-seeds the known set and, when auto-sync is enabled, runs once
// and resumes the schedule. Scheduled ticks use ctx.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	r.baseCtx = ctx
	settings := r.settings
	r.mu.Unlock()
	r.seed()

	if !settings.Enabled {
		return nil
	}
	r.SyncNow(ctx)
	return r.schedule(settings)
}

// Stop halts the schedule. Safe to call more than once.
func (r *Reconciler) Stop() {
	r.sched.Remove(jobName)
	r.sched.Stop()
}

// Serve runs the reconciler until ctx is done, for use under a supervisor.
func (r *Reconciler) Serve(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.Stop()
	return ctx.Err()
}

func (r *Reconciler) String() string { return "autosync" }

func (r *Reconciler) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

func (r *Reconciler) Status() Status {
	r.mu.Lock()
	st := Status{
		Settings:  r.settings,
		Known:     len(r.known),
		LastRun:   r.lastRun,
		LastAdded: r.lastAdded,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	r.mu.Unlock()
	st.Running = r.sched.Has(jobName)
	st.NextRun = r.sched.Next(jobName)
	return st
}

func nameFromURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(raw)
}
