package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/mediasync/internal/delivery"
	"github.com/user/mediasync/internal/metrics"
	"github.com/user/mediasync/internal/state"
	"github.com/user/mediasync/internal/types"
)

// fakeChannel records the event types it was asked to present.
type fakeChannel struct {
	name string
	mu   sync.Mutex
	got  []types.EventType
	err  error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(_ context.Context, ev *types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, ev.Type)
	return f.err
}

func (f *fakeChannel) types() []types.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.EventType(nil), f.got...)
}

func newBus(t *testing.T, store state.Store, channels ...delivery.Channel) *Bus {
	t.Helper()
	reg := delivery.NewRegistry()
	for _, ch := range channels {
		reg.Register(ch)
	}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b, err := New(store, WithChannels(reg), WithClock(func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}))
	require.NoError(t, err)
	return b
}

func TestBus_BoundedLogNewestFirst(t *testing.T) {
	store := state.NewMemory()
	b := newBus(t, store)

	for i := 0; i < 150; i++ {
		_, err := b.Emit(types.EventDraft{Type: types.EventInfo, Title: fmt.Sprintf("event %d", i)})
		require.NoError(t, err)
	}

	events := b.Events()
	require.Len(t, events, MaxEvents)
	assert.Equal(t, "event 149", events[0].Title)
	assert.Equal(t, "event 50", events[MaxEvents-1].Title)
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i-1].Timestamp.After(events[i].Timestamp))
	}

	var persisted []*types.Event
	ok, err := state.LoadJSON(store, state.KeyEvents, &persisted)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, persisted, MaxEvents)
	assert.Equal(t, "event 149", persisted[0].Title)
	assert.Equal(t, "event 50", persisted[MaxEvents-1].Title)
}

func TestBus_EmitStampsEvent(t *testing.T) {
	b := newBus(t, state.NewMemory())
	p := 10
	ev, err := b.Emit(types.EventDraft{
		Type:     types.EventGenerationProgress,
		Title:    "Generating",
		Progress: &p,
		Metadata: types.EventMetadata{TaskID: "t1", Model: "sdxl"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Read)
	assert.False(t, ev.Timestamp.IsZero())
	require.NotNil(t, ev.Progress)
	assert.Equal(t, 10, *ev.Progress)

	p = 99
	assert.Equal(t, 10, *b.Events()[0].Progress, "log keeps its own copy")
	assert.Equal(t, 1, b.UnreadCount())

	_, err = b.Emit(types.EventDraft{Type: "made-up"})
	assert.ErrorIs(t, err, ErrUnknownEventType)
	assert.Len(t, b.Events(), 1)
}

func TestBus_MarkAllAsReadIdempotent(t *testing.T) {
	store := state.NewMemory()
	b := newBus(t, store)
	for i := 0; i < 3; i++ {
		_, err := b.Emit(types.EventDraft{Type: types.EventInfo, Title: "x"})
		require.NoError(t, err)
	}

	require.NoError(t, b.MarkAllAsRead())
	once := b.Events()
	assert.Equal(t, 0, b.UnreadCount())

	require.NoError(t, b.MarkAllAsRead())
	assert.Equal(t, once, b.Events())
	assert.Equal(t, 0, b.UnreadCount())
}

func TestBus_MarkAsRead(t *testing.T) {
	b := newBus(t, state.NewMemory())
	first, err := b.Emit(types.EventDraft{Type: types.EventInfo, Title: "a"})
	require.NoError(t, err)
	_, err = b.Emit(types.EventDraft{Type: types.EventInfo, Title: "b"})
	require.NoError(t, err)

	require.NoError(t, b.MarkAsRead(first.ID))
	require.NoError(t, b.MarkAsRead("no-such-id"))
	assert.Equal(t, 1, b.UnreadCount())

	events := b.Events()
	assert.False(t, events[0].Read)
	assert.True(t, events[1].Read)
}

func TestBus_ClearEvents(t *testing.T) {
	store := state.NewMemory()
	b := newBus(t, store)
	_, err := b.Emit(types.EventDraft{Type: types.EventInfo})
	require.NoError(t, err)

	require.NoError(t, b.ClearEvents())
	assert.Empty(t, b.Events())

	reloaded := newBus(t, store)
	assert.Empty(t, reloaded.Events())
}

func TestBus_FilterIsolation(t *testing.T) {
	store := state.NewMemory()
	toast := &fakeChannel{name: ChannelToast}
	sound := &fakeChannel{name: ChannelSound}
	b := newBus(t, store, sound, toast)

	cfg := b.Config()
	cfg.EventFilters = map[types.EventType]bool{
		types.EventGenerationCompleted:    true,
		types.EventGenerationFailed:       false,
		types.EventTranscriptionCompleted: true,
	}
	require.NoError(t, b.UpdateConfig(cfg))

	for _, et := range []types.EventType{types.EventGenerationCompleted, types.EventGenerationFailed, types.EventTranscriptionCompleted} {
		_, err := b.Emit(types.EventDraft{Type: et, Title: string(et)})
		require.NoError(t, err)
	}

	want := []types.EventType{types.EventGenerationCompleted, types.EventTranscriptionCompleted}
	assert.Equal(t, want, toast.types())
	assert.Equal(t, want, sound.types())
	assert.Len(t, b.Events(), 3)
}

func TestBus_ChannelSwitches(t *testing.T) {
	toast := &fakeChannel{name: ChannelToast}
	sound := &fakeChannel{name: ChannelSound}
	desktop := &fakeChannel{name: ChannelDesktop}
	b := newBus(t, state.NewMemory(), sound, toast, desktop)

	cfg := b.Config()
	cfg.SoundEnabled = false
	cfg.BrowserNotifications = true
	require.NoError(t, b.UpdateConfig(cfg))
	_, err := b.Emit(types.EventDraft{Type: types.EventInfo})
	require.NoError(t, err)

	assert.Empty(t, sound.types())
	assert.Len(t, toast.types(), 1)
	assert.Len(t, desktop.types(), 1)

	cfg.Enabled = false
	require.NoError(t, b.UpdateConfig(cfg))
	_, err = b.Emit(types.EventDraft{Type: types.EventInfo})
	require.NoError(t, err)

	assert.Len(t, toast.types(), 1, "globally disabled")
	assert.Len(t, b.Events(), 2, "log is written regardless")
}

func TestBus_ChannelErrorsDoNotFailEmit(t *testing.T) {
	broken := &fakeChannel{name: ChannelToast, err: fmt.Errorf("tty gone")}
	denied := &fakeChannel{name: ChannelDesktop, err: delivery.ErrPermissionDenied}
	b := newBus(t, state.NewMemory(), broken, denied)
	cfg := b.Config()
	cfg.BrowserNotifications = true
	require.NoError(t, b.UpdateConfig(cfg))

	_, err := b.Emit(types.EventDraft{Type: types.EventInstallFailed})
	assert.NoError(t, err)
}

func TestBus_SubscribersInRegistrationOrder(t *testing.T) {
	b := newBus(t, state.NewMemory())

	var calls []string
	b.Subscribe("a", Any, func(ev *types.Event) { calls = append(calls, "a:"+ev.Title) })
	b.Subscribe("b", Types(types.EventUploadCompleted), func(ev *types.Event) { calls = append(calls, "b:"+ev.Title) })
	b.Subscribe("c", Any, func(ev *types.Event) { calls = append(calls, "c:"+ev.Title) })

	for _, d := range []types.EventDraft{
		{Type: types.EventInfo, Title: "1"},
		{Type: types.EventUploadCompleted, Title: "2"},
	} {
		_, err := b.Emit(d)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a:1", "c:1", "a:2", "b:2", "c:2"}, calls)
}

func TestBus_DuplicateSubscriberReplaces(t *testing.T) {
	b := newBus(t, state.NewMemory())

	var old, current int
	unsubOld := b.Subscribe("panel", Any, func(*types.Event) { old++ })
	unsubNew := b.Subscribe("panel", Any, func(*types.Event) { current++ })
	assert.Equal(t, []string{"panel"}, b.Subscribers())

	// the stale unsubscribe must not remove the replacement
	unsubOld()
	_, err := b.Emit(types.EventDraft{Type: types.EventInfo})
	require.NoError(t, err)
	assert.Equal(t, 0, old)
	assert.Equal(t, 1, current)

	unsubNew()
	unsubNew()
	assert.Empty(t, b.Subscribers())
}

func TestBus_SubscriberPanicIsContained(t *testing.T) {
	b := newBus(t, state.NewMemory())
	var after bool
	b.Subscribe("bad", Any, func(*types.Event) { panic("boom") })
	b.Subscribe("good", Any, func(*types.Event) { after = true })

	_, err := b.Emit(types.EventDraft{Type: types.EventInfo})
	require.NoError(t, err)
	assert.True(t, after)
}

func TestBus_CallbackGetsCopy(t *testing.T) {
	b := newBus(t, state.NewMemory())
	b.Subscribe("mutator", Any, func(ev *types.Event) { ev.Title = "changed" })

	_, err := b.Emit(types.EventDraft{Type: types.EventInfo, Title: "original"})
	require.NoError(t, err)
	assert.Equal(t, "original", b.Events()[0].Title)
}

func TestBus_ConcurrentEmitsTotallyOrdered(t *testing.T) {
	b := newBus(t, state.NewMemory())

	var mu sync.Mutex
	var seen []types.EventID
	b.Subscribe("order", Any, func(ev *types.Event) {
		mu.Lock()
		seen = append(seen, ev.ID)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit(types.EventDraft{Type: types.EventInfo})
		}()
	}
	wg.Wait()

	// subscriber order matches log order (log is newest first)
	events := b.Events()
	require.Len(t, seen, 20)
	for i, ev := range events {
		assert.Equal(t, ev.ID, seen[len(seen)-1-i])
	}
}

func TestBus_Watch(t *testing.T) {
	b := newBus(t, state.NewMemory())
	changes, stop := b.Watch()
	defer stop()

	ev, err := b.Emit(types.EventDraft{Type: types.EventSyncCompleted})
	require.NoError(t, err)
	require.NoError(t, b.MarkAsRead(ev.ID))

	c := <-changes
	assert.Equal(t, ChangeEmitted, c.Kind)
	assert.Equal(t, ev.ID, c.Event.ID)
	assert.Equal(t, 1, c.Unread)

	c = <-changes
	assert.Equal(t, ChangeRead, c.Kind)
	assert.Equal(t, 0, c.Unread)

	stop()
	_, open := <-changes
	assert.False(t, open)
}

func TestBus_ConfigPersisted(t *testing.T) {
	store := state.NewMemory()
	b := newBus(t, store)
	assert.Equal(t, DefaultConfig(), b.Config())

	cfg := b.Config()
	cfg.ShowToast = false
	cfg.EventFilters[types.EventInfo] = false
	require.NoError(t, b.UpdateConfig(cfg))

	reloaded := newBus(t, store)
	got := reloaded.Config()
	assert.False(t, got.ShowToast)
	assert.False(t, got.Allows(types.EventInfo))
	assert.True(t, got.Allows(types.EventUploadCompleted))
}

func TestBus_Metrics(t *testing.T) {
	toast := &fakeChannel{name: ChannelToast}
	denied := &fakeChannel{name: ChannelDesktop, err: delivery.ErrPermissionDenied}
	b := newBus(t, state.NewMemory(), toast, denied)
	cfg := b.Config()
	cfg.BrowserNotifications = true
	require.NoError(t, b.UpdateConfig(cfg))

	emitted := testutil.ToFloat64(metrics.EventsEmitted.WithLabelValues(string(types.EventInstallCompleted)))
	toastOK := testutil.ToFloat64(metrics.ChannelDeliveries.WithLabelValues(ChannelToast, "ok"))
	desktopSkipped := testutil.ToFloat64(metrics.ChannelDeliveries.WithLabelValues(ChannelDesktop, "skipped"))

	_, err := b.Emit(types.EventDraft{Type: types.EventInstallCompleted})
	require.NoError(t, err)

	assert.Equal(t, emitted+1, testutil.ToFloat64(metrics.EventsEmitted.WithLabelValues(string(types.EventInstallCompleted))))
	assert.Equal(t, toastOK+1, testutil.ToFloat64(metrics.ChannelDeliveries.WithLabelValues(ChannelToast, "ok")))
	assert.Equal(t, desktopSkipped+1, testutil.ToFloat64(metrics.ChannelDeliveries.WithLabelValues(ChannelDesktop, "skipped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UnreadEvents))

	require.NoError(t, b.MarkAllAsRead())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.UnreadEvents))
}

func TestBus_SharedFileStoreKeepsOtherWriters(t *testing.T) {
	dir := t.TempDir()
	daemon, err := New(state.NewFileStore(dir))
	require.NoError(t, err)
	cli, err := New(state.NewFileStore(dir))
	require.NoError(t, err)

	first, err := daemon.Emit(types.EventDraft{Type: types.EventUploadCompleted, Title: "first"})
	require.NoError(t, err)
	_, err = cli.Emit(types.EventDraft{Type: types.EventUploadCompleted, Title: "from cli"})
	require.NoError(t, err)
	require.NoError(t, cli.MarkAsRead(first.ID))
	_, err = daemon.Emit(types.EventDraft{Type: types.EventUploadFailed, Title: "third"})
	require.NoError(t, err)

	var titles []string
	for _, ev := range daemon.Events() {
		titles = append(titles, ev.Title)
	}
	assert.Equal(t, []string{"third", "from cli", "first"}, titles)
	assert.Equal(t, 2, daemon.UnreadCount())

	cfg := cli.Config()
	cfg.SoundEnabled = false
	require.NoError(t, cli.UpdateConfig(cfg))
	assert.False(t, daemon.Config().SoundEnabled)
}
