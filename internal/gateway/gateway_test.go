package gateway

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/mediasync/internal/catalog"
	"github.com/user/mediasync/internal/remote"
	"github.com/user/mediasync/internal/remote/remotetest"
	"github.com/user/mediasync/internal/state"
	"github.com/user/mediasync/internal/types"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

type recordingEmitter struct {
	mu     sync.Mutex
	drafts []types.EventDraft
}

func (r *recordingEmitter) Emit(d types.EventDraft) (*types.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts = append(r.drafts, d)
	return &types.Event{ID: types.NewEventID(), Type: d.Type}, nil
}

func (r *recordingEmitter) Types() []types.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.EventType
	for _, d := range r.drafts {
		out = append(out, d.Type)
	}
	return out
}

type fixture struct {
	srv     *remotetest.Server
	client  *remote.Client
	catalog *catalog.Catalog
	history *catalog.History
	events  *recordingEmitter
	gw      *Gateway
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := remotetest.New()
	t.Cleanup(srv.Close)

	store := state.NewMemory()
	cat, err := catalog.New(store)
	require.NoError(t, err)
	hist, err := catalog.NewHistory(store, nil)
	require.NoError(t, err)

	f := &fixture{
		srv:     srv,
		client:  remote.New(remote.Config{BaseURL: srv.URL}),
		catalog: cat,
		history: hist,
		events:  &recordingEmitter{},
		dir:     t.TempDir(),
	}
	f.gw = New(f.client, cat, hist, WithEmitter(f.events))
	return f
}

func (f *fixture) writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestUploadToServer_Success(t *testing.T) {
	f := newFixture(t)
	tag, err := f.catalog.AddTag("beach", "")
	require.NoError(t, err)

	path := f.writeFile(t, "sunset.png", pngHeader)
	res := f.gw.UploadToServer(context.Background(), path, []types.TagID{tag.ID})

	require.Equal(t, OutcomeSuccess, res.Outcome, "err: %v", res.Err)
	require.NotNil(t, res.Item)
	assert.Equal(t, "sunset.png", res.Item.Name)
	assert.Equal(t, types.MediaImage, res.Item.Type)
	assert.Equal(t, f.srv.URL+"/uploads/sunset.png", res.Item.URL)
	assert.Equal(t, f.srv.URL+"/thumbs/sunset.png", res.Item.ThumbnailURL)
	assert.Equal(t, []types.TagID{tag.ID}, res.Item.Tags)
	assert.Equal(t, int64(len(pngHeader)), res.Item.Size)

	assert.Equal(t, 1, f.catalog.Len())
	hist := f.history.Items()
	require.Len(t, hist, 1)
	assert.Equal(t, types.HistoryUpload, hist[0].Kind)
	assert.Equal(t, []types.EventType{types.EventUploadCompleted}, f.events.Types())
}

func TestUploadToServer_FailureLeavesCatalogUntouched(t *testing.T) {
	f := newFixture(t)
	f.srv.UploadError = "quota exceeded"

	path := f.writeFile(t, "a.jpg", jpegHeader)
	res := f.gw.UploadToServer(context.Background(), path, nil)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, remote.IsApplication(res.Err))
	assert.Equal(t, 0, f.catalog.Len())
	assert.Empty(t, f.history.Items())
	assert.Equal(t, []types.EventType{types.EventUploadFailed}, f.events.Types())
}

func TestUploadToServer_NetworkFailureNoRetry(t *testing.T) {
	f := newFixture(t)
	f.srv.Close()

	path := f.writeFile(t, "a.jpg", jpegHeader)
	res := f.gw.UploadToServer(context.Background(), path, nil)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, remote.IsNetwork(res.Err))
	assert.Equal(t, 0, f.catalog.Len())
}

// barrierFiles holds every upload after the server answered until all
// expected uploads have answered, so the catalog inserts race.
type barrierFiles struct {
	FileStore
	arrived *sync.WaitGroup
}

func (b barrierFiles) Upload(ctx context.Context, name string, content io.Reader) (*remote.UploadResult, error) {
	res, err := b.FileStore.Upload(ctx, name, content)
	b.arrived.Done()
	b.arrived.Wait()
	return res, err
}

func TestUploadToServer_ConcurrentSameURLStoredOnce(t *testing.T) {
	f := newFixture(t)
	path := f.writeFile(t, "photo.png", pngHeader)

	const uploads = 4
	var arrived sync.WaitGroup
	arrived.Add(uploads)
	gw := New(barrierFiles{FileStore: f.client, arrived: &arrived}, f.catalog, f.history, WithEmitter(f.events))

	results := make([]Result, uploads)
	var wg sync.WaitGroup
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = gw.UploadToServer(context.Background(), path, nil)
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.Equal(t, OutcomeSuccess, res.Outcome, "err: %v", res.Err)
		assert.Equal(t, results[0].Item.ID, res.Item.ID)
	}
	require.Equal(t, 1, f.catalog.Len())
	assert.Len(t, f.history.Items(), 1)
}

func TestUploadToServer_RejectsNonMedia(t *testing.T) {
	f := newFixture(t)
	path := f.writeFile(t, "notes.txt", []byte("just some text\n"))

	res := f.gw.UploadToServer(context.Background(), path, nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrUnsupportedType)
	assert.Empty(t, f.srv.Files())
}

func TestUploadToServer_NotConfiguredAddsLocally(t *testing.T) {
	f := newFixture(t)
	gw := New(remote.New(remote.Config{}), f.catalog, f.history)

	path := f.writeFile(t, "clip.png", pngHeader)
	res := gw.UploadToServer(context.Background(), path, nil)

	require.Equal(t, OutcomeLocalFallback, res.Outcome)
	assert.True(t, res.Item.IsLinked)
	assert.Equal(t, "file://"+filepath.ToSlash(path), res.Item.URL)
	assert.Equal(t, 1, f.catalog.Len())
}

func TestDeleteFromServer_Success(t *testing.T) {
	f := newFixture(t)
	path := f.writeFile(t, "a.jpg", jpegHeader)
	up := f.gw.UploadToServer(context.Background(), path, nil)
	require.True(t, up.OK())

	res := f.gw.DeleteFromServer(context.Background(), up.Item)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 0, f.catalog.Len())
	assert.Equal(t, []string{"a.jpg"}, f.srv.Deletes())
	assert.Equal(t, types.HistoryDelete, f.history.Items()[0].Kind)
}

func TestDeleteFromServer_NetworkFallback(t *testing.T) {
	f := newFixture(t)
	item := &types.MediaItem{
		ID:   types.NewMediaID(),
		Name: "a.jpg",
		Type: types.MediaImage,
		URL:  f.srv.URL + "/uploads/a.jpg",
	}
	require.NoError(t, f.catalog.AddMedia(item))
	f.srv.Close()

	res := f.gw.DeleteFromServer(context.Background(), item)
	assert.Equal(t, OutcomeLocalFallback, res.Outcome)
	assert.True(t, remote.IsNetwork(res.Err))
	assert.Equal(t, 0, f.catalog.Len())
	assert.Equal(t, types.HistoryDelete, f.history.Items()[0].Kind)
}

func TestDeleteFromServer_ApplicationErrorRetainsItem(t *testing.T) {
	f := newFixture(t)
	item := &types.MediaItem{
		ID:   types.NewMediaID(),
		Name: "gone.jpg",
		Type: types.MediaImage,
		URL:  f.srv.URL + "/uploads/gone.jpg",
	}
	require.NoError(t, f.catalog.AddMedia(item))

	res := f.gw.DeleteFromServer(context.Background(), item)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, remote.IsApplication(res.Err))
	assert.Equal(t, 1, f.catalog.Len())
	assert.Empty(t, f.history.Items())
}

func TestDeleteFromServer_LinkedItemIsLocalOnly(t *testing.T) {
	f := newFixture(t)
	path := f.writeFile(t, "local.png", pngHeader)
	item, err := f.gw.AddLocal(path, nil)
	require.NoError(t, err)

	res := f.gw.DeleteFromServer(context.Background(), item)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Empty(t, f.srv.Deletes())
	assert.Equal(t, 0, f.catalog.Len())
}

func TestUploadBatch_SequentialMonotonicProgress(t *testing.T) {
	f := newFixture(t)
	paths := []string{
		f.writeFile(t, "1.png", pngHeader),
		f.writeFile(t, "2.txt", []byte("nope")),
		f.writeFile(t, "3.jpg", jpegHeader),
	}

	var seen []Progress
	results := f.gw.UploadBatch(context.Background(), paths, nil, func(p Progress) {
		seen = append(seen, p)
	})

	require.Len(t, results, 3)
	assert.Equal(t, OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, OutcomeFailed, results[1].Outcome)
	assert.Equal(t, OutcomeSuccess, results[2].Outcome)

	require.Len(t, seen, 3)
	last := -1
	for i, p := range seen {
		assert.Equal(t, i+1, p.Done)
		assert.Equal(t, 3, p.Total)
		assert.Greater(t, p.Percent, last)
		last = p.Percent
	}
	assert.Equal(t, 100, last)

	// catalog is newest first, so the later upload is on top
	media := f.catalog.Media()
	require.Len(t, media, 2)
	assert.Equal(t, "3.jpg", media[0].Name)
	assert.Equal(t, "1.png", media[1].Name)
}

func TestUploadBatch_CancelledContext(t *testing.T) {
	f := newFixture(t)
	paths := []string{f.writeFile(t, "1.png", pngHeader), f.writeFile(t, "2.png", pngHeader)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := f.gw.UploadBatch(ctx, paths, nil, nil)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, OutcomeFailed, r.Outcome)
	}
	assert.Empty(t, f.srv.Files())
}

func TestLinkFolder(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "photos/a.png", pngHeader)
	f.writeFile(t, "photos/sub/b.mp4", []byte("video"))
	f.writeFile(t, "photos/readme.md", []byte("# hi"))
	f.writeFile(t, "photos/.cache/c.png", pngHeader)

	n, err := f.gw.LinkFolder(filepath.Join(f.dir, "photos"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, m := range f.catalog.Media() {
		assert.True(t, m.IsLinked)
		assert.NotEmpty(t, m.SourceFolder)
	}

	n, err = f.gw.LinkFolder(filepath.Join(f.dir, "photos"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, f.catalog.Len())
}

func TestAddLocal_Idempotent(t *testing.T) {
	f := newFixture(t)
	path := f.writeFile(t, "x.png", pngHeader)

	first, err := f.gw.AddLocal(path, nil)
	require.NoError(t, err)
	second, err := f.gw.AddLocal(path, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.catalog.Len())
}

func TestQueue_UploadsInLaneOrder(t *testing.T) {
	f := newFixture(t)
	q := NewQueue(f.gw, 1)
	q.Start(context.Background())
	defer q.Stop()

	var mu sync.Mutex
	var done []string
	finished := make(chan struct{})
	for _, name := range []string{"q1.png", "q2.png", "q3.png"} {
		job := NewJob("batch", f.writeFile(t, name, pngHeader), nil)
		job.OnComplete = func(j *Job) {
			mu.Lock()
			done = append(done, filepath.Base(j.Path))
			n := len(done)
			mu.Unlock()
			assert.Equal(t, JobDone, j.Status)
			if n == 3 {
				close(finished)
			}
		}
		require.NoError(t, q.Enqueue(job))
	}

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for uploads")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"q1.png", "q2.png", "q3.png"}, done)
	assert.Equal(t, 3, f.catalog.Len())
}

func TestQueue_EnqueueBeforeStart(t *testing.T) {
	f := newFixture(t)
	q := NewQueue(f.gw, 1)
	assert.Error(t, q.Enqueue(NewJob("x", "nowhere.png", nil)))
}

// inFlightFiles records the highest number of uploads running at once.
type inFlightFiles struct {
	FileStore
	mu      sync.Mutex
	current int
	peak    int
}

func (f *inFlightFiles) Upload(ctx context.Context, name string, content io.Reader) (*remote.UploadResult, error) {
	f.mu.Lock()
	f.current++
	if f.current > f.peak {
		f.peak = f.current
	}
	f.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	res, err := f.FileStore.Upload(ctx, name, content)

	f.mu.Lock()
	f.current--
	f.mu.Unlock()
	return res, err
}

func TestQueue_DefaultLimitIsSequentialAcrossLanes(t *testing.T) {
	f := newFixture(t)
	files := &inFlightFiles{FileStore: f.client}
	gw := New(files, f.catalog, f.history)

	q := NewQueue(gw, Sequential)
	q.Start(context.Background())
	defer q.Stop()

	var wg sync.WaitGroup
	for i, lane := range []string{"a", "b", "c", "a", "b", "c"} {
		job := NewJob(lane, f.writeFile(t, fmt.Sprintf("%s/%d.png", lane, i), pngHeader), nil)
		wg.Add(1)
		job.OnComplete = func(*Job) { wg.Done() }
		require.NoError(t, q.Enqueue(job))
	}
	wg.Wait()

	assert.Equal(t, 1, files.peak)
	assert.Equal(t, 6, f.catalog.Len())
}
