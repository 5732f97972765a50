// Package api serves the local HTTP API: the event log, the media catalog,
// manual reconciliation and a websocket stream of bus changes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/mediasync/internal/catalog"
	"github.com/user/mediasync/internal/gateway"
	"github.com/user/mediasync/internal/notify"
	"github.com/user/mediasync/internal/types"
)

const (
	maxBodyBytes    = 64 * 1024
	shutdownTimeout = 5 * time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Syncer runs one reconciliation and reports how many items it added.
type Syncer interface {
	SyncNow(ctx context.Context) int
}

// UploadQueue accepts background uploads. *gateway.Queue satisfies it.
type UploadQueue interface {
	Enqueue(job *gateway.Job) error
}

// Deps are the components the API reads and drives. Syncer and Uploads
// are optional; their endpoints answer 503 when unset.
type Deps struct {
	Bus     *notify.Bus
	Catalog *catalog.Catalog
	History *catalog.History
	Syncer  Syncer
	Uploads UploadQueue
}

type Config struct {
	Listen string
	// RateLimit caps event emits per client IP per minute; zero disables it.
	RateLimit int
}

// Server is an http.Handler and a supervised service.
type Server struct {
	cfg      Config
	bus      *notify.Bus
	catalog  *catalog.Catalog
	history  *catalog.History
	syncer   Syncer
	uploads  UploadQueue
	hub      *Hub
	router   chi.Router
	upgrader websocket.Upgrader
}

func New(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		bus:     deps.Bus,
		catalog: deps.Catalog,
		history: deps.History,
		syncer:  deps.Syncer,
		uploads: deps.Uploads,
		hub:     NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameOrLoopbackOrigin,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebsocket)

	r.Route("/api", func(r chi.Router) {
		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.handleListEvents)
			r.Delete("/", s.handleClearEvents)
			r.Post("/read-all", s.handleReadAll)
			r.Post("/{id}/read", s.handleReadEvent)
			r.Group(func(r chi.Router) {
				if cfg.RateLimit > 0 {
					r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
				}
				r.Post("/", s.handleEmit)
			})
		})
		r.Get("/media", s.handleListMedia)
		r.Post("/sync", s.handleSync)
		r.Post("/uploads", s.handleUpload)
		r.Get("/history", s.handleHistory)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Hub() *Hub { return s.hub }

// Serve listens on the configured address until ctx is done, streaming bus
// changes to websocket clients meanwhile.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	changes, stop := s.bus.Watch()
	go s.forward(streamCtx, changes, stop)

	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("http api listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http api shutdown", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("http api: %w", err)
	}
}

func (s *Server) String() string { return "http-api" }

// forward runs the hub and feeds it bus changes until ctx is done.
func (s *Server) forward(ctx context.Context, changes <-chan notify.Change, stop func()) {
	defer stop()
	go s.hub.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			s.hub.Publish(c)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"media":      s.catalog.Len(),
		"unread":     s.bus.UnreadCount(),
		"ws_clients": s.hub.ClientCount(),
	})
}

type eventsResponse struct {
	Events []*types.Event `json:"events"`
	Unread int            `json:"unread"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, eventsResponse{Events: s.bus.Events(), Unread: s.bus.UnreadCount()})
}

type emitRequest struct {
	Type     types.EventType     `json:"type" validate:"required"`
	Title    string              `json:"title" validate:"max=200"`
	Message  string              `json:"message" validate:"max=4000"`
	Progress *int                `json:"progress,omitempty" validate:"omitempty,min=0,max=100"`
	Metadata types.EventMetadata `json:"metadata"`
}

func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := s.bus.Emit(types.EventDraft{
		Type:     req.Type,
		Title:    req.Title,
		Message:  req.Message,
		Progress: req.Progress,
		Metadata: req.Metadata,
	})
	switch {
	case errors.Is(err, notify.ErrUnknownEventType):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil && ev == nil:
		slog.Error("emit event failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	case err != nil:
		// recorded and dispatched, only persisting failed
		slog.Warn("emit event not persisted", "event_id", string(ev.ID), "error", err)
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleReadEvent(w http.ResponseWriter, r *http.Request) {
	id := types.EventID(chi.URLParam(r, "id"))
	if err := s.bus.MarkAsRead(id); err != nil {
		slog.Error("mark event read failed", "event_id", string(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	if err := s.bus.MarkAllAsRead(); err != nil {
		slog.Error("mark all read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	if err := s.bus.ClearEvents(); err != nil {
		slog.Error("clear events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMedia filters by ?q=, ?folder= and any number of ?tag= values,
// each a tag name or id.
func (s *Server) handleListMedia(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filter{Query: q.Get("q"), Folder: q.Get("folder")}
	for _, name := range q["tag"] {
		if t, ok := s.catalog.TagByName(name); ok {
			f.TagIDs = append(f.TagIDs, t.ID)
		} else {
			f.TagIDs = append(f.TagIDs, types.TagID(name))
		}
	}

	media := s.catalog.Filter(f)
	if media == nil {
		media = []*types.MediaItem{}
	}
	writeJSON(w, http.StatusOK, media)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync not configured")
		return
	}
	added := s.syncer.SyncNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

type uploadRequest struct {
	Path string   `json:"path" validate:"required"`
	Tags []string `json:"tags" validate:"dive,required"`
	// Lane orders uploads; it defaults to the file's directory.
	Lane string `json:"lane"`
}

type uploadResponse struct {
	JobID string `json:"job_id"`
	Lane  string `json:"lane"`
}

// handleUpload queues a local file for upload and returns immediately.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		writeError(w, http.StatusServiceUnavailable, "upload queue not running")
		return
	}
	var req uploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tags := make([]types.TagID, 0, len(req.Tags))
	for _, name := range req.Tags {
		t, ok := s.catalog.TagByName(name)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown tag: %s", name))
			return
		}
		tags = append(tags, t.ID)
	}
	lane := req.Lane
	if lane == "" {
		lane = filepath.Dir(req.Path)
	}

	job := gateway.NewJob(lane, req.Path, tags)
	if err := s.uploads.Enqueue(job); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, uploadResponse{JobID: job.ID, Lane: lane})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	items := s.history.Items()
	if items == nil {
		items = []*types.HistoryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	newClient(s.hub, conn).start()
}

// sameOrLoopbackOrigin accepts requests without an Origin header, from the
// API's own host, or from a loopback host.
func sameOrLoopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
