// Package remotetest runs an in-memory file server that speaks the remote
// store's HTTP contract, for tests.
package remotetest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/user/mediasync/internal/types"
)

// Server is an httptest-backed file store.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	files   map[string]types.RemoteFile
	order   []string
	deletes []string
	// UploadError, when set, makes uploads answer 500 with this message.
	UploadError string
	// DeleteError, when set, makes deletes answer 500 with this message.
	DeleteError string
	// ListBody, when set, replaces the JSON file list verbatim.
	ListBody string
}

func New() *Server {
	s := &Server{files: make(map[string]types.RemoteFile)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/files", s.handleList)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("DELETE /api/delete", s.handleDelete)
	s.Server = httptest.NewServer(mux)
	return s
}

// Put places a file on the server as if another device uploaded it.
func (s *Server) Put(name string, size int64) types.RemoteFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(name, size)
}

func (s *Server) put(name string, size int64) types.RemoteFile {
	t, _ := types.MediaTypeFromName(name)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := types.RemoteFile{
		Name:      name,
		URL:       s.URL + "/uploads/" + name,
		Size:      size,
		Type:      string(t),
		CreatedAt: &created,
	}
	if _, exists := s.files[name]; !exists {
		s.order = append(s.order, name)
	}
	s.files[name] = f
	return f
}

// Files returns the names currently stored, sorted.
func (s *Server) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.files))
	for n := range s.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Deletes returns the fileName of every delete request received.
func (s *Server) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListBody != "" {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, s.ListBody)
		return
	}
	out := make([]types.RemoteFile, 0, len(s.order))
	for _, n := range s.order {
		if f, ok := s.files[n]; ok {
			out = append(out, f)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UploadError != "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": s.UploadError})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file"})
		return
	}
	defer file.Close()
	n, _ := io.Copy(io.Discard, file)

	f := s.put(header.Filename, n)
	writeJSON(w, http.StatusOK, map[string]string{
		"url":          f.URL,
		"thumbnailUrl": s.URL + "/thumbs/" + header.Filename,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var body struct {
		FileName string `json:"fileName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FileName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fileName is required"})
		return
	}
	s.deletes = append(s.deletes, body.FileName)
	if s.DeleteError != "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": s.DeleteError})
		return
	}
	if _, ok := s.files[body.FileName]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	delete(s.files, body.FileName)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
