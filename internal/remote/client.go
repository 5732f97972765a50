// Package remote is the HTTP client for the authoritative file server.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/user/mediasync/internal/metrics"
	"github.com/user/mediasync/internal/types"
)

const (
	DefaultUploadTimeout = 60 * time.Second
	DefaultDeleteTimeout = 10 * time.Second
	DefaultListTimeout   = 30 * time.Second
	DefaultHealthTimeout = 5 * time.Second
	DefaultFilePrefix    = "/uploads/"

	healthCacheTTL = 10 * time.Second
	healthKey      = "health"
)

// Config describes how to reach the file server.
type Config struct {
	BaseURL string
	// FilePrefix is the path under BaseURL that file URLs are served from.
	FilePrefix    string
	UploadTimeout time.Duration
	DeleteTimeout time.Duration
	ListTimeout   time.Duration
	HealthTimeout time.Duration
	HTTPClient    *http.Client
}

// UploadResult is the server's answer to a successful upload.
type UploadResult struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client talks to the file server. Calls go through a circuit breaker so a
// dead server fails fast; only connectivity errors count against it.
type Client struct {
	cfg    Config
	http   *http.Client
	cb     *gobreaker.CircuitBreaker[any]
	health *cache.Cache
}

// New creates a client. Zero timeouts take the defaults.
func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = DefaultFilePrefix
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = DefaultDeleteTimeout
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "file-server",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsNetwork(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.Set(stateToFloat(to))
		},
	})

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		cb:     cb,
		health: cache.New(healthCacheTTL, time.Minute),
	}
}

// Configured reports whether a server base URL is set.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != ""
}

func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// FileName derives the server-side file identifier from a media url by
// stripping the server's file prefix. URLs from another origin fall back
// to the last path element.
func (c *Client) FileName(mediaURL string) string {
	prefix := c.cfg.BaseURL + c.cfg.FilePrefix
	if c.cfg.BaseURL != "" && strings.HasPrefix(mediaURL, prefix) {
		name := strings.TrimPrefix(mediaURL, prefix)
		if unescaped, err := url.PathUnescape(name); err == nil {
			return unescaped
		}
		return name
	}
	if u, err := url.Parse(mediaURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(mediaURL)
}

// Health checks GET /api/health. Results are cached briefly.
func (c *Client) Health(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if v, ok := c.health.Get(healthKey); ok {
		if v == nil {
			return nil
		}
		return v.(error)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	_, err := c.execute("health", func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/health", nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		return nil, c.do(req, "health", nil)
	})
	c.health.SetDefault(healthKey, err)
	return err
}

// ListFiles fetches GET /api/files.
func (c *Client) ListFiles(ctx context.Context) ([]types.RemoteFile, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ListTimeout)
	defer cancel()

	res, err := c.execute("list", func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/files", nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		var files []types.RemoteFile
		if err := c.do(req, "list", &files); err != nil {
			return nil, err
		}
		return files, nil
	})
	if err != nil {
		return nil, err
	}
	files, _ := res.([]types.RemoteFile)
	return files, nil
}

// Upload posts content as the multipart field "file".
func (c *Client) Upload(ctx context.Context, name string, content io.Reader) (*UploadResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	res, err := c.execute("upload", func() (any, error) {
		pr, pw := io.Pipe()
		defer pr.Close()
		mw := multipart.NewWriter(pw)
		go func() {
			part, err := mw.CreateFormFile("file", name)
			if err == nil {
				_, err = io.Copy(part, content)
			}
			if err == nil {
				err = mw.Close()
			}
			pw.CloseWithError(err)
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/upload", pr)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		var out UploadResult
		if err := c.do(req, "upload", &out); err != nil {
			return nil, err
		}
		if out.URL == "" {
			return nil, &Error{Kind: KindMalformed, Op: "upload", Message: "response has no url"}
		}
		return &out, nil
	})
	return castResult[UploadResult](res, err)
}

// Delete issues DELETE /api/delete with {"fileName": name}.
func (c *Client) Delete(ctx context.Context, fileName string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DeleteTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"fileName": fileName})
	if err != nil {
		return fmt.Errorf("marshal delete request: %w", err)
	}

	_, err = c.execute("delete", func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.BaseURL+"/api/delete", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return nil, c.do(req, "delete", nil)
	})
	return err
}

// execute runs fn through the circuit breaker and records the outcome.
func (c *Client) execute(op string, fn func() (any, error)) (any, error) {
	res, err := c.cb.Execute(fn)
	if err != nil {
		var re *Error
		if !errors.As(err, &re) {
			re = transportError(op, err)
			err = re
		}
		metrics.RemoteRequests.WithLabelValues(op, re.Kind.String()).Inc()
		return nil, err
	}
	metrics.RemoteRequests.WithLabelValues(op, "ok").Inc()
	return res, nil
}

// do sends req and decodes a 2xx JSON body into out when out is non-nil.
func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Kind: KindApplication, Op: op, Status: resp.StatusCode}
		var body errorBody
		if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
			e.Message = body.Error
		} else {
			e.Message = strings.TrimSpace(string(data))
		}
		return e
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindMalformed, Op: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}

// castResult type-casts the breaker's untyped result.
func castResult[T any](result any, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
