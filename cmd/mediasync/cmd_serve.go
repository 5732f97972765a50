package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/user/mediasync/internal/api"
	"github.com/user/mediasync/internal/gateway"
)

const pidFileName = "mediasync.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int64("max-uploads", gateway.Sequential,
		"uploads in flight at once; above 1 sends concurrent multipart uploads to the file server")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run auto-sync, the upload queue and the local HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	maxUploads, _ := cmd.Flags().GetInt64("max-uploads")

	a, err := newApp(loadConfig())
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	handler := &sutureslog.Handler{Logger: slog.Default()}
	sup := suture.New("mediasync", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})

	if maxUploads > gateway.Sequential {
		slog.Warn("parallel uploads enabled; the file server will receive concurrent uploads", "max_uploads", maxUploads)
	}
	queue := gateway.NewQueue(a.gateway, maxUploads)
	sup.Add(a.reconciler)
	sup.Add(queue)
	if cfg.HTTP.Enabled {
		sup.Add(api.New(api.Config{Listen: cfg.HTTP.Listen, RateLimit: cfg.HTTP.RateLimit}, api.Deps{
			Bus:     a.bus,
			Catalog: a.catalog,
			History: a.history,
			Syncer:  a.reconciler,
			Uploads: queue,
		}))
	} else {
		slog.Warn("http api disabled", "hint", "mediasync config set http.enabled true")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !a.client.Configured() {
		slog.Warn("no file server configured; uploads fall back to local items", "hint", "mediasync config set server.base_url <url>")
	} else if err := a.client.Health(ctx); err != nil {
		slog.Warn("file server unreachable", "base_url", a.client.BaseURL(), "error", err)
	}

	slog.Info("mediasync started",
		"data_dir", cfg.DataDir,
		"storage", cfg.Storage.Backend,
		"server", cfg.Server.BaseURL,
		"http", cfg.HTTP.Enabled,
		"max_uploads", maxUploads,
		"pid_file", pidPath,
	)

	err = sup.Serve(ctx)
	slog.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
