package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/user/mediasync/internal/autosync"
	"github.com/user/mediasync/internal/catalog"
	"github.com/user/mediasync/internal/config"
	"github.com/user/mediasync/internal/delivery"
	"github.com/user/mediasync/internal/gateway"
	"github.com/user/mediasync/internal/notify"
	"github.com/user/mediasync/internal/remote"
	"github.com/user/mediasync/internal/state"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg        *config.Config
	store      state.Store
	catalog    *catalog.Catalog
	history    *catalog.History
	client     *remote.Client
	telegram   *delivery.Telegram
	bus        *notify.Bus
	gateway    *gateway.Gateway
	reconciler *autosync.Reconciler
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := state.Open(cfg.Storage.Backend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	a := &app{cfg: cfg, store: store}
	if err := a.wire(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg
	var err error

	if a.catalog, err = catalog.New(a.store); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if a.history, err = catalog.NewHistory(a.store, nil); err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	a.client = remote.New(remote.Config{
		BaseURL:       cfg.Server.BaseURL,
		UploadTimeout: cfg.Server.Upload(),
		DeleteTimeout: cfg.Server.Delete(),
		ListTimeout:   cfg.Server.List(),
	})

	channels := delivery.NewRegistry()
	channels.Register(delivery.NewSound(cfg.Sound.Player))
	channels.Register(delivery.NewToast(os.Stderr))
	channels.Register(delivery.NewDesktop(cfg.Desktop.Command))
	if cfg.Telegram.Token != "" {
		a.telegram, err = delivery.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.Endpoint)
		if err != nil {
			slog.Warn("telegram channel disabled", "error", err)
		} else {
			channels.Register(a.telegram)
		}
	}

	if a.bus, err = notify.New(a.store, notify.WithChannels(channels)); err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}

	a.gateway = gateway.New(a.client, a.catalog, a.history, gateway.WithEmitter(a.bus))

	a.reconciler, err = autosync.New(a.client, a.catalog, a.store, autosync.WithEmitter(a.bus))
	if err != nil {
		return fmt.Errorf("load auto-sync settings: %w", err)
	}
	return nil
}

// Close waits for pending telegram sends and closes the store.
func (a *app) Close() {
	if a.telegram != nil {
		a.telegram.Wait()
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("close state store", "error", err)
	}
}

// withApp loads the config, wires the app and closes it after fn.
func withApp(fn func(a *app) error) error {
	a, err := newApp(loadConfig())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
