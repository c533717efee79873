package main

import (
	"fmt"
	"net/http"

	"github.com/paperlens/paperlens/internal/app"
	"github.com/paperlens/paperlens/internal/client"
	"github.com/paperlens/paperlens/internal/config"
	"github.com/paperlens/paperlens/internal/storage"
)

// session bundles what a CLI command needs: the flows, the proxy client they
// call and the local store behind them.
type session struct {
	app   *app.App
	api   *client.Client
	store *storage.Store
	cfg   config.Config
}

func (s *session) Close() error {
	return s.store.Close()
}

// proxyURL is the address of the local proxy started by "paperlens serve".
func proxyURL(cfg config.Config) string {
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
}

var openSession = func() (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Log.Level)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	api := client.New(proxyURL(cfg), &http.Client{})
	interval := config.Duration("poll.interval", cfg.Poll.Interval, 0)
	return &session{
		app:   app.New(api, store, interval),
		api:   api,
		store: store,
		cfg:   cfg,
	}, nil
}
