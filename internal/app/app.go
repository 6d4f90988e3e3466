package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/compliance-viewer/internal/api"
	"github.com/example/compliance-viewer/internal/config"
	"github.com/example/compliance-viewer/internal/session"
	"github.com/example/compliance-viewer/internal/store"
	"github.com/example/compliance-viewer/internal/view"
)

// App holds the wired components of one viewer instance
type App struct {
	Client     *api.Client
	Sessions   *session.Manager
	Store      *store.Store
	Controller *view.Controller

	log zerolog.Logger
}

// New wires the API client, the session manager, the store and the view
// controller from the configuration. Nothing is fetched until Start.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	client := api.New(api.Options{
		BaseURL:            cfg.BaseURL(),
		APIKey:             cfg.APIKey,
		AuthorizationLevel: cfg.AuthorizationLevel,
		PageSize:           cfg.PageSize,
		Timeout:            cfg.RequestTimeout,
		BreakerFailures:    cfg.BreakerFailures,
		BreakerCooldown:    cfg.BreakerCooldown,
	}, log)

	sessions := session.NewManager(client, log)

	s, err := store.New(sessions, client, log, store.Options{
		Retries:         cfg.FetchRetries,
		Backoff:         cfg.RetryBackoff,
		DetailCacheSize: cfg.DetailCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return &App{
		Client:     client,
		Sessions:   sessions,
		Store:      s,
		Controller: view.NewController(s, log),
		log:        log,
	}, nil
}

// Start performs the initial load and returns once it has settled
func (a *App) Start(ctx context.Context) {
	a.log.Debug().Msg("starting initial load")
	a.Controller.Start(ctx)
}

// Close detaches the controller from the store
func (a *App) Close() {
	a.Controller.Close()
}
