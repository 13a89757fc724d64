package app

import (
	"fmt"

	"github.com/mbolis/quick-forms/config"
	"github.com/mbolis/quick-forms/storage"
	"github.com/mbolis/quick-forms/storage/docstore"
	"github.com/mbolis/quick-forms/storage/sqlstore"
	"github.com/mbolis/quick-forms/validate"
	"github.com/mbolis/quick-forms/webhook"
)

type App struct {
	storage.Store
	Validator *validate.Validator
	Notifier  *webhook.Notifier
	config.Config
}

// New wires the collaborators around an already opened store.
func New(cfg config.Config, store storage.Store) App {
	return App{
		Store:     store,
		Validator: &validate.Validator{Files: store, MaxUploadBytes: cfg.UploadMaxBytes},
		Notifier:  webhook.New(cfg.WebhookTimeout),
		Config:    cfg,
	}
}

// OpenStore opens the backend selected by cfg.Backend.
func OpenStore(cfg config.Config) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite, config.BackendPostgres:
		return sqlstore.Open(cfg.Backend, cfg.DBUrl)
	case config.BackendJSON:
		return docstore.Open(cfg.DocPath)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Close waits for pending webhook deliveries, then closes the store.
func (a App) Close() error {
	a.Notifier.Wait()
	return a.Store.Close()
}
