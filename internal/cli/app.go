package cli

import (
	"fmt"

	"github.com/tollgate/tollgate/internal/billing"
	"github.com/tollgate/tollgate/internal/config"
	"github.com/tollgate/tollgate/internal/staging"
	"github.com/tollgate/tollgate/internal/store"
)

// app bundles the opened store and the components a command needs.
type app struct {
	cfg     config.Config
	store   *store.Store
	queue   *billing.Queue
	actions *staging.Store
}

// openApp loads config, opens the database and wires the components.
// Callers must Close the returned app.
func openApp(opts *RootOptions) (*app, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	st, err := store.Open(opts.Database, store.Options{
		Retry: store.NewRetryCoordinatorWith(cfg.Retry.Attempts, cfg.Retry.BaseDelay.D(), nil, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", opts.Database, err)
	}

	queue := billing.NewQueue(st, billing.Options{
		ExecutionTimeout: cfg.Billing.ExecutionTimeout.D(),
		MaxRecoveries:    cfg.Billing.MaxRecoveries,
	})
	actions := staging.New(st, staging.Options{
		ReversibleTTL:    cfg.Staging.ReversibleTTL.D(),
		IrreversibleTTL:  cfg.Staging.IrreversibleTTL.D(),
		ExecutionTimeout: cfg.Staging.ExecutionTimeout.D(),
	})

	return &app{cfg: cfg, store: st, queue: queue, actions: actions}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
