package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fundradar/radar/internal/classify"
	"github.com/fundradar/radar/internal/digest"
	"github.com/fundradar/radar/internal/ingest"
	"github.com/fundradar/radar/internal/notify"
	"github.com/fundradar/radar/internal/orchestrator"
	"github.com/fundradar/radar/internal/registry"
	"github.com/fundradar/radar/internal/store"
	"github.com/fundradar/radar/pkg/dingtalk"
	"github.com/fundradar/radar/pkg/feed"
	"github.com/fundradar/radar/pkg/inference"
)

// env holds the wired pipeline shared by the run, serve and digest
// commands.
type env struct {
	store    store.Store
	registry *registry.Registry
	orch     *orchestrator.Orchestrator
	digester *digest.Generator
	notifier *notify.Notifier
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "radar.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv connects the store, migrates it, seeds the default prompt
// and wires every pipeline component from config.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	if err := classify.EnsureDefaultPrompt(ctx, st); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	feedClient := feed.NewClient(cfg.Feed.Username, cfg.Feed.Password,
		feed.WithBaseURL(cfg.Feed.BaseURL))
	inferClient := inference.NewClient(cfg.Inference.Key,
		inference.WithBaseURL(cfg.Inference.BaseURL),
		inference.WithModel(cfg.Inference.Model),
		inference.WithRequestsPerMinute(cfg.Inference.RequestsPerMinute))
	bot := dingtalk.NewClient(cfg.DingTalk.WebhookURL, cfg.DingTalk.Secret)

	reg := registry.New(st,
		registry.WithStaleTimeout(time.Duration(cfg.Radar.StaleRunTimeoutMin)*time.Minute))
	in := ingest.New(st, feedClient,
		ingest.WithPageLimit(cfg.Radar.PageLimit),
		ingest.WithMaxPages(cfg.Radar.MaxPages),
		ingest.WithMaxTextLen(cfg.Radar.MaxTextLen))
	cl := classify.New(st, inferClient, cfg.Inference.Model)
	nt := notify.New(st, bot, cfg.DingTalk.WebhookURL)
	dg := digest.New(st, inferClient)

	return &env{
		store:    st,
		registry: reg,
		notifier: nt,
		digester: dg,
		orch: orchestrator.New(st, reg, in, cl, nt, dg,
			orchestrator.WithWorkers(cfg.Server.Workers)),
	}, nil
}

func (e *env) Close() {
	e.store.Close() //nolint:errcheck
}
