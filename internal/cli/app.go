package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/concierge/internal/agent"
	"github.com/soyeahso/concierge/internal/auth"
	"github.com/soyeahso/concierge/internal/channel"
	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/convctx"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/i18n"
	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/prompt"
	"github.com/soyeahso/concierge/internal/routing"
	"github.com/soyeahso/concierge/internal/store"
	"github.com/soyeahso/concierge/internal/tools"
	"github.com/soyeahso/concierge/internal/workflow"
)

// app holds the assembled assistant. Commands build only the parts they
// need: tools and mcp stop after the executor, serve and message go on to
// the model and the router.
type app struct {
	cfg      config.Config
	db       *store.DB
	tr       *i18n.Translator
	catalog  *tools.Catalog
	exec     *tools.Executor
	resolver *auth.Resolver
	hooks    *hooks.Manager
	contexts convctx.Store
	channels *channel.Registry
	router   *routing.Router

	closers []func() error
}

// loadConfig loads and validates the configuration file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openStore opens the SQLite database, applying migrations.
func openStore(cfg config.Config) (*store.DB, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating data directories: %w", err)
	}
	dbPath := paths.DatabasePath(cfg.Store)
	db, err := store.Open(dbPath, log,
		store.WithCheckoutURL(cfg.Payments.CheckoutURL),
		store.WithCurrency(cfg.Payments.Currency),
	)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Debug().Str("path", dbPath).Msg("database opened")
	return db, nil
}

// newToolsApp builds everything up to the tool executor.
func newToolsApp(cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, hooks: hooks.NewManager(log)}

	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	a.tr, err = i18n.New(cfg.Assistant.DefaultLocale)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("loading translations: %w", err)
	}

	if cfg.Assistant.CatalogPath != "" {
		a.catalog, err = tools.LoadCatalogFile(cfg.Assistant.CatalogPath)
	} else {
		a.catalog, err = tools.DefaultCatalog()
	}
	if err != nil {
		a.Close()
		return nil, err
	}

	a.exec = tools.NewExecutor(tools.ExecutorConfig{
		Catalog:     a.catalog,
		Transactor:  db,
		Translator:  a.tr,
		FrontendURL: cfg.Assistant.FrontendURL,
		Logger:      log,
	})
	if missing := a.exec.Missing(); len(missing) > 0 {
		log.Warn().Strs("tools", missing).Msg("catalog tools without a handler")
	}
	a.resolver = auth.NewResolver(db, cfg.Assistant.AdminUsers, log)
	return a, nil
}

// newAssistantApp builds the full assistant: model client, loop, workflow
// machine, context store and router.
func newAssistantApp(ctx context.Context, cfg config.Config) (*app, error) {
	a, err := newToolsApp(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := llm.NewRegistryFromConfig(cfg.LLM, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if len(registry.List()) == 0 {
		a.Close()
		return nil, errors.New("no LLM providers configured")
	}
	client := agent.NewFailoverClient(registry, cfg.LLM.Primary, cfg.LLM.Fallbacks, log)

	var retriever agent.Retriever
	if cfg.Assistant.RetrievalEnabled() {
		retriever = store.NewKnowledgeStore(a.db)
	}
	loop := agent.NewLoop(client, a.exec, a.tr, retriever, agent.Config{
		MaxChainDepth: cfg.Assistant.MaxChainDepth,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
	}, log)

	promptOpts := []prompt.Option{
		prompt.WithName(cfg.Assistant.Name),
		prompt.WithDefaultLocale(cfg.Assistant.DefaultLocale),
	}
	if cfg.Assistant.PromptsDir != "" {
		promptOpts = append(promptOpts, prompt.WithDir(cfg.Assistant.PromptsDir))
	}
	prompts, err := prompt.New(promptOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	steps, err := workflow.NewRegistry(workflow.DefaultHandlers(workflow.StepDeps{
		Responder:   loop,
		Prompts:     prompts,
		Catalog:     a.catalog,
		Scope:       a.exec,
		Translator:  a.tr,
		FrontendURL: cfg.Assistant.FrontendURL,
		Logger:      log,
	})...)
	if err != nil {
		a.Close()
		return nil, err
	}
	machine := workflow.NewMachine(steps, a.tr, log,
		workflow.WithObserver(workflow.NewLoggingObserver(log)),
		workflow.WithObserver(workflow.NewHookObserver(a.hooks)),
	)

	if err := a.openContexts(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.hooks.OnAll("log", hooks.LogHandler(log.Sub("events")))
	a.channels = channel.NewRegistry(log)
	a.router = routing.NewRouter(routing.Deps{
		Channels:   a.channels,
		Resolver:   a.resolver,
		Contexts:   a.contexts,
		Loop:       loop,
		Machine:    machine,
		Prompts:    prompts,
		Catalog:    a.catalog,
		Translator: a.tr,
		Hooks:      a.hooks,
	}, routing.Config{
		MessageTimeout: cfg.Assistant.MessageTimeout,
		MaxHistory:     cfg.Assistant.MaxHistory,
		Scope:          cfg.Assistant.Scope,
	}, log)

	log.Info().
		Str("primary", client.Name()).
		Strs("providers", registry.List()).
		Str("contexts", cfg.Context.Backend).
		Bool("retrieval", retriever != nil).
		Msg("assistant ready")
	return a, nil
}

// openContexts selects the conversation context backend.
func (a *app) openContexts(ctx context.Context) error {
	ttl := a.cfg.Context.TTL
	switch a.cfg.Context.Backend {
	case "memory":
		a.contexts = convctx.NewMemoryStore(ttl)
	case "redis":
		rdb, err := convctx.DialRedis(ctx, a.cfg.Context.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rdb.Close)
		a.contexts = convctx.NewRedisStore(rdb, ttl)
	default:
		cs := store.NewContextStore(a.db, ttl)
		if n, err := cs.Purge(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to purge expired contexts")
		} else if n > 0 {
			log.Info().Int64("purged", n).Msg("expired contexts removed")
		}
		a.contexts = cs
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
