package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/concierge/internal/auth"
	"github.com/soyeahso/concierge/internal/backend"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/i18n"
	"github.com/soyeahso/concierge/internal/logging"
)

// Handler implements one tool. It returns the text handed back to the model.
type Handler func(ctx context.Context, call *Call) (string, error)

// Call is everything a handler may use. Backend is the open transaction
// scope; handlers never commit or roll back themselves.
type Call struct {
	Tool       Tool
	Args       Args
	Auth       auth.Context
	Account    domain.Account
	HasAccount bool
	Admin      bool
	Locale     string
	Backend    backend.Backend

	tr          *i18n.Translator
	frontendURL string
}

// T localizes key in the caller's locale.
func (c *Call) T(key string, args ...any) string {
	return c.tr.T(c.Locale, key, args...)
}

// ReservationLink returns the resident-facing page of a reservation.
func (c *Call) ReservationLink(id string) string {
	if c.frontendURL == "" {
		return ""
	}
	return c.frontendURL + "/spaces/reservations/" + id
}

// OwnReservation loads a reservation the caller is allowed to see.
func (c *Call) OwnReservation(ctx context.Context, id string) (domain.Reservation, error) {
	r, err := c.Backend.GetReservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !c.Admin && (!c.HasAccount || r.AccountID != c.Account.ID) {
		return domain.Reservation{}, backend.Business("reservation.noAccess")
	}
	return r, nil
}

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Catalog     *Catalog
	Transactor  backend.Transactor
	Translator  *i18n.Translator
	FrontendURL string
	Logger      *logging.Logger
}

// Executor authorizes, scopes and dispatches tool calls.
type Executor struct {
	catalog     *Catalog
	handlers    map[string]Handler
	tx          backend.Transactor
	tr          *i18n.Translator
	frontendURL string
	log         *logging.Logger
}

// NewExecutor creates an executor with the built-in handlers registered.
func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		catalog:     cfg.Catalog,
		handlers:    make(map[string]Handler),
		tx:          cfg.Transactor,
		tr:          cfg.Translator,
		frontendURL: cfg.FrontendURL,
		log:         cfg.Logger.Sub("tools"),
	}
	for name, h := range builtinHandlers() {
		e.handlers[name] = h
	}
	return e
}

// Handle registers or replaces the handler for name.
func (e *Executor) Handle(name string, h Handler) {
	e.handlers[name] = h
}

// Catalog returns the catalog the executor serves.
func (e *Executor) Catalog() *Catalog {
	return e.catalog
}

// Translator returns the translator used for results.
func (e *Executor) Translator() *i18n.Translator {
	return e.tr
}

// Missing returns catalog tools that have no handler.
func (e *Executor) Missing() []string {
	var out []string
	for _, n := range e.catalog.Names() {
		if _, ok := e.handlers[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// ExecuteJSON decodes raw arguments and executes the tool. Malformed JSON
// only fails this call.
func (e *Executor) ExecuteJSON(ctx context.Context, name, raw string, ac auth.Context) Result {
	args, err := ParseArgs(raw)
	if err != nil {
		e.log.Warn().Str("tool", name).Str("input", logging.Truncate(raw, 200)).Msg("malformed tool arguments")
		return ErrorResult(e.tr.T(e.tr.Resolve(ac.Locale()), "arg.invalidJSON"))
	}
	return e.Execute(ctx, name, args, ac)
}

// Execute runs one tool call for the principal ac.
func (e *Executor) Execute(ctx context.Context, name string, args Args, ac auth.Context) Result {
	start := time.Now()
	locale := e.tr.Resolve(ac.Locale())

	tool, known := e.catalog.Get(name)
	handler, handled := e.handlers[name]
	if !known || !handled {
		e.log.Error().Str("tool", name).Bool("inCatalog", known).Msg("no handler for tool")
		return ErrorResult(e.tr.T(locale, "mcp.error.unknownTool", name))
	}

	// The DM gate runs before any backend access.
	if tool.DMOnly() && ac.IsPublicResponse() {
		e.log.Info().Str("tool", name).Str("conversationId", ac.ConversationID()).Msg("private tool refused in public conversation")
		return ErrorResult(e.tr.T(locale, "mcp.error.requiresDM"))
	}

	call := &Call{
		Tool:        tool,
		Args:        args,
		Auth:        ac,
		Admin:       ac.IsAdmin(),
		tr:          e.tr,
		frontendURL: e.frontendURL,
	}
	if a, ok := ac.Account(); ok {
		call.Account, call.HasAccount = a, true
	}

	var out, refusal string
	err := e.InScope(ctx, func(ctx context.Context, b backend.Backend) error {
		call.Backend = b
		if !call.HasAccount && ac.SenderID() != "" {
			a, err := b.FindAccountByChatID(ctx, ac.SenderID())
			if err == nil {
				call.Account, call.HasAccount = a, true
			} else if backend.IsStorage(err) {
				e.log.Warn().Err(err).Str("tool", name).Msg("account lookup failed")
			}
		}
		if call.HasAccount {
			call.Admin = call.Admin || call.Account.IsAdmin()
			locale = e.tr.Resolve(call.Account.Locale)
		}
		call.Locale = locale

		switch {
		case tool.Private && !call.HasAccount:
			refusal = "mcp.error.requiresDM"
			return nil
		case tool.AdminOnly() && !call.Admin && !call.HasAccount:
			refusal = "mcp.error.requiresDM"
			return nil
		case tool.AdminOnly() && !call.Admin:
			refusal = "mcp.error.adminOnly"
			return nil
		}

		var err error
		out, err = handler(ctx, call)
		return err
	})

	if refusal != "" {
		e.log.Info().Str("tool", name).Str("reason", refusal).Msg("tool refused")
		return ErrorResult(e.tr.T(locale, refusal))
	}

	res := TextResult(out)
	if err != nil {
		res = e.classify(name, locale, err)
	}

	e.log.Info().
		Str("tool", name).
		Bool("isError", res.IsError).
		Dur("duration", time.Since(start)).
		Str("result", logging.Truncate(res.Text(), 500)).
		Msg("tool executed")
	return res
}

// InScope runs fn inside a transaction scope and settles it by error class:
// storage failures roll back, everything else commits. The scope is
// detached from ctx cancellation so it always settles.
func (e *Executor) InScope(ctx context.Context, fn func(ctx context.Context, b backend.Backend) error) error {
	ctx = context.WithoutCancel(ctx)
	scope, err := e.tx.Begin(ctx)
	if err != nil {
		return backend.Storage("begin", err)
	}

	fnErr := fn(ctx, scope)
	if backend.IsStorage(fnErr) {
		if rbErr := scope.Rollback(); rbErr != nil {
			e.log.Error().Err(rbErr).Msg("rollback failed")
		}
		return fnErr
	}
	if err := scope.Commit(); err != nil {
		return backend.Storage("commit", err)
	}
	return fnErr
}

// Message localizes an error returned by InScope.
func (e *Executor) Message(locale string, err error) string {
	return e.classify("", e.tr.Resolve(locale), err).Text()
}

func (e *Executor) classify(name, locale string, err error) Result {
	if err == nil {
		return Result{}
	}
	if be, ok := backend.AsBusiness(err); ok {
		return ErrorResult(e.tr.T(locale, be.Key, be.Args...))
	}
	if backend.IsStorage(err) {
		e.log.Error().Err(err).Str("tool", name).Msg("storage failure, rolled back")
		return ErrorResult(e.tr.T(locale, "mcp.error.generic", e.tr.T(locale, "mcp.error.retry")))
	}
	e.log.Error().Err(err).Str("tool", name).Msg("tool failed")
	return ErrorResult(e.tr.T(locale, "mcp.error.generic", fmt.Sprint(err)))
}
