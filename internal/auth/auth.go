// Package auth builds the per-message principal the tools are authorized
// against.
package auth

import (
	"context"
	"strings"

	"github.com/soyeahso/concierge/internal/backend"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

// Context is who sent a message and where. It is a value: built once per
// inbound message and never modified afterwards.
type Context struct {
	senderID       string
	conversationID string
	direct         bool
	account        *domain.Account
	admin          bool
}

// New builds a Context. account may be nil when the sender has no linked
// backend account.
func New(senderID, conversationID string, direct bool, account *domain.Account) Context {
	ac := Context{senderID: senderID, conversationID: conversationID, direct: direct}
	if account != nil {
		a := *account
		ac.account = &a
		ac.admin = a.IsAdmin()
	}
	return ac
}

// SenderID returns the chat identity of the sender.
func (c Context) SenderID() string { return c.senderID }

// ConversationID returns the conversation the message belongs to.
func (c Context) ConversationID() string { return c.conversationID }

// IsDirect reports whether the conversation is private.
func (c Context) IsDirect() bool { return c.direct }

// IsPublicResponse reports whether a reply will be visible to other people.
func (c Context) IsPublicResponse() bool { return !c.direct }

// Account returns a copy of the linked account.
func (c Context) Account() (domain.Account, bool) {
	if c.account == nil {
		return domain.Account{}, false
	}
	return *c.account, true
}

// HasAccount reports whether a backend account is linked.
func (c Context) HasAccount() bool { return c.account != nil }

// IsAdmin reports whether the sender may use admin tools.
func (c Context) IsAdmin() bool { return c.admin }

// Locale returns the account locale, or "" when unknown.
func (c Context) Locale() string {
	if c.account == nil {
		return ""
	}
	return c.account.Locale
}

// AccountFinder resolves chat identities.
type AccountFinder interface {
	FindAccountByChatID(ctx context.Context, chatID string) (domain.Account, error)
}

// Resolver builds Contexts for inbound messages.
type Resolver struct {
	accounts AccountFinder
	admins   map[string]bool
	log      *logging.Logger
}

// NewResolver creates a resolver. adminUsers lists chat identities granted
// the admin role regardless of their account role.
func NewResolver(accounts AccountFinder, adminUsers []string, log *logging.Logger) *Resolver {
	admins := make(map[string]bool, len(adminUsers))
	for _, u := range adminUsers {
		admins[strings.ToLower(strings.TrimSpace(u))] = true
	}
	return &Resolver{accounts: accounts, admins: admins, log: log.Sub("auth")}
}

// Resolve builds the Context for msg. A sender without an account still
// gets a Context; storage failures are logged and treated the same way.
func (r *Resolver) Resolve(ctx context.Context, msg domain.InboundMessage) Context {
	var account *domain.Account
	if r.accounts != nil {
		a, err := r.accounts.FindAccountByChatID(ctx, msg.From)
		switch {
		case err == nil:
			account = &a
		case backend.IsStorage(err):
			r.log.Error().Err(err).Str("from", msg.From).Msg("account lookup failed")
		default:
			r.log.Debug().Str("from", msg.From).Msg("no account linked to sender")
		}
	}

	ac := New(msg.From, msg.ConversationID(), msg.IsDirect(), account)
	if r.admins[strings.ToLower(msg.From)] {
		ac.admin = true
	}
	return ac
}
