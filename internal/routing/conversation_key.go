package routing

import "github.com/soyeahso/concierge/internal/domain"

// Conversation scopes.
const (
	ScopePerChat   = "per-chat"
	ScopePerSender = "per-sender"
)

// scopeMessage returns msg with its ChatID rewritten so that
// ConversationID() yields the key contexts and locks are stored under.
//
// Scopes:
//   - "per-chat": one conversation per chat, shared by everyone in a room (default)
//   - "per-sender": in group chats every sender gets their own conversation,
//     so two residents booking in the same room do not share a workflow
//
// Direct chats already have a single sender and are never rewritten.
func scopeMessage(msg domain.InboundMessage, scope string) domain.InboundMessage {
	if scope != ScopePerSender || msg.IsDirect() || msg.From == "" {
		return msg
	}
	routed := msg
	routed.ChatID = msg.ChatID + "/" + msg.From
	return routed
}
