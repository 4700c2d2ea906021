package domain

import "time"

// ChatType classifies the conversation context.
type ChatType string

const (
	// ChatTypeDM is a private one-to-one conversation with the assistant.
	ChatTypeDM ChatType = "dm"
	// ChatTypeGroup is a shared room where replies are visible to everyone.
	ChatTypeGroup ChatType = "group"
)

// InboundMessage is a message received from a channel.
type InboundMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	From      string    `json:"from"` // chat identity, e.g. "@alice:neohoods.local"
	FromName  string    `json:"fromName,omitempty"`
	ChatID    string    `json:"chatId"`
	ChatType  ChatType  `json:"chatType"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// IsDirect reports whether the message was sent in a private conversation.
func (m InboundMessage) IsDirect() bool {
	return m.ChatType == ChatTypeDM
}

// ConversationID identifies the conversation a message belongs to. Contexts,
// history and locks are all keyed by it.
func (m InboundMessage) ConversationID() string {
	return m.ChannelID + ":" + m.ChatID
}

// OutboundMessage is a message to be sent via a channel.
type OutboundMessage struct {
	ChannelID string `json:"channelId"`
	To        string `json:"to"`
	Body      string `json:"body"`
	ReplyToID string `json:"replyToId,omitempty"`
}
