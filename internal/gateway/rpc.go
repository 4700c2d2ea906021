package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
)

// RequestHandler processes one RPC request.
type RequestHandler func(rc *RequestContext)

// RequestContext carries what an RPC handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	if err := rc.Client.RespondError(rc.Frame.ID, ErrorShape{Code: code, Message: message}); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send error response")
	}
}

// Params decodes the request params into v. Missing params leave v as is.
func (rc *RequestContext) Params(v any) error {
	if len(rc.Frame.Params) == 0 {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, v)
}

// Handle registers an RPC handler, replacing any previous one for method.
func (s *Server) Handle(method string, h RequestHandler) {
	s.rpc[method] = h
}

func (s *Server) registerRPCHandlers() {
	s.Handle("health", rpcHealth)
	s.Handle("channels.status", rpcChannelsStatus)
	s.Handle("tools.list", rpcToolsList)
	s.Handle("conversation.get", rpcConversationGet)
	s.Handle("conversation.reset", rpcConversationReset)
	s.Handle("chat.send", rpcChatSend)
}

func rpcHealth(rc *RequestContext) {
	rc.Respond(rc.Server.status())
}

func rpcChannelsStatus(rc *RequestContext) {
	if rc.Server.channels == nil {
		rc.Respond(map[string]any{"channels": []domain.ChannelStatus{}})
		return
	}
	rc.Respond(map[string]any{"channels": rc.Server.channels.Status()})
}

func rpcToolsList(rc *RequestContext) {
	rc.Respond(map[string]any{"tools": rc.Server.toolInfos()})
}

// conversation.get and conversation.reset act on the caller's own
// conversation only.
func rpcConversationGet(rc *RequestContext) {
	store := rc.Server.contexts
	if store == nil {
		rc.RespondError("unavailable", "no conversation store")
		return
	}
	id := ChannelID + ":" + rc.Client.ChatID
	conv, err := store.Load(rc.Ctx, id)
	if err != nil {
		rc.RespondError("storage_error", err.Error())
		return
	}
	rc.Respond(ConversationResponse{
		ConversationID: conv.ConversationID,
		Step:           conv.Step,
		Slots:          conv.Slots,
		Messages:       len(conv.History),
		UpdatedAt:      conv.UpdatedAt,
	})
}

func rpcConversationReset(rc *RequestContext) {
	store := rc.Server.contexts
	if store == nil {
		rc.RespondError("unavailable", "no conversation store")
		return
	}
	id := ChannelID + ":" + rc.Client.ChatID
	if err := store.Clear(rc.Ctx, id); err != nil {
		rc.RespondError("storage_error", err.Error())
		return
	}
	rc.Respond(map[string]any{"conversationId": id, "reset": true})
}

// ChatSendParams are the params of chat.send.
type ChatSendParams struct {
	Message string `json:"message"`
}

// rpcChatSend hands the message to the channel handler. The answer arrives
// later as a chat.reply event.
func rpcChatSend(rc *RequestContext) {
	var p ChatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if strings.TrimSpace(p.Message) == "" {
		rc.RespondError("invalid_params", "message is required")
		return
	}

	rc.Server.mu.RLock()
	handler := rc.Server.handler
	rc.Server.mu.RUnlock()
	if handler == nil {
		rc.RespondError("unavailable", "assistant not attached")
		return
	}

	msg := domain.InboundMessage{
		ID:        rc.Frame.ID,
		ChannelID: ChannelID,
		From:      rc.Client.From,
		FromName:  rc.Client.Info.DisplayName,
		ChatID:    rc.Client.ChatID,
		ChatType:  rc.Client.ChatType(),
		Body:      p.Message,
		Timestamp: time.Now(),
	}
	handler(msg)
	rc.Respond(map[string]any{"accepted": true, "messageId": msg.ID})
}
