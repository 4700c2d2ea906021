package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/version"
)

// Handler returns the HTTP handler serving every gateway route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(s.cfg.AllowedOrigins))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/status", s.handleStatus)
		r.Get("/tools", s.handleTools)
		r.Post("/messages", s.handleMessage)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Delete("/conversations/{id}", s.handleResetConversation)
	})

	r.NotFound(handleNotFound)
	return r
}

// HealthResponse is the public health payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the authenticated status payload.
type StatusResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	UptimeMs int64                  `json:"uptimeMs"`
	Clients  int                    `json:"clients"`
	Channels []domain.ChannelStatus `json:"channels"`
}

// MessageRequest is the body of POST /api/messages.
type MessageRequest struct {
	From    string `json:"from"`
	ChatID  string `json:"chatId,omitempty"`
	Group   bool   `json:"group,omitempty"`
	Message string `json:"message"`
}

// MessageResponse is the answer to POST /api/messages.
type MessageResponse struct {
	ConversationID string `json:"conversationId"`
	Reply          string `json:"reply"`
	HTML           string `json:"html,omitempty"`
	Step           string `json:"step,omitempty"`
	Workflow       bool   `json:"workflow"`
	ToolCalls      int    `json:"toolCalls"`
	DurationMs     int64  `json:"durationMs"`
	Error          string `json:"error,omitempty"`
}

// ConversationResponse describes a stored conversation.
type ConversationResponse struct {
	ConversationID string    `json:"conversationId"`
	Step           string    `json:"step,omitempty"`
	Slots          any       `json:"slots"`
	Messages       int       `json:"messages"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ToolInfo lists a catalog entry.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	DirectOnly  bool   `json:"directOnly"`
	AdminOnly   bool   `json:"adminOnly"`
}

// handleHealth only reveals liveness; details need authentication.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Status:   "ok",
		Version:  version.Version,
		UptimeMs: s.uptime().Milliseconds(),
		Clients:  s.clients.Count(),
		Channels: []domain.ChannelStatus{},
	}
	if s.channels != nil {
		resp.Channels = s.channels.Status()
	}
	return resp
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.toolInfos()})
}

func (s *Server) toolInfos() []ToolInfo {
	if s.catalog == nil {
		return []ToolInfo{}
	}
	list := s.catalog.List()
	out := make([]ToolInfo, 0, len(list))
	for _, t := range list {
		out = append(out, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			DirectOnly:  t.DMOnly(),
			AdminOnly:   t.AdminOnly(),
		})
	}
	return out
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.messages == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "assistant not configured")
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	req.From = strings.TrimSpace(req.From)
	if req.From == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "from and message are required")
		return
	}

	msg := domain.InboundMessage{
		ID:        uuid.NewString(),
		ChannelID: ChannelID,
		From:      req.From,
		ChatID:    req.ChatID,
		ChatType:  domain.ChatTypeDM,
		Body:      req.Message,
		Timestamp: time.Now(),
	}
	if msg.ChatID == "" {
		msg.ChatID = req.From
	}
	if req.Group {
		msg.ChatType = domain.ChatTypeGroup
	}

	res := s.messages.Handle(r.Context(), msg)
	out := MessageResponse{
		ConversationID: res.ConversationID,
		Reply:          res.Text,
		Step:           res.Step,
		Workflow:       res.Workflow,
		ToolCalls:      res.ToolCalls,
		DurationMs:     res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if html, err := renderHTML(res.Text); err == nil {
		out.HTML = html
	} else {
		s.log.Warn().Err(err).Msg("failed to render reply")
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.contexts == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no conversation store")
		return
	}
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	conv, err := s.contexts.Load(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{
		ConversationID: conv.ConversationID,
		Step:           conv.Step,
		Slots:          conv.Slots,
		Messages:       len(conv.History),
		UpdatedAt:      conv.UpdatedAt,
	})
}

func (s *Server) handleResetConversation(w http.ResponseWriter, r *http.Request) {
	if s.contexts == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no conversation store")
		return
	}
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	if err := s.contexts.Clear(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	s.log.Info().Str("conversationId", id).Msg("conversation reset")
	w.WriteHeader(http.StatusNoContent)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "path": r.URL.Path})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]ErrorShape{"error": {Code: code, Message: message}})
}
