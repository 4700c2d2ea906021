// Package gateway serves the assistant over HTTP and WebSocket. The HTTP API
// answers messages synchronously; WebSocket clients form a chat channel
// whose replies arrive as events, like any other transport.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/concierge/internal/channel"
	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/convctx"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/routing"
	"github.com/soyeahso/concierge/internal/tools"
	"github.com/soyeahso/concierge/internal/version"
)

// ChannelID is the id the gateway registers under as a chat channel.
const ChannelID = "gateway"

const maxPayloadBytes = 1 << 20

// MessageHandler answers one message synchronously.
type MessageHandler interface {
	Handle(ctx context.Context, msg domain.InboundMessage) routing.Result
}

// Server is the gateway HTTP + WebSocket server. It also implements
// domain.Channel for its WebSocket clients.
type Server struct {
	cfg      config.GatewayConfig
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	rpc      map[string]RequestHandler
	limiter  *authLimiter
	upgrader websocket.Upgrader
	eventSeq atomic.Int64

	messages MessageHandler
	contexts convctx.Store
	catalog  *tools.Catalog
	channels *channel.Registry
	hooks    *hooks.Manager

	mu         sync.RWMutex
	handler    func(domain.InboundMessage)
	httpServer *http.Server
	addr       string
	startedAt  time.Time
	lastErr    string
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithMessageHandler sets what answers POST /api/messages.
func WithMessageHandler(h MessageHandler) ServerOption {
	return func(s *Server) { s.messages = h }
}

// WithContexts exposes conversation contexts for inspection and reset.
func WithContexts(store convctx.Store) ServerOption {
	return func(s *Server) { s.contexts = store }
}

// WithCatalog exposes the tool catalog.
func WithCatalog(c *tools.Catalog) ServerOption {
	return func(s *Server) { s.catalog = c }
}

// WithChannels sets the channel registry for status reporting.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// New creates a gateway server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	log = log.Sub("gateway")
	s := &Server{
		cfg:     cfg,
		auth:    ResolveAuth(cfg.Auth),
		log:     log,
		clients: NewClientRegistry(log),
		rpc:     make(map[string]RequestHandler),
		limiter: newAuthLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRPCHandlers()
	return s
}

// checkWebSocketOrigin allows requests without an Origin header (non-browser
// clients) and browsers from the configured origins.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// ID implements domain.Channel.
func (s *Server) ID() string { return ChannelID }

// OnMessage implements domain.Channel. WebSocket chat.send requests are
// delivered to handler.
func (s *Server) OnMessage(handler func(msg domain.InboundMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Status implements domain.Channel.
func (s *Server) Status() domain.ChannelStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: ChannelID,
		Connected: s.httpServer != nil,
		Running:   s.httpServer != nil,
		LastError: s.lastErr,
	}
}

// Send implements domain.Channel: the reply is pushed as a chat.reply event
// to every WebSocket client msg.To addresses.
func (s *Server) Send(_ context.Context, msg domain.OutboundMessage) error {
	targets := s.clients.Matching(msg.To)
	if len(targets) == 0 {
		return fmt.Errorf("gateway: no client connected for %q", msg.To)
	}

	payload := map[string]any{
		"replyTo": msg.ReplyToID,
		"text":    msg.Body,
	}
	if html, err := renderHTML(msg.Body); err == nil {
		payload["html"] = html
	}

	var errs []error
	for _, c := range targets {
		if err := c.SendEvent(EventReply, payload, s.eventSeq.Add(1)); err != nil {
			errs = append(errs, fmt.Errorf("conn %s: %w", c.ConnID, err))
		}
	}
	return errors.Join(errs...)
}

// Start listens for HTTP and WebSocket connections and blocks until ctx is
// cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.setErr(err)
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			s.setErr(err)
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled, credentials travel in cleartext")
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.lastErr = ""
	s.mu.Unlock()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Str("auth", s.auth.Mode).
		Msg("gateway server ready")
	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": ln.Addr().String()})
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Stop(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.setErr(err)
		return err
	}
	return nil
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.log.Info().Msg("shutting down gateway server")
	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStop, nil)
	}
	s.clients.CloseAll()
	return srv.Shutdown(ctx)
}

// Addr returns the listen address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Server) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Server) uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// handleWebSocket upgrades the request and runs the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayloadBytes)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.limiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()
	s.readLoop(r.Context(), client)
}

// handshake runs challenge, connect, hello.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	challenge, err := NewEvent(EventChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	res := Authorize(s.auth, params.Auth)
	if !res.OK {
		sendErrorAndClose(conn, frame.ID, "unauthorized", res.Reason)
		return nil, fmt.Errorf("auth failed: %s", res.Reason)
	}

	conn.SetReadDeadline(time.Time{})
	client := NewClient(conn, params)

	hello, err := NewResponse(frame.ID, HelloOK{
		Protocol: ProtocolVersion,
		Version:  version.Version,
		ConnID:   client.ConnID,
		Methods:  s.methods(),
		Events:   []string{EventChallenge, EventReply},
	})
	if err != nil {
		return nil, fmt.Errorf("creating hello: %w", err)
	}
	if err := conn.WriteJSON(hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("from", client.From).
		Str("authMethod", res.Method).
		Msg("client authenticated")
	return client, nil
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	h, ok := s.rpc[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{Code: "method_not_found", Message: "unknown method: " + frame.Method})
		return
	}
	h(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
}

func (s *Server) methods() []string {
	out := make([]string, 0, len(s.rpc))
	for m := range s.rpc {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
