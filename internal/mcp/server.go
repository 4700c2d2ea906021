// Package mcp exposes the tool catalog and executor over the Model Context
// Protocol (JSON-RPC 2.0, one message per line on stdio). A session acts on
// behalf of one resident and counts as a direct conversation.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/soyeahso/concierge/internal/auth"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/tools"
	"github.com/soyeahso/concierge/internal/version"
)

// ChannelID tags conversations opened through MCP.
const ChannelID = "mcp"

const maxLineBytes = 1 << 20

// Server answers MCP requests.
type Server struct {
	exec     *tools.Executor
	resolver *auth.Resolver
	from     string
	log      *logging.Logger

	mu     sync.Mutex
	out    *json.Encoder
	ac     auth.Context
	loaded bool
}

// NewServer creates a server acting for the resident whose chat identity is
// from. An unknown identity still works for public tools.
func NewServer(exec *tools.Executor, resolver *auth.Resolver, from string, log *logging.Logger) *Server {
	if from == "" {
		from = "mcp:" + uuid.NewString()
	}
	return &Server{exec: exec, resolver: resolver, from: from, log: log.Sub("mcp")}
}

// Serve reads requests from r and writes responses to w until r is
// exhausted or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.mu.Lock()
	s.out = json.NewEncoder(w)
	s.mu.Unlock()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	s.log.Info().Str("from", s.from).Msg("mcp session started")
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.handleLine(ctx, []byte(line))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading mcp input: %w", err)
	}
	s.log.Info().Msg("mcp session ended")
	return nil
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.log.Warn().Err(err).Msg("parse error")
		s.writeError(nil, CodeParseError, "Parse error", err.Error())
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		if !req.IsNotification() {
			s.writeError(req.ID, CodeInvalidRequest, "Invalid Request", nil)
		}
		return
	}

	s.log.Debug().Str("method", req.Method).Msg("request")
	result, rpcErr := s.dispatch(ctx, req)
	if req.IsNotification() {
		return
	}
	if rpcErr != nil {
		s.write(Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}
	s.write(Response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) dispatch(ctx context.Context, req Request) (any, *RPCError) {
	switch req.Method {
	case "initialize":
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    Capabilities{Tools: map[string]any{}},
			ServerInfo:      ServerInfo{Name: "concierge", Version: version.Version},
		}, nil
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return s.listTools(ctx), nil
	case "tools/call":
		return s.callTool(ctx, req.Params)
	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "Method not found", Data: "unknown method: " + req.Method}
	}
}

// principal resolves the session identity once.
func (s *Server) principal(ctx context.Context) auth.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		msg := domain.InboundMessage{
			ChannelID: ChannelID,
			From:      s.from,
			ChatID:    s.from,
			ChatType:  domain.ChatTypeDM,
		}
		if s.resolver != nil {
			s.ac = s.resolver.Resolve(ctx, msg)
		} else {
			s.ac = auth.New(msg.From, msg.ConversationID(), true, nil)
		}
		s.loaded = true
	}
	return s.ac
}

func (s *Server) listTools(ctx context.Context) ListToolsResult {
	ac := s.principal(ctx)
	visible := s.exec.Catalog().Visible(true, ac.IsAdmin())
	out := ListToolsResult{Tools: make([]ToolDescriptor, 0, len(visible))}
	for _, t := range visible {
		// The reservation handoff only makes sense inside a chat conversation.
		if t.Name == tools.StartReservationTool {
			continue
		}
		out.Tools = append(out.Tools, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var p CallToolParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	if p.Name == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "Invalid params", Data: "tool name is required"}
	}

	ac := s.principal(ctx)
	res := s.exec.Execute(ctx, p.Name, tools.Args(p.Arguments), ac)
	s.log.Info().
		Str("tool", p.Name).
		Bool("isError", res.IsError).
		Str("result", logging.Truncate(res.Text(), 500)).
		Msg("tool called")
	return res, nil
}

func (s *Server) writeError(id json.RawMessage, code int, message string, data any) {
	if id == nil {
		id = json.RawMessage("null")
	}
	s.write(Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message, Data: data}})
}

func (s *Server) write(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.out.Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("failed to write response")
	}
}
