package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/tickerlens/tickerlens/internal/core/engine"
)

// Logger is the subset of the structured logger the server writes to.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// Server answers MCP requests against an orchestrator.
type Server struct {
	orchestrator *engine.Orchestrator
	info         implementation
	instructions string
	logger       Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithImplementation sets the name and version reported on initialize.
func WithImplementation(name, version string) Option {
	return func(s *Server) {
		s.info = implementation{Name: name, Version: version}
	}
}

// NewServer returns a Server dispatching tools/call to orchestrator.
func NewServer(orchestrator *engine.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orchestrator: orchestrator,
		info:         implementation{Name: "tickerlens", Version: "dev"},
		instructions: engine.Instructions(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage decodes one JSON-RPC message and returns the encoded
// response, or nil when the message was a notification.
func (s *Server) HandleMessage(ctx context.Context, raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		return encode(errorResponse(nil, InvalidRequest, "batch requests are not supported", nil))
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encode(errorResponse(nil, ParseError, "Parse error", err.Error()))
	}

	resp := s.Handle(ctx, &req)
	if resp == nil {
		return nil
	}
	return encode(resp)
}

// Handle dispatches one decoded request.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, InvalidRequest, "Invalid Request", "jsonrpc must be 2.0 and method is required")
	}

	result, err := s.dispatch(ctx, req)
	if req.IsNotification() {
		if err != nil {
			s.logger.Debug("Notification failed", zap.String("method", req.Method), zap.Error(err))
		}
		return nil
	}
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		}
		s.logger.Error("Request failed", zap.String("method", req.Method), zap.Error(err))
		return errorResponse(req.ID, InternalError, "Internal error", err.Error())
	}
	if result == nil {
		result = struct{}{}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, error) {
	switch req.Method {
	case "initialize":
		return s.initialize(req.Params)
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return s.listTools(), nil
	case "tools/call":
		return s.callTool(ctx, req.Params)
	default:
		return nil, &Error{Code: MethodNotFound, Message: "Method not found", Data: req.Method}
	}
}

func (s *Server) initialize(params json.RawMessage) (any, error) {
	var p initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &Error{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
		}
	}

	version := ProtocolVersion
	if slices.Contains(supportedVersions, p.ProtocolVersion) {
		version = p.ProtocolVersion
	}

	s.logger.Info("Client initialized",
		zap.String("client", p.ClientInfo.Name),
		zap.String("client_version", p.ClientInfo.Version),
		zap.String("protocol_version", version))

	return initializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

func (s *Server) listTools() toolsListResult {
	tools := s.orchestrator.Tools()
	out := make([]ToolInfo, 0, len(tools))
	for _, tool := range tools {
		out = append(out, ToolInfo{Name: tool.Name, Description: tool.Description, InputSchema: tool.InputSchema})
	}
	return toolsListResult{Tools: out}
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var p toolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	if p.Name == "" {
		return nil, &Error{Code: InvalidParams, Message: "Invalid params", Data: "tool name is required"}
	}

	res, err := s.orchestrator.Call(ctx, p.Name, p.Arguments)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownTool) {
			return nil, &Error{Code: InvalidParams, Message: "Unknown tool", Data: p.Name}
		}
		return nil, err
	}

	s.logger.Debug("Tool call completed",
		zap.String("tool", res.Tool),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("duration", res.Duration))

	return ToolCallResult{
		Content: []Content{{Type: "text", Text: res.Text}},
		IsError: res.IsError,
	}, nil
}

func errorResponse(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

func encode(resp *Response) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(resp); err != nil {
		fallback, _ := json.Marshal(errorResponse(resp.ID, InternalError, "Internal error", err.Error()))
		return fallback
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}
