// ABOUTME: MCP-compatible HTTP server exposing the gateway's tools to external agents.
// ABOUTME: Implements Streamable HTTP transport (spec 2025-11-25) with session management.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/glimpse-gateway/internal/fault"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize caps request bodies. Images ride base64-encoded inside
// tool arguments, so this must comfortably exceed the decoded image ceiling.
const MaxRequestBodySize = 8 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// ToolInfo represents an MCP tool definition.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// DescribeRequest carries the arguments of the describe_image tool.
type DescribeRequest struct {
	Provider       string `json:"provider"`
	ImageBase64    string `json:"image_base64"`
	Prompt         string `json:"prompt,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// DescribeResult is what the describe_image tool returns to the agent.
type DescribeResult struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model,omitempty"`
}

// ModelEntry is one row of the list_models tool output.
type ModelEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// describeImageSchema is the input schema advertised for describe_image.
var describeImageSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"provider": {"type": "string", "description": "Vision provider id, e.g. openai, gemini, anthropic"},
		"image_base64": {"type": "string", "description": "Base64-encoded image, with or without a data URL prefix"},
		"prompt": {"type": "string", "description": "Optional system prompt steering the description"},
		"conversation_id": {"type": "string", "description": "Optional id of an existing conversation to continue"}
	},
	"required": ["provider", "image_base64"]
}`)

// listModelsSchema is the input schema advertised for list_models.
var listModelsSchema = json.RawMessage(`{"type": "object", "properties": {}}`)

// session tracks an active MCP client session.
type session struct {
	id              string
	protocolVersion string
	ownerToken      string // auth credential used to verify session ownership on DELETE
	createdAt       time.Time
}

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (s *sessionStore) create(protocolVersion, ownerToken string) *session {
	sess := &session{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		ownerToken:      ownerToken,
		createdAt:       time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

// Config holds configuration for the MCP server. The gateway supplies the
// tool implementations; authentication happens in the middleware wrapping
// this server.
type Config struct {
	Describe   func(ctx context.Context, req DescribeRequest) (*DescribeResult, error)
	ListModels func(ctx context.Context) []ModelEntry
	Logger     *slog.Logger
}

// Server implements MCP-compatible HTTP endpoints for external agents.
// Conforms to the MCP Streamable HTTP transport specification (2025-11-25).
type Server struct {
	describe   func(ctx context.Context, req DescribeRequest) (*DescribeResult, error)
	listModels func(ctx context.Context) []ModelEntry
	logger     *slog.Logger
	sessions   *sessionStore
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Describe == nil {
		return nil, errors.New("describe handler is required")
	}
	if cfg.ListModels == nil {
		return nil, errors.New("list models handler is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		describe:   cfg.Describe,
		listModels: cfg.ListModels,
		logger:     logger,
		sessions:   newSessionStore(),
	}, nil
}

// ServeHTTP is the single MCP endpoint supporting POST, GET, and DELETE per
// the Streamable HTTP transport spec (2025-11-25).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// We don't support server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session per the Streamable HTTP spec.
// Verifies the caller owns the session to prevent unauthorized termination.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if sess.ownerToken != "" {
		if extractOwnerToken(r) != sess.ownerToken {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	s.sessions.delete(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// Validate protocol version header (not required on initialize).
	// Per spec the server assumes 2025-03-26 when the header is missing.
	if !isInitialize && protoVersion != "" {
		if !supportedProtocolVersions[protoVersion] {
			http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
			return
		}
	}

	// Non-initialize requests require a valid session.
	if !isInitialize {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		if _, ok := s.sessions.get(sessionID); !ok {
			// Session expired or invalid - client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", isNotification,
		"session_id", sessionID,
	)

	// Notifications are accepted with HTTP 202 and no body.
	if isNotification {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, r, req)
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r, req)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleInitialize handles the MCP initialize handshake and creates a session.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	// Bind the session to the caller's credential so only its creator can
	// terminate it.
	sess := s.sessions.create(latestProtocolVersion, extractOwnerToken(r))

	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"protocol_version", sess.protocolVersion,
	)

	w.Header().Set("Mcp-Session-Id", sess.id)

	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "glimpse-gateway",
			"version": "1.0.0",
		},
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsList handles tools/list requests.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	result := ListToolsResult{
		Tools: []ToolInfo{
			{
				Name:        "describe_image",
				Description: "Describe an image with a vision model, optionally continuing a conversation. Returns the description text and the conversation id.",
				InputSchema: describeImageSchema,
			},
			{
				Name:        "list_models",
				Description: "List the vision models and providers this gateway can route to.",
				InputSchema: listModelsSchema,
			},
		},
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall handles tools/call requests.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}

	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	s.logger.Debug("tools/call", "tool_name", params.Name)

	switch params.Name {
	case "describe_image":
		s.callDescribeImage(r.Context(), w, req.ID, params.Arguments)
	case "list_models":
		s.callListModels(r.Context(), w, req.ID)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool not found", nil)
	}
}

// callDescribeImage runs the describe_image tool. Gateway faults come back
// as isError tool results; transport failures become JSON-RPC errors.
func (s *Server) callDescribeImage(ctx context.Context, w http.ResponseWriter, id json.RawMessage, args json.RawMessage) {
	var dreq DescribeRequest
	if len(args) > 0 {
		if err := json.Unmarshal(args, &dreq); err != nil {
			s.sendJSONRPCError(w, id, JSONRPCInvalidParams, "invalid arguments", nil)
			return
		}
	}

	result, err := s.describe(ctx, dreq)
	if err != nil {
		s.handleToolError(w, id, "describe_image", err)
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "encoding tool result failed", nil)
		return
	}
	s.sendJSONRPCResult(w, id, CallToolResult{
		Content: []Content{{Type: "text", Text: string(payload)}},
	})
}

// callListModels runs the list_models tool.
func (s *Server) callListModels(ctx context.Context, w http.ResponseWriter, id json.RawMessage) {
	models := s.listModels(ctx)
	payload, err := json.Marshal(map[string]any{"models": models})
	if err != nil {
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "encoding tool result failed", nil)
		return
	}
	s.sendJSONRPCResult(w, id, CallToolResult{
		Content: []Content{{Type: "text", Text: string(payload)}},
	})
}

// handleToolError maps tool failures. Classified gateway faults are tool
// outcomes the agent can act on; everything else is a protocol-level error.
func (s *Server) handleToolError(w http.ResponseWriter, id json.RawMessage, toolName string, err error) {
	s.logger.Warn("tool execution failed", "tool_name", toolName, "error", err)

	var fe *fault.Error
	if errors.As(err, &fe) {
		text := string(fe.Kind) + ": " + fe.Message
		if fe.Suggestion != "" {
			text += " (" + fe.Suggestion + ")"
		}
		s.sendJSONRPCResult(w, id, CallToolResult{
			Content: []Content{{Type: "text", Text: text}},
			IsError: true,
		})
		return
	}

	code := JSONRPCInternalError
	message := "tool execution failed"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		message = "tool execution timed out"
	case errors.Is(err, context.Canceled):
		message = "request cancelled"
	}
	s.sendJSONRPCError(w, id, code, message, nil)
}

// extractOwnerToken derives a stable identity string from the request's
// Authorization header. Used to bind sessions to their creator.
func extractOwnerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
