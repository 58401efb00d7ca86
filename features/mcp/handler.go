// Package mcp serves the document tools over JSON-RPC, both as plain POST
// and over an SSE session.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docsearch/internal/indexer"
	"docsearch/internal/middleware"
	"docsearch/internal/retrieval"
)

const (
	ToolSearch     = "search_documents"
	ToolList       = "list_documents"
	ToolStats      = "collection_stats"
	ToolBuildIndex = "build_index"

	maxK = 50
)

type Retriever interface {
	Search(ctx context.Context, query string, k int, sourceFilter []string) ([]retrieval.SearchResult, error)
	ListDocuments(ctx context.Context, filter string) ([]string, error)
	Stats(ctx context.Context) (*retrieval.Stats, error)
}

type BuildStarter interface {
	Start(ctx context.Context, rebuild bool, trigger string) (string, error)
}

type Handler struct {
	retriever    Retriever
	builds       BuildStarter
	sessions     map[string]chan string // sessionId -> message channel (serialized JSON-RPC response)
	sessionsLock sync.RWMutex
}

// NewHandler builds the MCP handler. builds may be nil, in which case the
// build_index tool is not offered.
func NewHandler(r Retriever, b BuildStarter) *Handler {
	return &Handler{
		retriever: r,
		builds:    b,
		sessions:  make(map[string]chan string),
	}
}

// JSON-RPC Request types
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SearchArgs struct {
	Query  string                 `json:"query"`
	K      int                    `json:"k,omitempty"`
	Source retrieval.SourceFilter `json:"source,omitempty"`
}

type ListArgs struct {
	Source string `json:"source,omitempty"`
}

type BuildArgs struct {
	Rebuild bool `json:"rebuild,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// JSON-RPC Response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

// ProcessRequest processes the JSON-RPC request and returns a response.
// Returns nil if no response should be sent (e.g. for notifications).
func (h *Handler) ProcessRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "docsearch-mcp",
					"version": "1.0.0",
				},
			},
		}

	case "notifications/initialized":
		// Notifications must not generate a response
		return nil

	case "ping":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}

	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: h.tools()}}

	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
			return &resp
		}
		return h.callTool(ctx, req.ID, params)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) tools() []Tool {
	tools := []Tool{
		{
			Name: ToolSearch,
			Description: `Semantic search over the indexed documents. Returns the chunks closest to the query with their source file and page.

Use "source" to restrict results to files whose name contains the given text (case-insensitive), e.g. source="stm32f1" or source=["stm8", "stm32"]. When no file matches the filter, no results are returned.`,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]string{
						"type":        "string",
						"description": "The search query",
					},
					"k": map[string]interface{}{
						"type":        "integer",
						"description": "Max results to return (default 5).",
						"minimum":     1,
						"maximum":     maxK,
					},
					"source": map[string]interface{}{
						"description": "Partial source file name, or a list of them",
						"oneOf": []interface{}{
							map[string]string{"type": "string"},
							map[string]interface{}{"type": "array", "items": map[string]string{"type": "string"}},
						},
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolList,
			Description: `Lists the indexed source files, optionally only those whose name contains "source".`,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"source": map[string]string{
						"type":        "string",
						"description": "Partial source file name",
					},
				},
			},
		},
		{
			Name:        ToolStats,
			Description: `Reports the number of indexed chunks, the collection and embedding model in use, and the indexed sources.`,
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
	if h.builds != nil {
		tools = append(tools, Tool{
			Name:        ToolBuildIndex,
			Description: `Starts an index build in the background. By default only new files are indexed; rebuild=true replaces the whole index.`,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"rebuild": map[string]string{
						"type":        "boolean",
						"description": "Discard the index and re-process every file",
					},
				},
			},
		})
	}
	return tools
}

func (h *Handler) callTool(ctx context.Context, id interface{}, params CallParams) *JSONRPCResponse {
	switch params.Name {
	case ToolSearch:
		var args SearchArgs
		if err := unmarshalArgs(params.Arguments, &args); err != nil {
			slog.WarnContext(ctx, "invalid search arguments", "error", err)
			resp := makeErrorResponse(id, ErrInvalidParams, "Invalid search arguments")
			return &resp
		}
		if strings.TrimSpace(args.Query) == "" {
			resp := makeErrorResponse(id, ErrInvalidParams, "Query is required")
			return &resp
		}
		if args.K < 0 || args.K > maxK {
			resp := makeErrorResponse(id, ErrInvalidParams, fmt.Sprintf("k must be between 0 and %d", maxK))
			return &resp
		}

		results, err := h.retriever.Search(ctx, args.Query, args.K, args.Source)
		if err != nil {
			if errors.Is(err, retrieval.ErrEmptyQuery) {
				resp := makeErrorResponse(id, ErrInvalidParams, "Query is required")
				return &resp
			}
			slog.ErrorContext(ctx, "search failed", "error", err)
			return toolError(id, "Search failed: "+err.Error())
		}

		slog.InfoContext(ctx, "tool execution completed", "tool", ToolSearch, "result_count", len(results))
		return toolText(id, formatResults(results, args.Source))

	case ToolList:
		var args ListArgs
		if err := unmarshalArgs(params.Arguments, &args); err != nil {
			resp := makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
			return &resp
		}
		docs, err := h.retriever.ListDocuments(ctx, args.Source)
		if err != nil {
			slog.ErrorContext(ctx, "list_documents failed", "error", err)
			return toolError(id, "Error: "+err.Error())
		}
		if len(docs) == 0 {
			return toolText(id, "No documents found.")
		}
		return toolJSON(ctx, id, docs)

	case ToolStats:
		stats, err := h.retriever.Stats(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "collection_stats failed", "error", err)
			return toolError(id, "Error: "+err.Error())
		}
		return toolJSON(ctx, id, stats)

	case ToolBuildIndex:
		if h.builds == nil {
			break
		}
		var args BuildArgs
		if err := unmarshalArgs(params.Arguments, &args); err != nil {
			resp := makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
			return &resp
		}
		buildID, err := h.builds.Start(ctx, args.Rebuild, indexer.TriggerMCP)
		if errors.Is(err, indexer.ErrBuildInProgress) {
			return toolError(id, "An index build is already running.")
		}
		if err != nil {
			slog.ErrorContext(ctx, "build_index failed", "error", err)
			return toolError(id, "Error: "+err.Error())
		}
		return toolText(id, fmt.Sprintf("Index build %s started (rebuild=%t).", buildID, args.Rebuild))
	}

	slog.WarnContext(ctx, "method not found", "method", params.Name)
	resp := makeErrorResponse(id, ErrMethodNotFound, "Method not found: "+params.Name)
	return &resp
}

func unmarshalArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func formatResults(results []retrieval.SearchResult, filter []string) string {
	if len(results) == 0 {
		if len(retrieval.Needles(filter)) > 0 {
			return fmt.Sprintf("No results found in documents matching %q.", strings.Join(filter, ", "))
		}
		return "No results found."
	}

	var b strings.Builder
	for i, res := range results {
		if res.Score != nil {
			fmt.Fprintf(&b, "Result %d (Score: %.2f):\n", i+1, *res.Score)
		} else {
			fmt.Fprintf(&b, "Result %d:\n", i+1)
		}
		fmt.Fprintf(&b, "Source: %s (page %d)\n", res.Source, res.Page)
		fmt.Fprintf(&b, "Content:\n%s\n", res.Text)
		b.WriteString("\n---\n")
	}
	return b.String()
}

func toolText(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: text}},
		},
	}
}

func toolError(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: text}},
			IsError: true,
		},
	}
}

func toolJSON(ctx context.Context, id interface{}, v interface{}) *JSONRPCResponse {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal tool result", "error", err)
		return toolError(id, "Error marshalling results")
	}
	return toolText(id, string(jsonBytes))
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.InfoContext(r.Context(), "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.ProcessRequest(r.Context(), req)
	if resp == nil {
		// Notification, just return OK
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// HandleSSE establishes the SSE connection and manages the session
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeHTTPError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported", middleware.GetCorrelationID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	// Cleanup on disconnect
	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		h.sessionsLock.Unlock()
		close(msgChan)
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	// Construct absolute URL for client compatibility
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	flusher.Flush()
	fmt.Fprintf(w, "event: id\ndata: %s\n\n", html.EscapeString(sessionID))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			// Send keep-alive comment to prevent timeouts
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts POST messages associated with a session
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	slog.Info("mcp message received",
		"method", r.Method,
		"path", r.URL.Path,
		"correlation_id", correlationID,
	)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		slog.Warn("missing sessionId in message request", "correlation_id", correlationID)
		h.writeHTTPError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	msgChan, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()

	if !exists {
		slog.Warn("session not found", "session_id", sessionID, "correlation_id", correlationID)
		h.writeHTTPError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("invalid json in message request", "error", err, "correlation_id", correlationID)
		h.writeHTTPError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// Keep request values (correlation id) but not its cancellation
	bgCtx := context.WithoutCancel(r.Context())

	go func() {
		resp := h.ProcessRequest(bgCtx, req)
		if resp == nil {
			return
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.Error("failed to marshal response", "error", err, "correlation_id", correlationID)
			return
		}

		// The session may have closed meanwhile; holding the read lock keeps
		// its channel open until the send is done.
		h.sessionsLock.RLock()
		defer h.sessionsLock.RUnlock()
		if _, ok := h.sessions[sessionID]; !ok {
			slog.Warn("session closed before response", "session_id", sessionID, "correlation_id", correlationID)
			return
		}

		select {
		case msgChan <- string(respBytes):
		default:
			slog.Warn("session channel full, dropping message", "session_id", sessionID, "correlation_id", correlationID)
		}
	}()
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC errors travel in a 200 response
	w.WriteHeader(http.StatusOK)

	resp := makeErrorResponse(id, code, message)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, status int, code string, message string, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"status": "error",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
