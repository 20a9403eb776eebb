// Package rpcserver implements the JSON-RPC 2.0 surface over
// newline-delimited stdio: initialize, tools/list, tools/call, and
// notifications/progress. Framing uses a bufio.Scanner with a widened
// buffer reading one JSON object per line, every response written back
// the same way.
package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/twistedxcom/termexecd/internal/logging"
	"github.com/twistedxcom/termexecd/internal/termsession"
	"github.com/twistedxcom/termexecd/internal/toolsurface"
)

var rpcLog = logging.ForComponent(logging.CompRPC)

const (
	maxLineInitial = 64 * 1024
	maxLineCap     = 10 * 1024 * 1024

	// progressRateLimit and progressBurst cap how many notifications/
	// progress lines one run() call can emit per second. The engine emits
	// progress only on idle-tick status changes, not per output line;
	// progress is advisory, so dropping excess notifications is
	// safe — the final result never depends on one having been delivered.
	progressRateLimit = 20
	progressBurst     = 5
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolCallError  = -32000
)

// request is the shape of every inbound line.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// response is the shape of every outbound line, whether a reply or a
// notification (ID omitted for notifications).
type response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ContentItem is a tagged-variant result item: either a text block or an
// arbitrary JSON value.
type ContentItem struct {
	Type string      `json:"type"`
	Text string      `json:"text,omitempty"`
	JSON interface{} `json:"json,omitempty"`
}

// toolResult is what tools/call returns.
type toolResult struct {
	Content []ContentItem `json:"content"`
}

// progressNotification is the notifications/progress payload.
type progressNotification struct {
	Tool          string `json:"tool"`
	Current       int    `json:"current,omitempty"`
	Total         int    `json:"total,omitempty"`
	Indeterminate bool   `json:"indeterminate,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Server reads JSON-RPC requests from stdin-shaped framing and dispatches
// tool calls onto a toolsurface.Surface.
type Server struct {
	surface *toolsurface.Surface

	writeMu sync.Mutex
	out     *bufio.Writer
}

// New builds a Server over surface, writing framed responses to w.
func New(surface *toolsurface.Surface, w io.Writer) *Server {
	return &Server{surface: surface, out: bufio.NewWriter(w)}
}

// Serve reads newline-delimited JSON-RPC requests from r until it hits EOF
// or ctx is canceled, dispatching each one. Serve returns nil on a clean
// EOF; a scanner error (e.g. a line longer than maxLineCap) is returned.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, maxLineInitial), maxLineCap)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.handleLine(ctx, append([]byte(nil), line...))
	}
	return scanner.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeError(nil, codeParseError, "parse error", err.Error())
		return
	}
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolsCall(ctx, req)
	default:
		s.writeError(req.ID, codeMethodNotFound, "method not found: "+req.Method, nil)
	}
}

func (s *Server) handleInitialize(req request) {
	s.writeResult(req.ID, map[string]interface{}{
		"protocol": "2.0",
		"server":   map[string]string{"name": "termexecd", "version": serverVersion},
		"capabilities": map[string]bool{
			"tools":     true,
			"sampling":  false,
			"resources": false,
		},
	})
}

func (s *Server) handleToolsList(req request) {
	s.writeResult(req.ID, map[string]interface{}{"tools": toolDescriptors})
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, req request) {
	var p toolCallParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.writeError(req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}

	content, err := s.dispatch(ctx, p.Name, p.Arguments)
	if err != nil {
		s.writeError(req.ID, codeToolCallError, err.Error(), nil)
		return
	}
	s.writeResult(req.ID, toolResult{Content: content})
}

// emitProgress is passed to toolsurface.Run as the session's ProgressFunc;
// it writes a notifications/progress line for every progress event the
// engine emits. One session runs on one actor goroutine, so these arrive
// here already strictly ordered.
func (s *Server) emitProgress(tool string) termsession.ProgressFunc {
	limiter := rate.NewLimiter(rate.Limit(progressRateLimit), progressBurst)
	return func(ev termsession.ProgressEvent) {
		if !limiter.Allow() {
			return
		}
		s.writeNotification("notifications/progress", progressNotification{
			Tool:          tool,
			Current:       ev.Current,
			Total:         ev.Total,
			Indeterminate: ev.Indeterminate,
			Message:       ev.Message,
		})
	}
}

func (s *Server) writeResult(id interface{}, result interface{}) {
	s.writeLine(response{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) writeError(id interface{}, code int, message string, data interface{}) {
	s.writeLine(response{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: message, Data: data}, ID: id})
}

func (s *Server) writeNotification(method string, params interface{}) {
	// Notifications carry jsonrpc, method and params, and no ID; they do
	// not use the response envelope.
	s.writeLine(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

func (s *Server) writeLine(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		rpcLog.Error("marshal_failed", slog.String("error", err.Error()))
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.out.Write(b)
	s.out.WriteByte('\n')
	if err := s.out.Flush(); err != nil {
		rpcLog.Warn("flush_failed", slog.String("error", err.Error()))
	}
}

const serverVersion = "0.1.0"
