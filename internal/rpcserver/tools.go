package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twistedxcom/termexecd/internal/toolsurface"
)

// toolDescriptor matches tools/list's {name, description, inputSchema}
// shape.
type toolDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

func schema(properties map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var toolDescriptors = []toolDescriptor{
	{
		Name:        "terminal.run",
		Description: "Spawn a shell command and block until it completes or errors, streaming progress.",
		InputSchema: schema(map[string]interface{}{
			"command":        map[string]string{"type": "string"},
			"cwd":             map[string]string{"type": "string"},
			"shell":           map[string]string{"type": "string"},
			"env":             map[string]interface{}{"type": "object"},
			"timeoutMs":       map[string]string{"type": "integer"},
			"quietMs":         map[string]string{"type": "integer"},
			"waitingMs":       map[string]string{"type": "integer"},
			"stuckMs":         map[string]string{"type": "integer"},
			"maxBufferBytes":  map[string]string{"type": "integer"},
		}, "command"),
	},
	{
		Name:        "terminal.status",
		Description: "Return a session's current status and the tail of its output buffer.",
		InputSchema: schema(map[string]interface{}{
			"sessionId": map[string]string{"type": "string"},
			"tail":      map[string]string{"type": "integer"},
		}, "sessionId"),
	},
	{
		Name:        "terminal.write",
		Description: "Write raw bytes to a live session's adapter.",
		InputSchema: schema(map[string]interface{}{
			"sessionId": map[string]string{"type": "string"},
			"data":      map[string]string{"type": "string"},
		}, "sessionId", "data"),
	},
	{
		Name:        "terminal.signal",
		Description: "Send SIGINT, SIGTERM, KILL, or the synthetic CTRL_C to a session's adapter.",
		InputSchema: schema(map[string]interface{}{
			"sessionId": map[string]string{"type": "string"},
			"signal":    map[string]string{"type": "string"},
		}, "sessionId"),
	},
	{
		Name:        "terminal.list",
		Description: "List every session currently tracked by the store.",
		InputSchema: schema(map[string]interface{}{}),
	},
	{
		Name:        "terminal.attach",
		Description: "Return a session's full output buffer and status as a point-in-time snapshot.",
		InputSchema: schema(map[string]interface{}{
			"sessionId": map[string]string{"type": "string"},
		}, "sessionId"),
	},
}

// dispatch decodes arguments for name and invokes the matching Surface
// operation, returning its result as a content[] sequence.
func (s *Server) dispatch(ctx context.Context, name string, args json.RawMessage) ([]ContentItem, error) {
	switch name {
	case "terminal.run":
		return s.dispatchRun(ctx, args)
	case "terminal.status":
		return s.dispatchStatus(args)
	case "terminal.write":
		return s.dispatchWrite(args)
	case "terminal.signal":
		return s.dispatchSignal(args)
	case "terminal.list":
		return s.dispatchList()
	case "terminal.attach":
		return s.dispatchAttach(args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

type runArgs struct {
	Command        string            `json:"command"`
	Cwd            string            `json:"cwd"`
	Shell          string            `json:"shell"`
	Env            map[string]string `json:"env"`
	TimeoutMs      int               `json:"timeoutMs"`
	QuietMs        int               `json:"quietMs"`
	WaitingMs      int               `json:"waitingMs"`
	StuckMs        int               `json:"stuckMs"`
	MaxBufferBytes int               `json:"maxBufferBytes"`
}

func (s *Server) dispatchRun(ctx context.Context, raw json.RawMessage) ([]ContentItem, error) {
	var a runArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("terminal.run: %w", err)
	}
	result, err := s.surface.Run(ctx, toolsurface.RunParams{
		Command:        a.Command,
		Cwd:            a.Cwd,
		Shell:          a.Shell,
		Env:            a.Env,
		TimeoutMs:      a.TimeoutMs,
		QuietMs:        a.QuietMs,
		WaitingMs:      a.WaitingMs,
		StuckMs:        a.StuckMs,
		MaxBufferBytes: a.MaxBufferBytes,
	}, s.emitProgress("terminal.run"))
	if err != nil {
		return nil, err
	}
	return jsonContent(result), nil
}

type sessionIDArgs struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) dispatchStatus(raw json.RawMessage) ([]ContentItem, error) {
	var a struct {
		sessionIDArgs
		Tail int `json:"tail"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("terminal.status: %w", err)
	}
	result, err := s.surface.Status(a.SessionID, a.Tail)
	if err != nil {
		return nil, err
	}
	return jsonContent(result), nil
}

func (s *Server) dispatchWrite(raw json.RawMessage) ([]ContentItem, error) {
	var a struct {
		sessionIDArgs
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("terminal.write: %w", err)
	}
	if err := s.surface.Write(a.SessionID, []byte(a.Data)); err != nil {
		return nil, err
	}
	return jsonContent(map[string]bool{"ok": true}), nil
}

func (s *Server) dispatchSignal(raw json.RawMessage) ([]ContentItem, error) {
	var a struct {
		sessionIDArgs
		Signal string `json:"signal"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("terminal.signal: %w", err)
	}
	if err := s.surface.Signal(a.SessionID, a.Signal); err != nil {
		return nil, err
	}
	return jsonContent(map[string]bool{"ok": true}), nil
}

func (s *Server) dispatchList() ([]ContentItem, error) {
	return jsonContent(s.surface.List()), nil
}

func (s *Server) dispatchAttach(raw json.RawMessage) ([]ContentItem, error) {
	var a sessionIDArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("terminal.attach: %w", err)
	}
	result, err := s.surface.Attach(a.SessionID)
	if err != nil {
		return nil, err
	}
	return jsonContent(result), nil
}

// jsonContent wraps v as a single-element content[] sequence: a Json
// variant carrying the structured result.
func jsonContent(v interface{}) []ContentItem {
	return []ContentItem{{Type: "json", JSON: v}}
}
