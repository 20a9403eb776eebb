package rpcserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/twistedxcom/termexecd/internal/termsession"
	"github.com/twistedxcom/termexecd/internal/toolsurface"
)

func newTestServer(t *testing.T) (*Server, *bytes.Buffer) {
	t.Helper()
	store := termsession.NewStore(termsession.StoreParams{
		GracePeriod: time.Hour,
		SweepEvery:  time.Hour,
	})
	t.Cleanup(store.Close)
	surface := toolsurface.New(store, false, nil)
	out := &bytes.Buffer{}
	return New(surface, out), out
}

// readLines splits out's buffered lines into decoded JSON maps, skipping
// blank trailing lines.
func readLines(t *testing.T, out *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v map[string]interface{}
		if err := json.Unmarshal(line, &v); err != nil {
			t.Fatalf("unmarshal line %q: %v", line, err)
		}
		lines = append(lines, v)
	}
	return lines
}

func TestServeInitialize(t *testing.T) {
	server, out := newTestServer(t)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n")
	if err := server.Serve(context.Background(), in); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	lines := readLines(t, out)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	result, ok := lines[0]["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("response = %+v, missing result", lines[0])
	}
	if result["protocol"] != "2.0" {
		t.Fatalf("protocol = %v, want 2.0", result["protocol"])
	}
}

func TestServeToolsList(t *testing.T) {
	server, out := newTestServer(t)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	if err := server.Serve(context.Background(), in); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	lines := readLines(t, out)
	result := lines[0]["result"].(map[string]interface{})
	tools := result["tools"].([]interface{})
	if len(tools) != 6 {
		t.Fatalf("got %d tools, want 6", len(tools))
	}
}

func TestServeToolsCallRun(t *testing.T) {
	server, out := newTestServer(t)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"terminal.run","arguments":{"command":"echo hi"}}}` + "\n")
	if err := server.Serve(context.Background(), in); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	lines := readLines(t, out)
	var resultLine map[string]interface{}
	for _, l := range lines {
		if _, ok := l["result"]; ok {
			resultLine = l
		}
	}
	if resultLine == nil {
		t.Fatalf("no result line among %+v", lines)
	}
	result := resultLine["result"].(map[string]interface{})
	content := result["content"].([]interface{})
	if len(content) != 1 {
		t.Fatalf("content = %+v, want 1 item", content)
	}
	item := content[0].(map[string]interface{})
	if item["type"] != "json" {
		t.Fatalf("content type = %v, want json", item["type"])
	}
	j := item["json"].(map[string]interface{})
	if j["success"] != true {
		t.Fatalf("run result = %+v, want success", j)
	}
}

func TestServeUnknownMethod(t *testing.T) {
	server, out := newTestServer(t)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"bogus"}` + "\n")
	if err := server.Serve(context.Background(), in); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	lines := readLines(t, out)
	errObj, ok := lines[0]["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("response = %+v, missing error", lines[0])
	}
	if int(errObj["code"].(float64)) != codeMethodNotFound {
		t.Fatalf("error code = %v, want %d", errObj["code"], codeMethodNotFound)
	}
}

func TestServeParseError(t *testing.T) {
	server, out := newTestServer(t)
	in := strings.NewReader("{not json}\n")
	if err := server.Serve(context.Background(), in); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	lines := readLines(t, out)
	errObj := lines[0]["error"].(map[string]interface{})
	if int(errObj["code"].(float64)) != codeParseError {
		t.Fatalf("error code = %v, want %d", errObj["code"], codeParseError)
	}
}

func TestServeToolsCallUnknownSession(t *testing.T) {
	server, out := newTestServer(t)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"terminal.status","arguments":{"sessionId":"missing"}}}` + "\n")
	if err := server.Serve(context.Background(), in); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	lines := readLines(t, out)
	errObj, ok := lines[0]["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("response = %+v, missing error for unknown session", lines[0])
	}
	if int(errObj["code"].(float64)) != codeToolCallError {
		t.Fatalf("error code = %v, want %d", errObj["code"], codeToolCallError)
	}
}
