package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orcabot/container-agent/internal/mockorchestrator"
	"github.com/orcabot/container-agent/internal/muxproto"
	"github.com/orcabot/container-agent/internal/orchestrator"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("AUTH_SERVER_URL", "http://127.0.0.1:0")

	s, err := New(Config{
		WorkspaceRoot: t.TempDir(),
		AppHost:       "agent.example.com",
		MachineID:     "m-test",
		Orchestrator:  func() (orchestrator.Client, error) { return mockorchestrator.New(), nil },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestControlWebSocketWriteFileRoundTrip(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := muxproto.Request{
		ID: "req-1",
		Operation: muxproto.Operation{
			Type:       "writeFile",
			Path:       "hello.txt",
			Content:    "hi there",
			HasContent: true,
		},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var resp muxproto.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != "req-1" || !resp.Success {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPreviewURLFormat(t *testing.T) {
	s := newTestServer(t)
	got := s.previewURL(8123)
	want := "https://agent.example.com/proxy/m-test/preview/?port=8123"
	if got != want {
		t.Errorf("previewURL = %q, want %q", got, want)
	}
}
