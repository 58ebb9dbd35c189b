package mux

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/orcabot/container-agent/internal/authverify"
	"github.com/orcabot/container-agent/internal/muxproto"
	"github.com/orcabot/container-agent/internal/process"
	"github.com/orcabot/container-agent/internal/watch"
	"github.com/orcabot/container-agent/internal/workspace"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	return &Client{
		id: "test-client",
		deps: Deps{
			Workspace:  ws,
			Watch:      watch.New(ws.Root()),
			Process:    nil, // deliberately unset: exercised by the panic-recovery test
			AuthVerify: authverify.New(),
		},
	}
}

func TestHandleUnknownOperationReturnsInvalidOperation(t *testing.T) {
	c := newTestClient(t)
	resp := c.handle("req-1", muxproto.Operation{Type: "not-a-real-operation"})

	if resp.Success {
		t.Fatal("expected failure for unknown operation type")
	}
	if resp.Error.Code != muxproto.CodeInvalidOperation {
		t.Errorf("code = %q, want %q", resp.Error.Code, muxproto.CodeInvalidOperation)
	}
	if resp.ID != "req-1" {
		t.Errorf("response id = %q, want req-1", resp.ID)
	}
}

func TestHandlePanicIsRecoveredAsInternalError(t *testing.T) {
	c := newTestClient(t) // deps.Process is nil

	resp := c.handle("req-2", muxproto.Operation{Type: "input", Pid: 1, Data: "x"})

	if resp.Success {
		t.Fatal("expected failure when the handler panics")
	}
	if resp.Error.Code != muxproto.CodeInternalError {
		t.Errorf("code = %q, want %q", resp.Error.Code, muxproto.CodeInternalError)
	}
	if resp.ID != "req-2" {
		t.Errorf("response id = %q, want req-2", resp.ID)
	}
}

func TestHandleWriteFileRequiresContentField(t *testing.T) {
	c := newTestClient(t)

	resp := c.handle("req-3", muxproto.Operation{Type: "writeFile", Path: "missing-content.txt"})
	if resp.Success {
		t.Fatal("expected writeFile without a content field to fail")
	}
}

func TestHandleWriteThenReadFileRoundTrips(t *testing.T) {
	c := newTestClient(t)

	writeResp := c.handle("req-4", muxproto.Operation{
		Type:       "writeFile",
		Path:       "greeting.txt",
		Content:    "hello there",
		HasContent: true,
	})
	if !writeResp.Success {
		t.Fatalf("writeFile failed: %+v", writeResp.Error)
	}

	readResp := c.handle("req-5", muxproto.Operation{Type: "readFile", Path: "greeting.txt"})
	if !readResp.Success {
		t.Fatalf("readFile failed: %+v", readResp.Error)
	}
	data, ok := readResp.Data.(map[string]string)
	if !ok {
		t.Fatalf("unexpected data shape: %#v", readResp.Data)
	}
	if data["content"] != "hello there" {
		t.Errorf("content = %q, want %q", data["content"], "hello there")
	}
}

func TestHandleAuthRejectsEmptyToken(t *testing.T) {
	c := newTestClient(t)

	resp := c.handle("req-6", muxproto.Operation{Type: "auth"})
	if resp.Success {
		t.Fatal("expected auth without a token to fail")
	}
	if resp.Error.Code != muxproto.CodeAuthError {
		t.Errorf("code = %q, want %q", resp.Error.Code, muxproto.CodeAuthError)
	}
	if c.isAuthed() {
		t.Error("client should not be marked authed after a rejected auth attempt")
	}
}

// TestConcurrentOperationsCorrelateByRequestID exercises the scenario
// that responses to concurrently-dispatched operations need not come
// back in request order, but each must still carry back the id of the
// request that produced it.
func TestConcurrentOperationsCorrelateByRequestID(t *testing.T) {
	c := newTestClient(t)

	const n = 20
	for i := 0; i < n; i++ {
		content := fmt.Sprintf("file-%d-body", i)
		resp := c.handle(fmt.Sprintf("seed-%d", i), muxproto.Operation{
			Type:       "writeFile",
			Path:       fmt.Sprintf("file-%d.txt", i),
			Content:    content,
			HasContent: true,
		})
		if !resp.Success {
			t.Fatalf("seed write %d failed: %+v", i, resp.Error)
		}
	}

	var wg sync.WaitGroup
	responses := make([]muxproto.Response, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reqID := fmt.Sprintf("read-%d", i)
			op := muxproto.Operation{Type: "readFile", Path: fmt.Sprintf("file-%d.txt", i)}
			responses[i] = c.handle(reqID, op)
		}(i)
	}
	wg.Wait()

	for i, resp := range responses {
		wantID := fmt.Sprintf("read-%d", i)
		if resp.ID != wantID {
			t.Errorf("responses[%d].ID = %q, want %q", i, resp.ID, wantID)
		}
		if !resp.Success {
			t.Errorf("responses[%d] failed: %+v", i, resp.Error)
			continue
		}
		data, ok := resp.Data.(map[string]string)
		if !ok {
			t.Errorf("responses[%d]: unexpected data shape %#v", i, resp.Data)
			continue
		}
		want := fmt.Sprintf("file-%d-body", i)
		if data["content"] != want {
			t.Errorf("responses[%d].content = %q, want %q", i, data["content"], want)
		}
	}
}

func TestHandleSpawnRequiresCommand(t *testing.T) {
	c := newTestClient(t)

	resp := c.handle("req-7", muxproto.Operation{Type: "spawn"})
	if resp.Success {
		t.Fatal("expected spawn without a command to fail")
	}
	if resp.Error.Code != muxproto.CodeProcessFailed {
		t.Errorf("code = %q, want %q", resp.Error.Code, muxproto.CodeProcessFailed)
	}
}

func TestHandleWatchRequiresPatterns(t *testing.T) {
	c := newTestClient(t)

	resp := c.handle("req-8", muxproto.Operation{Type: "watch"})
	if resp.Success {
		t.Fatal("expected watch without patterns to fail")
	}
	if resp.Error.Code != muxproto.CodeWatchFailed {
		t.Errorf("code = %q, want %q", resp.Error.Code, muxproto.CodeWatchFailed)
	}
}

func TestProcessNotFoundOrErrUsesFixedMessageOnlyForErrNotFound(t *testing.T) {
	resp := processNotFoundOrErr("req-9", 42, fmt.Errorf("wrapped: %w", process.ErrNotFound))
	if resp.Error.Message != "Process 42 not found" {
		t.Errorf("message = %q, want %q", resp.Error.Message, "Process 42 not found")
	}
}

func TestProcessNotFoundOrErrPropagatesOtherErrors(t *testing.T) {
	underlying := errors.New("os: process already finished")
	resp := processNotFoundOrErr("req-10", 42, underlying)
	if resp.Error.Message != underlying.Error() {
		t.Errorf("message = %q, want the underlying error verbatim %q", resp.Error.Message, underlying.Error())
	}
	if resp.Error.Message == "Process 42 not found" {
		t.Error("a non-ErrNotFound failure must not be misreported as \"not found\"")
	}
}
