package process

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/orcabot/container-agent/internal/muxproto"
)

// helperBinaryPath points tests at a pre-built ptyhelper binary. Tests
// that need a live process skip themselves when it isn't available,
// since this package never builds the helper itself.
const helperBinaryPath = "/usr/local/bin/orcabot-ptyhelper"

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	return New(helperBinaryPath, "require-corp")
}

func TestSpawnEchoProducesStdoutThenExit(t *testing.T) {
	if _, err := os.Stat(helperBinaryPath); err != nil {
		t.Skip("ptyhelper binary not present in this environment")
	}

	s := newTestSupervisor(t)
	events := make(chan muxproto.Event, 16)

	pid, err := s.Spawn("echo", []string{"hello"}, 80, 24, "client-1", func(e muxproto.Event) {
		events <- e
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("expected positive pid, got %d", pid)
	}

	var sawHello, sawExit bool
	deadline := time.After(2 * time.Second)
	for !sawExit {
		select {
		case ev := <-events:
			data, _ := ev.Data.(map[string]interface{})
			if stream, _ := data["stream"].(string); stream == "stdout" {
				if s, ok := data["data"].(string); ok && strings.Contains(s, "hello") {
					sawHello = true
				}
			} else if stream == "exit" {
				sawExit = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for echo process to finish")
		}
	}
	if !sawHello {
		t.Error("never observed stdout chunk containing 'hello'")
	}

	if err := s.Kill(pid); err == nil {
		t.Error("expected Kill to fail for a pid that already exited")
	}
}

func TestInputKillUnknownPidReturnsNotFound(t *testing.T) {
	s := New(helperBinaryPath, "require-corp")

	if err := s.Input(99999, "x"); err == nil {
		t.Error("expected Input on unknown pid to fail")
	}
	if err := s.Resize(99999, 80, 24); err == nil {
		t.Error("expected Resize on unknown pid to fail")
	}
	if err := s.Kill(99999); err == nil {
		t.Error("expected Kill on unknown pid to fail")
	}
}
