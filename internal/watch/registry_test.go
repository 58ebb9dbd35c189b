package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orcabot/container-agent/internal/muxproto"
)

func TestRegistryEmitsChangeOnWrite(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	r := New(dir)
	r.stabilityThreshold = 20 * time.Millisecond

	events := make(chan muxproto.Event, 8)
	if _, err := r.Watch([]string{"*.txt"}, "client-1", func(e muxproto.Event) {
		events <- e
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	time.Sleep(50 * time.Millisecond) // let fsnotify register the directory
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("y"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Event != muxproto.EventFileChange {
			t.Errorf("event = %q, want %q", ev.Event, muxproto.EventFileChange)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestRegistryUnsubscribeRemovesWatcher(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)

	watcherID, err := r.Watch([]string{"*.txt"}, "client-1", func(muxproto.Event) {})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	r.Unsubscribe("client-1")

	r.mu.Lock()
	_, stillPresent := r.watchers[watcherID]
	r.mu.Unlock()
	if stillPresent {
		t.Error("watcher record should be dropped once its last subscriber unsubscribes")
	}
}

func TestRegistryIgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	r.stabilityThreshold = 20 * time.Millisecond

	events := make(chan muxproto.Event, 8)
	if _, err := r.Watch([]string{"*.txt"}, "client-1", func(e muxproto.Event) {
		events <- e
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "ignored.log"), []byte("y"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for non-matching file: %+v", ev)
	case <-time.After(200 * time.Millisecond):
		// expected: no event
	}
}
