// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package watch implements the agent's filesystem watcher registry:
// glob-expand patterns against the workspace, start one fsnotify
// watcher per registration, debounce write-finish events, and fan out
// logical change/rename events to subscribers.
//
// Grounded on the teacher's sandbox/internal/drivesync/watcher.go,
// generalized from a single fixed mount directory to arbitrary
// glob-selected file sets with per-watcher subscriber fan-out instead
// of a single syncer consumer.
package watch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/orcabot/container-agent/internal/idgen"
	"github.com/orcabot/container-agent/internal/muxproto"
)

const registryRevision = "watch-registry-v1-debounced"

func init() {
	log.Printf("[watch] REVISION: %s loaded", registryRevision)
}

// DefaultStabilityThreshold is how long a file must be quiet before a
// debounced change event fires.
const DefaultStabilityThreshold = 300 * time.Millisecond

// Sender delivers an event to one subscribed client.
type Sender func(event muxproto.Event)

type watcherRecord struct {
	id       string
	fsw      *fsnotify.Watcher
	root     string   // workspace root, for computing relative filenames
	patterns []string // patterns this watcher was registered with

	mu          sync.Mutex
	subscribers map[string]Sender // clientID -> sender

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	stop chan struct{}
}

// Registry owns all active watchers, indexed so that ws<->watcher
// cleanup is a simple map removal on either side (no direct handles,
// no cyclic references — see spec's design notes on indirect keys).
type Registry struct {
	root               string
	stabilityThreshold time.Duration

	mu                sync.Mutex
	watchers          map[string]*watcherRecord   // watcherId -> record
	clientWatchers    map[string]map[string]bool  // clientID -> set of watcherId
}

// New creates a Registry rooted at workspaceRoot.
func New(workspaceRoot string) *Registry {
	return &Registry{
		root:               workspaceRoot,
		stabilityThreshold: DefaultStabilityThreshold,
		watchers:           make(map[string]*watcherRecord),
		clientWatchers:     make(map[string]map[string]bool),
	}
}

// Watch glob-expands patterns against the workspace root into a
// concrete file list, begins watching it, and returns a fresh
// watcherId. Two registrations with identical patterns produce two
// independent watcherIds (no deduping across registrations).
func (r *Registry) Watch(patterns []string, clientID string, send Sender) (string, error) {
	_, dirs, err := r.expand(patterns)
	if err != nil {
		return "", err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return "", err
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return "", err
		}
	}

	watcherID, err := idgen.New()
	if err != nil {
		fsw.Close()
		return "", err
	}

	rec := &watcherRecord{
		id:             watcherID,
		fsw:            fsw,
		root:           r.root,
		patterns:       patterns,
		subscribers:    map[string]Sender{clientID: send},
		debounceTimers: make(map[string]*time.Timer),
		stop:           make(chan struct{}),
	}

	r.mu.Lock()
	r.watchers[watcherID] = rec
	if r.clientWatchers[clientID] == nil {
		r.clientWatchers[clientID] = make(map[string]bool)
	}
	r.clientWatchers[clientID][watcherID] = true
	r.mu.Unlock()

	go r.runWatcher(rec)

	return watcherID, nil
}

// WatchPaths is the watch-paths convenience variant: include is
// treated as a list of persistent watch patterns.
func (r *Registry) WatchPaths(include []string, clientID string, send Sender) (string, error) {
	return r.Watch(include, clientID, send)
}

// Count returns the number of currently active watchers, for
// diagnostics (see internal/debug).
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// Unsubscribe removes clientID from every watcherId it is subscribed
// to. Watchers whose subscriber set becomes empty are closed
// immediately and dropped from the registry.
func (r *Registry) Unsubscribe(clientID string) {
	r.mu.Lock()
	watcherIDs := r.clientWatchers[clientID]
	delete(r.clientWatchers, clientID)
	r.mu.Unlock()

	for watcherID := range watcherIDs {
		r.removeSubscriber(watcherID, clientID)
	}
}

func (r *Registry) removeSubscriber(watcherID, clientID string) {
	r.mu.Lock()
	rec, ok := r.watchers[watcherID]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.mu.Lock()
	delete(rec.subscribers, clientID)
	empty := len(rec.subscribers) == 0
	rec.mu.Unlock()
	if empty {
		delete(r.watchers, watcherID)
	}
	r.mu.Unlock()

	if empty {
		close(rec.stop)
		rec.fsw.Close()
	}
}

// expand glob-expands patterns into the set of matching files and the
// set of directories that must be fsnotify-watched to observe changes
// to those files (each file's containing directory, since fsnotify
// watches directories, not individual files for create detection).
func (r *Registry) expand(patterns []string) (files map[string]bool, dirs map[string]bool, err error) {
	files = make(map[string]bool)
	dirs = make(map[string]bool)

	err = filepath.WalkDir(r.root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(r.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, p := range patterns {
			if matchPattern(p, rel) {
				files[rel] = true
				dirs[filepath.Dir(path)] = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	// Always watch the root itself too, so new files matching the
	// pattern after registration are observed even if no match exists
	// yet at registration time.
	dirs[r.root] = true
	return files, dirs, nil
}

func (r *Registry) runWatcher(rec *watcherRecord) {
	for {
		select {
		case <-rec.stop:
			rec.debounceMu.Lock()
			for _, t := range rec.debounceTimers {
				t.Stop()
			}
			rec.debounceMu.Unlock()
			return

		case ev, ok := <-rec.fsw.Events:
			if !ok {
				return
			}
			r.handleFSEvent(rec, ev)

		case err, ok := <-rec.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[watch] watcher %s error: %v", rec.id, err)
		}
	}
}

func (r *Registry) handleFSEvent(rec *watcherRecord, ev fsnotify.Event) {
	rel, err := filepath.Rel(rec.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	if !r.matches(rec, rel) {
		return
	}

	// New directories matching the watch scope must be watched too, so
	// files later created inside them are observed.
	if ev.Has(fsnotify.Create) {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			rec.fsw.Add(ev.Name)
			return
		}
	}

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		rec.cancelDebounce(rel)
		r.emit(rec, "rename", rel)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		rec.debounce(rel, r.stabilityThreshold, func() {
			r.emit(rec, "change", rel)
		})
	default:
		r.emit(rec, "change", rel)
	}
}

func (r *Registry) matches(rec *watcherRecord, rel string) bool {
	for _, p := range rec.patterns {
		if matchPattern(p, rel) {
			return true
		}
	}
	return false
}

func (r *Registry) emit(rec *watcherRecord, kind, filename string) {
	eventID, err := idgen.New()
	if err != nil {
		eventID = fmt.Sprintf("evt-%s", rec.id)
	}
	event := muxproto.Event{
		ID:    eventID,
		Event: eventKind(kind),
		Data: map[string]string{
			"watcherId": rec.id,
			"filename":  filename,
			"type":      kind,
		},
	}

	rec.mu.Lock()
	senders := make([]Sender, 0, len(rec.subscribers))
	for _, s := range rec.subscribers {
		senders = append(senders, s)
	}
	rec.mu.Unlock()

	for _, send := range senders {
		send(event)
	}
}

func eventKind(kind string) string {
	if kind == "rename" {
		return muxproto.EventFileRename
	}
	return muxproto.EventFileChange
}

func (rec *watcherRecord) debounce(key string, wait time.Duration, fn func()) {
	rec.debounceMu.Lock()
	defer rec.debounceMu.Unlock()
	if t, ok := rec.debounceTimers[key]; ok {
		t.Stop()
	}
	rec.debounceTimers[key] = time.AfterFunc(wait, func() {
		rec.debounceMu.Lock()
		delete(rec.debounceTimers, key)
		rec.debounceMu.Unlock()
		fn()
	})
}

func (rec *watcherRecord) cancelDebounce(key string) {
	rec.debounceMu.Lock()
	defer rec.debounceMu.Unlock()
	if t, ok := rec.debounceTimers[key]; ok {
		t.Stop()
		delete(rec.debounceTimers, key)
	}
}
