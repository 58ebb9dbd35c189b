// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package portscan periodically enumerates TCP ports in the listening
// state on localhost and emits added/removed diffs to subscribers.
//
// There is no third-party library in the example corpus for OS-level
// listening-port enumeration; this is an inherently syscall/procfs-level
// concern (see SafePath for the same kind of OS-boundary code with no
// library surface), so it is implemented directly against
// /proc/net/tcp{,6}, the standard way a Linux container introspects its
// own socket table without cgo or root.
package portscan

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const scannerRevision = "portscan-v1-tick-diff"

func init() {
	log.Printf("[portscan] REVISION: %s loaded", scannerRevision)
}

// DefaultInterval is the default tick interval between scans.
const DefaultInterval = 2000 * time.Millisecond

// tcpListenState is the hex state code meaning LISTEN in /proc/net/tcp.
const tcpListenState = "0A"

// Snapshot is the set of ports observed listening in one tick.
type Snapshot map[uint16]struct{}

// Scanner runs a tick-driven collector that diffs listening ports
// between ticks and fans the diff out to subscribers.
type Scanner struct {
	interval time.Duration
	excluded *Exclusions

	mu   sync.Mutex
	prev Snapshot

	addedSubs   []func(port uint16)
	removedSubs []func(port uint16)

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// procPaths allows tests to point the scanner at fixture files
	// instead of the real /proc/net/tcp{,6}.
	procPaths []string
}

// New creates a Scanner with the given tick interval and port
// exclusions. A nil or zero interval uses DefaultInterval.
func New(interval time.Duration, excluded *Exclusions) *Scanner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if excluded == nil {
		excluded = NewExclusions()
	}
	return &Scanner{
		interval:  interval,
		excluded:  excluded,
		prev:      Snapshot{},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		procPaths: []string{"/proc/net/tcp", "/proc/net/tcp6"},
	}
}

// OnPortAdded registers an observer invoked (synchronously, on the
// scanner's tick goroutine) for every newly observed listening port.
func (s *Scanner) OnPortAdded(cb func(port uint16)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addedSubs = append(s.addedSubs, cb)
}

// OnPortRemoved registers an observer invoked for every port that
// stopped listening since the previous tick.
func (s *Scanner) OnPortRemoved(cb func(port uint16)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedSubs = append(s.removedSubs, cb)
}

// Run starts the scan loop. Blocks until Stop is called; intended to
// be run in its own goroutine.
func (s *Scanner) Run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

// Stop halts the scan loop. Idempotent.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

func (s *Scanner) tick() {
	current, err := s.collect()
	if err != nil {
		// Enumeration failures are logged and treated as "unchanged
		// snapshot" — they must never crash the scanner.
		log.Printf("[portscan] collect failed, keeping previous snapshot: %v", err)
		return
	}

	s.mu.Lock()
	prev := s.prev
	s.prev = current
	addedSubs := append([]func(uint16){}, s.addedSubs...)
	removedSubs := append([]func(uint16){}, s.removedSubs...)
	s.mu.Unlock()

	var added, removed []uint16
	for port := range current {
		if _, ok := prev[port]; !ok {
			added = append(added, port)
		}
	}
	for port := range prev {
		if _, ok := current[port]; !ok {
			removed = append(removed, port)
		}
	}

	// Deterministic within a tick: all added before all removed.
	for _, port := range added {
		for _, cb := range addedSubs {
			cb(port)
		}
	}
	for _, port := range removed {
		for _, cb := range removedSubs {
			cb(port)
		}
	}
}

func (s *Scanner) collect() (Snapshot, error) {
	out := Snapshot{}
	for _, path := range s.procPaths {
		if err := s.collectFile(path, out); err != nil {
			if os.IsNotExist(err) {
				continue // e.g. IPv6 disabled
			}
			return nil, err
		}
	}
	for port := range out {
		if s.excluded.IsExcluded(port) {
			delete(out, port)
		}
	}
	return out, nil
}

func (s *Scanner) collectFile(path string, out Snapshot) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header line
			continue
		}
		line := strings.Fields(scanner.Text())
		if len(line) < 4 {
			continue
		}
		if line[3] != tcpListenState {
			continue
		}
		localAddr := line[1] // "ADDR:PORT" hex
		idx := strings.LastIndexByte(localAddr, ':')
		if idx < 0 {
			continue
		}
		portVal, err := strconv.ParseUint(localAddr[idx+1:], 16, 16)
		if err != nil {
			continue
		}
		out[uint16(portVal)] = struct{}{}
	}
	return scanner.Err()
}
