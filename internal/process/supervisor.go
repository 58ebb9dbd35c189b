// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package process owns PTY-backed child processes spawned through the
// external ptyhelper binary, fanning out stdout/stderr chunks and exit
// notifications to every client subscribed to a given pid.
//
// Grounded on the teacher's sandbox/internal/pty.Hub, generalized from
// an in-process creack/pty wrapper to a supervisor that drives the PTY
// out of process, per the external-helper design.
package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/orcabot/container-agent/internal/muxproto"
)

const supervisorRevision = "process-supervisor-v1-external-helper"

func init() {
	log.Printf("[process] REVISION: %s loaded", supervisorRevision)
}

// Sender delivers an event to one subscribed client.
type Sender func(event muxproto.Event)

// ErrNotFound is returned by Input/Resize/Kill for an unknown pid.
var ErrNotFound = errors.New("process not found")

type record struct {
	pid int
	cmd *exec.Cmd

	stdin   io.WriteCloser
	control io.WriteCloser

	mu          sync.Mutex
	subscribers map[string]Sender // clientID -> sender
}

// Supervisor tracks every live child process spawned on behalf of
// control-channel clients.
type Supervisor struct {
	helperPath string
	coep       string

	mu             sync.Mutex
	processes      map[int]*record         // pid -> record
	processClients map[string]map[int]bool // clientID -> set of pid
}

// New creates a Supervisor. helperPath overrides ptyhelper resolution
// when non-empty (primarily for tests); pass "" in production to use
// the standard resolution order. coep is the value every spawned
// child's COEP environment variable is set to.
func New(helperPath, coep string) *Supervisor {
	if helperPath == "" {
		helperPath = resolveHelperPath()
	}
	return &Supervisor{
		helperPath:     helperPath,
		coep:           coep,
		processes:      make(map[int]*record),
		processClients: make(map[string]map[int]bool),
	}
}

// resolveHelperPath tries the container-install location first, then
// falls back to a path relative to the agent's own executable
// directory, matching the PTY helper's documented resolution order.
func resolveHelperPath() string {
	const installed = "/usr/local/bin/orcabot-ptyhelper"
	if _, err := os.Stat(installed); err == nil {
		return installed
	}
	if exe, err := os.Executable(); err == nil {
		fallback := filepath.Join(filepath.Dir(exe), "ptyhelper")
		if _, err := os.Stat(fallback); err == nil {
			return fallback
		}
	}
	return installed
}

// Spawn launches command via the ptyhelper binary and returns the
// helper's OS pid. clientID becomes the process's first (and initial
// sole) subscriber.
func (s *Supervisor) Spawn(command string, args []string, cols, rows uint16, clientID string, send Sender) (int, error) {
	if command == "" {
		return 0, errors.New("command is required")
	}

	controlRead, controlWrite, err := os.Pipe()
	if err != nil {
		return 0, err
	}

	helperArgs := append([]string{
		fmt.Sprintf("--cols=%d", cols),
		fmt.Sprintf("--rows=%d", rows),
		"--",
		command,
	}, args...)

	cmd := exec.Command(s.helperPath, helperArgs...)
	cmd.ExtraFiles = []*os.File{controlRead}
	cmd.Env = append(os.Environ(), "COEP="+s.coep)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		controlRead.Close()
		controlWrite.Close()
		return 0, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		controlRead.Close()
		controlWrite.Close()
		return 0, err
	}
	cmd.Stderr = nil // the PTY merges stderr into stdout; see ptyhelper

	if err := cmd.Start(); err != nil {
		controlRead.Close()
		controlWrite.Close()
		return 0, err
	}
	controlRead.Close() // the helper owns the read end now

	rec := &record{
		pid:         cmd.Process.Pid,
		cmd:         cmd,
		stdin:       stdin,
		control:     controlWrite,
		subscribers: map[string]Sender{clientID: send},
	}

	s.mu.Lock()
	s.processes[rec.pid] = rec
	if s.processClients[clientID] == nil {
		s.processClients[clientID] = make(map[int]bool)
	}
	s.processClients[clientID][rec.pid] = true
	s.mu.Unlock()

	go s.readLoop(rec, stdout)
	go s.waitLoop(rec)

	return rec.pid, nil
}

func (s *Supervisor) readLoop(rec *record, stdout io.ReadCloser) {
	defer stdout.Close()
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			s.emit(rec, "stdout", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) waitLoop(rec *record) {
	err := rec.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if code < 0 {
				code = 0 // killed by signal, coerced to 0 per the exit contract
			}
		}
	}

	rec.control.Close()
	s.emit(rec, "exit", fmt.Sprintf("%d", code))

	s.mu.Lock()
	delete(s.processes, rec.pid)
	for clientID, pids := range s.processClients {
		delete(pids, rec.pid)
		if len(pids) == 0 {
			delete(s.processClients, clientID)
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) emit(rec *record, stream, data string) {
	event := muxproto.Event{
		Event: muxproto.EventProcess,
		Data: map[string]interface{}{
			"pid":    rec.pid,
			"stream": stream,
			"data":   data,
		},
	}

	rec.mu.Lock()
	senders := make([]Sender, 0, len(rec.subscribers))
	for _, send := range rec.subscribers {
		senders = append(senders, send)
	}
	rec.mu.Unlock()

	for _, send := range senders {
		send(event)
	}
}

// Input writes data verbatim to pid's stdin.
func (s *Supervisor) Input(pid int, data string) error {
	rec, err := s.lookup(pid)
	if err != nil {
		return err
	}
	_, err = io.WriteString(rec.stdin, data)
	return err
}

// Resize sends an out-of-band resize control message to the helper
// over its fd-3 control pipe.
func (s *Supervisor) Resize(pid int, cols, rows uint16) error {
	rec, err := s.lookup(pid)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(map[string]interface{}{
		"type": "resize",
		"cols": cols,
		"rows": rows,
	})
	if err != nil {
		return err
	}
	_, err = rec.control.Write(append(msg, '\n'))
	return err
}

// Kill sends the default termination signal to pid and drops the
// record once the child has actually exited (handled by waitLoop).
func (s *Supervisor) Kill(pid int) error {
	rec, err := s.lookup(pid)
	if err != nil {
		return err
	}
	return rec.cmd.Process.Kill()
}

func (s *Supervisor) lookup(pid int) (*record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.processes[pid]
	if !ok {
		return nil, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	return rec, nil
}

// Count returns the number of currently tracked child processes, for
// diagnostics (see internal/debug).
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processes)
}

// Subscribe adds clientID as a subscriber of an already-running pid's
// output stream (used when a control connection re-attaches to a pid
// it did not spawn).
func (s *Supervisor) Subscribe(pid int, clientID string, send Sender) error {
	rec, err := s.lookup(pid)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	rec.subscribers[clientID] = send
	rec.mu.Unlock()

	s.mu.Lock()
	if s.processClients[clientID] == nil {
		s.processClients[clientID] = make(map[int]bool)
	}
	s.processClients[clientID][pid] = true
	s.mu.Unlock()
	return nil
}

// HandleDisconnect removes clientID from every pid's subscriber set.
// Processes are never killed on disconnect — they outlive the client
// that spawned them.
func (s *Supervisor) HandleDisconnect(clientID string) {
	s.mu.Lock()
	pids := s.processClients[clientID]
	delete(s.processClients, clientID)
	s.mu.Unlock()

	for pid := range pids {
		s.mu.Lock()
		rec, ok := s.processes[pid]
		s.mu.Unlock()
		if !ok {
			continue
		}
		rec.mu.Lock()
		delete(rec.subscribers, clientID)
		rec.mu.Unlock()
	}
}

// Shutdown kills every tracked child process. Used on server shutdown.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.processes))
	for _, rec := range s.processes {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	for _, rec := range recs {
		rec.cmd.Process.Kill()
	}
}
