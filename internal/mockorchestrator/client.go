// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package mockorchestrator implements orchestrator.Client in memory,
// grounded on the teacher's sandbox/internal/sandbox/mock.go
// MockLauncher, for tests and local development without a real Fly
// account.
package mockorchestrator

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/orcabot/container-agent/internal/orchestrator"
)

// ErrMachineNotFound mirrors the Fly client's not-found error so
// callers can branch on it regardless of which implementation is
// wired in.
var ErrMachineNotFound = errors.New("machine not found")

// Client is an in-memory orchestrator.Client.
type Client struct {
	mu       sync.RWMutex
	machines map[string]*orchestrator.Machine

	// FailCreate causes CreateMachine to fail, for tests.
	FailCreate bool
}

// New creates an empty mock Client.
func New() *Client {
	return &Client{machines: make(map[string]*orchestrator.Machine)}
}

// CreateMachine allocates a fake machine with a fresh id and private
// IP in the documentation range.
func (c *Client) CreateMachine(spec orchestrator.MachineSpec, userToken string) (string, error) {
	if c.FailCreate {
		return "", fmt.Errorf("mockorchestrator: create failed")
	}

	id := uuid.New().String()
	suffix := uuid.New()

	machine := &orchestrator.Machine{
		ID:        id,
		Name:      spec.Name,
		State:     orchestrator.StateStarted,
		PrivateIP: fmt.Sprintf("fdaa::%x", suffix[:2]),
		Region:    spec.Region,
	}

	c.mu.Lock()
	c.machines[id] = machine
	c.mu.Unlock()

	return id, nil
}

// GetMachineStatus returns the recorded state of a mock machine.
func (c *Client) GetMachineStatus(id string) (*orchestrator.Machine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	machine, ok := c.machines[id]
	if !ok {
		return nil, ErrMachineNotFound
	}
	return machine, nil
}

// GetMachineIP resolves id to its mock private IP.
func (c *Client) GetMachineIP(id string) (net.IP, error) {
	machine, err := c.GetMachineStatus(id)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(machine.PrivateIP)
	if ip == nil {
		return nil, fmt.Errorf("mockorchestrator: machine %s has no usable IP", id)
	}
	return ip, nil
}

// SetState overwrites a machine's state directly, a test helper
// mirroring the teacher's MockLauncher.SetState.
func (c *Client) SetState(id string, state orchestrator.MachineState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if machine, ok := c.machines[id]; ok {
		machine.State = state
	}
}

var _ orchestrator.Client = (*Client)(nil)
