// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package orchestrator defines the interface the agent's REST surface
// and ProxyBridge consume to create and inspect remote machines — the
// out-of-scope external collaborator named by the spec, grounded on
// the shape of the teacher's sandbox.Launcher interface.
package orchestrator

import "net"

// MachineState mirrors the teacher's sandbox.MachineState, trimmed to
// the states this agent's callers actually branch on.
type MachineState string

const (
	StateCreated   MachineState = "created"
	StateStarting  MachineState = "starting"
	StateStarted   MachineState = "started"
	StateStopped   MachineState = "stopped"
	StateDestroyed MachineState = "destroyed"
	StateUnknown   MachineState = "unknown"
)

// MachineSpec is the input to CreateMachine.
type MachineSpec struct {
	Name     string
	Image    string
	Region   string
	CPUs     int
	MemoryMB int
	Env      map[string]string
}

// Machine is what CreateMachine/GetMachineStatus return.
type Machine struct {
	ID        string
	Name      string
	State     MachineState
	PrivateIP string
	Region    string
}

// Client is the opaque orchestrator collaborator: creating/inspecting
// remote machines and resolving machine id to an IPv6 address for
// ProxyBridge.
type Client interface {
	CreateMachine(spec MachineSpec, userToken string) (machineID string, err error)
	GetMachineStatus(id string) (*Machine, error)
	GetMachineIP(id string) (net.IP, error)
}
