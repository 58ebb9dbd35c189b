// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package flyorchestrator implements orchestrator.Client against the
// Fly Machines API, grounded line-for-line in approach on the
// teacher's sandbox/internal/sandbox/fly.go FlyLauncher.
package flyorchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/orcabot/container-agent/internal/orchestrator"
)

const defaultFlyAPIURL = "https://api.machines.dev"

// ErrMachineNotFound is returned when the Fly API reports no such
// machine.
var ErrMachineNotFound = errors.New("machine not found")

// ErrAPIError wraps a non-2xx Fly API response.
var ErrAPIError = errors.New("fly api error")

// Client implements orchestrator.Client against the real Fly Machines
// API.
type Client struct {
	appName string
	token   string
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the Fly API base URL, for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the HTTP client used for Fly API calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.client = httpClient }
}

// New creates a Client from the FLY_API_TOKEN/FLY_APP_NAME environment
// variables documented in the agent's external interfaces.
func New(opts ...Option) (*Client, error) {
	appName := os.Getenv("FLY_APP_NAME")
	token := os.Getenv("FLY_API_TOKEN")
	if appName == "" || token == "" {
		return nil, fmt.Errorf("flyorchestrator: FLY_APP_NAME and FLY_API_TOKEN must both be set")
	}

	c := &Client{
		appName: appName,
		token:   token,
		baseURL: defaultFlyAPIURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type flyMachineConfig struct {
	Image string            `json:"image"`
	Env   map[string]string `json:"env,omitempty"`
	Guest flyGuestConfig    `json:"guest"`
}

type flyGuestConfig struct {
	CPUs     int `json:"cpus"`
	MemoryMB int `json:"memory_mb"`
}

type flyCreateRequest struct {
	Name   string           `json:"name,omitempty"`
	Region string           `json:"region"`
	Config flyMachineConfig `json:"config"`
}

type flyMachineResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Region    string `json:"region"`
	PrivateIP string `json:"private_ip"`
}

// CreateMachine creates a new Fly machine from spec and returns its
// id. userToken is not forwarded to Fly — it authenticates the caller
// against this agent's own REST surface, not against Fly.
func (c *Client) CreateMachine(spec orchestrator.MachineSpec, userToken string) (string, error) {
	image := spec.Image
	if image == "" {
		image = os.Getenv("FLY_IMAGE_REF")
	}

	req := flyCreateRequest{
		Name:   spec.Name,
		Region: spec.Region,
		Config: flyMachineConfig{
			Image: image,
			Env:   spec.Env,
			Guest: flyGuestConfig{CPUs: spec.CPUs, MemoryMB: spec.MemoryMB},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/apps/%s/machines", c.baseURL, c.appName)
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}

	var flyResp flyMachineResponse
	if err := json.NewDecoder(resp.Body).Decode(&flyResp); err != nil {
		return "", err
	}
	return flyResp.ID, nil
}

// GetMachineStatus fetches a machine's current status from Fly.
func (c *Client) GetMachineStatus(id string) (*orchestrator.Machine, error) {
	url := fmt.Sprintf("%s/v1/apps/%s/machines/%s", c.baseURL, c.appName, id)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrMachineNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}

	var flyResp flyMachineResponse
	if err := json.NewDecoder(resp.Body).Decode(&flyResp); err != nil {
		return nil, err
	}

	return &orchestrator.Machine{
		ID:        flyResp.ID,
		Name:      flyResp.Name,
		State:     toState(flyResp.State),
		PrivateIP: flyResp.PrivateIP,
		Region:    flyResp.Region,
	}, nil
}

// GetMachineIP resolves id to its Fly 6PN private IPv6 address.
func (c *Client) GetMachineIP(id string) (net.IP, error) {
	machine, err := c.GetMachineStatus(id)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(machine.PrivateIP)
	if ip == nil {
		return nil, fmt.Errorf("flyorchestrator: machine %s has no usable private IP", id)
	}
	return ip, nil
}

func toState(state string) orchestrator.MachineState {
	switch state {
	case "created":
		return orchestrator.StateCreated
	case "starting":
		return orchestrator.StateStarting
	case "started":
		return orchestrator.StateStarted
	case "stopped":
		return orchestrator.StateStopped
	case "destroyed":
		return orchestrator.StateDestroyed
	default:
		return orchestrator.StateUnknown
	}
}

var _ orchestrator.Client = (*Client)(nil)
