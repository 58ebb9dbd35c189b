// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package server is the agent's composition root: it builds every
// subsystem, wires the dual-mode WebSocket endpoint (control on "/",
// proxy bridging on "/proxy/<machineId>/..."), registers the REST
// surface, fans PortScanner events out to every connected control
// client, and owns startup/shutdown sequencing.
//
// Grounded on the teacher's cmd/server/main.go Server/NewServer and
// its Handler() ServeMux wiring.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orcabot/container-agent/internal/authverify"
	"github.com/orcabot/container-agent/internal/debug"
	"github.com/orcabot/container-agent/internal/muxproto"
	"github.com/orcabot/container-agent/internal/mux"
	"github.com/orcabot/container-agent/internal/orchestrator"
	"github.com/orcabot/container-agent/internal/portscan"
	"github.com/orcabot/container-agent/internal/process"
	"github.com/orcabot/container-agent/internal/proxybridge"
	"github.com/orcabot/container-agent/internal/restapi"
	"github.com/orcabot/container-agent/internal/watch"
	"github.com/orcabot/container-agent/internal/workspace"
)

const serverRevision = "server-v1-compose-root"

func init() {
	log.Printf("[server] REVISION: %s loaded", serverRevision)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config configures a Server. Every field has a documented default
// applied by New when left zero.
type Config struct {
	Port            string
	WorkspaceRoot   string
	ScanInterval    time.Duration
	ExcludedPorts   []uint16
	AppHost         string // this agent's own externally reachable host, for preview URLs
	MachineID       string // this agent's own machine identity, for preview URLs and self-pinning
	COEP            string // Cross-Origin-Embedder-Policy value passed to spawned children's environment
	Orchestrator    func() (orchestrator.Client, error)
}

// Server owns every agent subsystem and the HTTP listener that fronts
// them.
type Server struct {
	cfg Config

	workspace *workspace.Workspace
	watch     *watch.Registry
	process   *process.Supervisor
	scanner   *portscan.Scanner
	excluded  *portscan.Exclusions
	orch      *orchestrator.Future
	authV     *authverify.Verifier
	proxy     *proxybridge.Bridge
	rest      *restapi.Server
	memMon    *debug.MemoryMonitor

	httpServer *http.Server

	mu      sync.Mutex
	clients map[string]*mux.Client
}

// New constructs every subsystem but does not bind or start anything;
// call Run to start serving.
func New(cfg Config) (*Server, error) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = "/workspace"
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = portscan.DefaultInterval
	}
	if cfg.COEP == "" {
		cfg.COEP = "require-corp"
	}

	ws, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("server: workspace: %w", err)
	}

	excluded := portscan.NewExclusionsFromEnv(mustParsePort(cfg.Port))
	for _, p := range cfg.ExcludedPorts {
		excluded.AddDefault(p)
	}

	s := &Server{
		cfg:       cfg,
		workspace: ws,
		watch:     watch.New(ws.Root()),
		process:   process.New("", cfg.COEP),
		scanner:   portscan.New(cfg.ScanInterval, excluded),
		excluded:  excluded,
		authV:     authverify.New(),
		clients:   make(map[string]*mux.Client),
	}
	s.memMon = debug.NewMemoryMonitor(debug.DefaultConfig(), s.stats)

	build := cfg.Orchestrator
	if build == nil {
		build = defaultOrchestratorBuilder
	}
	s.orch = orchestrator.NewFuture(build)
	s.proxy = proxybridge.New(s.orch)
	s.rest = restapi.New(s.orch, s.authV)

	s.scanner.OnPortAdded(s.handlePortAdded)
	s.scanner.OnPortRemoved(s.handlePortRemoved)

	return s, nil
}

func mustParsePort(port string) uint16 {
	var n uint16
	fmt.Sscanf(port, "%d", &n)
	return n
}

// Handler builds the agent's top-level http.Handler.
func (s *Server) Handler() http.Handler {
	routes := http.NewServeMux()
	routes.HandleFunc("GET /health", s.handleHealth)
	routes.HandleFunc("GET /{$}", s.handleControlWebSocket)
	routes.HandleFunc("/proxy/", s.proxy.ServeHTTP)
	s.rest.Register(routes)
	return routes
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleControlWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] control upgrade failed: %v", err)
		return
	}

	client, err := mux.NewClient(conn, mux.Deps{
		Workspace:  s.workspace,
		Watch:      s.watch,
		Process:    s.process,
		AuthVerify: s.authV,
	})
	if err != nil {
		log.Printf("[server] failed to create control client: %v", err)
		conn.Close()
		return
	}

	s.mu.Lock()
	s.clients[client.ID()] = client
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID())
		s.mu.Unlock()
	}()

	go client.WritePump()
	client.ReadPump() // blocks until the connection closes
}

// previewURL builds the URL PortScanner's port events carry, per the
// agent's external proxy contract.
func (s *Server) previewURL(port uint16) string {
	return fmt.Sprintf("https://%s/proxy/%s/preview/?port=%d", s.cfg.AppHost, s.cfg.MachineID, port)
}

func (s *Server) handlePortAdded(port uint16) {
	s.broadcast(muxproto.Event{
		Event: muxproto.EventPort,
		Data: map[string]interface{}{
			"port": port,
			"type": "open",
			"url":  s.previewURL(port),
		},
	})
}

func (s *Server) handlePortRemoved(port uint16) {
	s.broadcast(muxproto.Event{
		Event: muxproto.EventPort,
		Data: map[string]interface{}{
			"port": port,
			"type": "close",
			"url":  s.previewURL(port),
		},
	})
}

func (s *Server) broadcast(event muxproto.Event) {
	s.mu.Lock()
	clients := make([]*mux.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Emit(event)
	}
}

// Run binds the HTTP+WS listener and blocks until ctx is cancelled,
// then performs graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.memMon.Start()
	go s.scanner.Run()

	s.httpServer = &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: s.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on :%s", s.cfg.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			s.Shutdown()
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown stops everything: kills tracked child processes, closes
// every watcher, clears the client registry, and stops the HTTP
// listener. Safe to call more than once.
func (s *Server) Shutdown() error {
	log.Println("[server] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(shutdownCtx)
	}

	s.process.Shutdown()
	s.scanner.Stop()

	s.mu.Lock()
	for id := range s.clients {
		s.watch.Unsubscribe(id)
	}
	s.clients = make(map[string]*mux.Client)
	s.mu.Unlock()

	s.memMon.Stop()

	log.Println("[server] stopped")
	return err
}

// DumpGoroutineStacks dumps memory/goroutine diagnostics to stderr.
// Wired to SIGQUIT by cmd/agent.
func (s *Server) DumpGoroutineStacks() {
	s.memMon.DumpGoroutineStacks()
}

// stats feeds internal/debug's periodic diagnostics with this agent's
// own subsystem counts, alongside the Go runtime stats it logs itself.
func (s *Server) stats() debug.Stats {
	s.mu.Lock()
	clientCount := len(s.clients)
	s.mu.Unlock()

	return debug.Stats{
		Processes: s.process.Count(),
		Watchers:  s.watch.Count(),
		Clients:   clientCount,
	}
}

func defaultOrchestratorBuilder() (orchestrator.Client, error) {
	return nil, fmt.Errorf("server: no orchestrator builder configured")
}
