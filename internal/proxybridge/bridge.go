// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package proxybridge implements the agent's reverse-proxy gateway:
// requests to /proxy/<machineId>/... are resolved to an upstream
// agent's IP via the orchestrator and either WebSocket-bridged or
// HTTP-forwarded, depending on the request.
//
// HTTP forwarding is grounded on the teacher's
// egress.EgressProxy.handleHTTP (clone request, strip hop-by-hop
// headers, round-trip through a shared *http.Transport, stream the
// response back). WebSocket bridging dials upstream the way the
// teacher's browser.CDPClient.Connect dials a debugger target.
package proxybridge

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orcabot/container-agent/internal/orchestrator"
)

const bridgeRevision = "proxybridge-v1-ws-http"

func init() {
	log.Printf("[proxybridge] REVISION: %s loaded", bridgeRevision)
}

const (
	defaultPreviewPort = 5174
	agentControlPort   = 3000
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Bridge resolves machine ids to upstream agents and forwards both
// HTTP preview requests and WebSocket sessions to them.
type Bridge struct {
	orchestrator *orchestrator.Future
	transport    *http.Transport
	dialer       *websocket.Dialer
}

// New creates a Bridge backed by orch.
func New(orch *orchestrator.Future) *Bridge {
	return &Bridge{
		orchestrator: orch,
		transport:    &http.Transport{},
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// ServeHTTP handles one /proxy/<machineId>/... request, dispatching
// to either the WebSocket bridge or the HTTP preview forwarder.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	machineID, rest, preview, ok := parseProxyPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	client, err := b.orchestrator.Resolve()
	if err != nil {
		http.Error(w, "orchestrator unavailable", http.StatusInternalServerError)
		return
	}

	ip, err := client.GetMachineIP(machineID)
	if err != nil {
		http.Error(w, "unknown machine", http.StatusNotFound)
		return
	}

	// The preview/<rest> segment always targets an HTTP port; every
	// other path targets the agent's own WebSocket control port and is
	// expected to carry an Upgrade request.
	if preview {
		b.forwardPreview(w, r, ip, rest)
		return
	}

	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}
	b.bridgeWebSocket(w, r, ip, rest)
}

// parseProxyPath splits "/proxy/<machineId>/[preview/]<rest>" into its
// parts. ok is false if the path does not start with /proxy/.
func parseProxyPath(path string) (machineID, rest string, preview bool, ok bool) {
	trimmed := strings.TrimPrefix(path, "/proxy/")
	if trimmed == path {
		return "", "", false, false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	machineID = parts[0]
	if machineID == "" {
		return "", "", false, false
	}
	remainder := ""
	if len(parts) > 1 {
		remainder = parts[1]
	}
	if strings.HasPrefix(remainder, "preview/") {
		return machineID, strings.TrimPrefix(remainder, "preview/"), true, true
	}
	if remainder == "preview" {
		return machineID, "", true, true
	}
	return machineID, remainder, false, true
}

func (b *Bridge) forwardPreview(w http.ResponseWriter, r *http.Request, ip net.IP, rest string) {
	port := defaultPreviewPort
	if raw := r.URL.Query().Get("port"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			port = p
		}
	}

	target := &url.URL{
		Scheme:   "http",
		Host:     fmt.Sprintf("[%s]:%d", ip.String(), port),
		Path:     "/" + rest,
		RawQuery: r.URL.RawQuery,
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, "bad proxy request", http.StatusBadGateway)
		return
	}
	outReq.Header = r.Header.Clone()
	outReq.Header.Del("Proxy-Connection")
	outReq.Header.Del("Proxy-Authorization")

	resp, err := b.transport.RoundTrip(outReq)
	if err != nil {
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (b *Bridge) bridgeWebSocket(w http.ResponseWriter, r *http.Request, ip net.IP, rest string) {
	targetURL := fmt.Sprintf("ws://[%s]:%d/%s", ip.String(), agentControlPort, rest)

	upstream, _, err := b.dialer.Dial(targetURL, nil)
	if err != nil {
		http.Error(w, "failed to reach upstream agent", http.StatusBadGateway)
		return
	}

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		upstream.Close()
		return
	}

	done := make(chan struct{}, 2)
	go pump(client, upstream, done)
	go pump(upstream, client, done)
	<-done
	client.Close()
	upstream.Close()
}

// pump copies frames from src to dst until either side closes or
// errors, preserving message type (binary/text).
func pump(dst, src *websocket.Conn, done chan struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
