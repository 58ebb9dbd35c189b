// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package mux is the per-connection request multiplexer for the
// control WebSocket: it demultiplexes {id, operation} frames, routes
// each to the filesystem/process/watch/auth handler named by
// operation.type, and writes back {id, success, data|error} replies
// on the same socket, out of request order.
//
// Grounded on the teacher's apps/sandbox/internal/ws.Client
// ReadPump/WritePump pair, generalized from a fixed PTY-input/control
// split into a full operation-type dispatcher.
package mux

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orcabot/container-agent/internal/authverify"
	"github.com/orcabot/container-agent/internal/idgen"
	"github.com/orcabot/container-agent/internal/muxproto"
	"github.com/orcabot/container-agent/internal/process"
	"github.com/orcabot/container-agent/internal/watch"
	"github.com/orcabot/container-agent/internal/workspace"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Deps bundles the subsystems a Client dispatches operations into.
type Deps struct {
	Workspace  *workspace.Workspace
	Watch      *watch.Registry
	Process    *process.Supervisor
	AuthVerify *authverify.Verifier
}

// Client is one control-mode WebSocket connection: a wsId, its
// outbound frame queue, and whatever auth token it has presented.
type Client struct {
	id   string
	conn *websocket.Conn
	deps Deps

	send chan []byte

	mu        sync.RWMutex
	authToken string
}

// NewClient upgrades conn into a tracked control client with a fresh
// wsId.
func NewClient(conn *websocket.Conn, deps Deps) (*Client, error) {
	id, err := idgen.New()
	if err != nil {
		return nil, err
	}
	return &Client{
		id:   id,
		conn: conn,
		deps: deps,
		send: make(chan []byte, 256),
	}, nil
}

// ID returns this connection's wsId.
func (c *Client) ID() string { return c.id }

// Emit enqueues an unsolicited event for delivery on this socket. It
// never blocks indefinitely: a full queue drops the event rather than
// stalling the sender, matching the "individual send failures must
// not abort the broadcast" rule.
func (c *Client) Emit(event muxproto.Event) {
	if event.ID == "" {
		if id, err := idgen.New(); err == nil {
			event.ID = id
		}
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[mux] %s: failed to marshal event: %v", c.id, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[mux] %s: send queue full, dropping event %q", c.id, event.Event)
	}
}

// ReadPump reads and dispatches inbound operation frames until the
// connection closes. Runs on its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		close(c.send)
		c.conn.Close()
		c.deps.Watch.Unsubscribe(c.id)
		c.deps.Process.HandleDisconnect(c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[mux] %s: read error: %v", c.id, err)
			}
			return
		}

		var req muxproto.Request
		if err := json.Unmarshal(data, &req); err != nil {
			// No id is available to correlate a response to; per the
			// error-handling policy this frame is logged and dropped.
			log.Printf("[mux] %s: malformed envelope: %v", c.id, err)
			continue
		}

		go c.dispatch(req)
	}
}

// dispatch runs one operation and writes its response. Operations run
// concurrently with each other; there is no ordering guarantee between
// responses and no transactional coupling between them.
func (c *Client) dispatch(req muxproto.Request) {
	resp := c.handle(req.ID, req.Operation)
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[mux] %s: failed to marshal response: %v", c.id, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[mux] %s: send queue full, dropping response for %q", c.id, req.ID)
	}
}

// WritePump drains the outbound frame queue to the socket, sending
// periodic pings to keep intermediaries from timing out the
// connection. Runs on its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) isAuthed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken != ""
}

func (c *Client) setAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}
