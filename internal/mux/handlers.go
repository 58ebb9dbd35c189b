// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package mux

import (
	"errors"
	"fmt"

	"github.com/orcabot/container-agent/internal/muxproto"
	"github.com/orcabot/container-agent/internal/process"
	"github.com/orcabot/container-agent/internal/workspace"
)

// handle dispatches one operation by its type tag and builds the
// response envelope. A handler panic is recovered and surfaced as
// INTERNAL_ERROR rather than crashing the connection.
func (c *Client) handle(id string, op muxproto.Operation) (resp muxproto.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = muxproto.Fail(id, muxproto.CodeInternalError, fmt.Sprintf("panic: %v", r))
		}
	}()

	switch op.Type {
	case "readFile":
		return c.handleReadFile(id, op)
	case "writeFile":
		return c.handleWriteFile(id, op)
	case "rm":
		return c.handleRm(id, op)
	case "readdir":
		return c.handleReaddir(id, op)
	case "mkdir":
		return c.handleMkdir(id, op)
	case "stat":
		return c.handleStat(id, op)
	case "mount":
		return c.handleMount(id, op)

	case "spawn":
		return c.handleSpawn(id, op)
	case "input":
		return c.handleInput(id, op)
	case "kill":
		return c.handleKill(id, op)
	case "resize":
		return c.handleResize(id, op)

	case "watch":
		return c.handleWatch(id, op)
	case "watch-paths":
		return c.handleWatchPaths(id, op)

	case "auth":
		return c.handleAuth(id, op)

	default:
		return muxproto.Fail(id, muxproto.CodeInvalidOperation, fmt.Sprintf("unknown operation type %q", op.Type))
	}
}

func fsFail(id string, err error) muxproto.Response {
	return muxproto.Fail(id, muxproto.CodeFSFailed, err.Error())
}

func (c *Client) handleReadFile(id string, op muxproto.Operation) muxproto.Response {
	content, err := c.deps.Workspace.ReadFile(op.Path)
	if err != nil {
		return fsFail(id, err)
	}
	return muxproto.OK(id, map[string]string{"content": string(content)})
}

func (c *Client) handleWriteFile(id string, op muxproto.Operation) muxproto.Response {
	if !op.HasContent {
		return muxproto.Fail(id, muxproto.CodeFSFailed, "writeFile requires content")
	}
	if err := c.deps.Workspace.WriteFile(op.Path, []byte(op.Content)); err != nil {
		return fsFail(id, err)
	}
	return muxproto.OK(id, nil)
}

func (c *Client) handleRm(id string, op muxproto.Operation) muxproto.Response {
	if err := c.deps.Workspace.Remove(op.Path); err != nil {
		return fsFail(id, err)
	}
	return muxproto.OK(id, nil)
}

func (c *Client) handleReaddir(id string, op muxproto.Operation) muxproto.Response {
	entries, err := c.deps.Workspace.Readdir(op.Path)
	if err != nil {
		return fsFail(id, err)
	}
	return muxproto.OK(id, map[string][]workspace.Entry{"entries": entries})
}

func (c *Client) handleMkdir(id string, op muxproto.Operation) muxproto.Response {
	if err := c.deps.Workspace.Mkdir(op.Path, op.Recursive); err != nil {
		return fsFail(id, err)
	}
	return muxproto.OK(id, nil)
}

func (c *Client) handleStat(id string, op muxproto.Operation) muxproto.Response {
	entry, err := c.deps.Workspace.Stat(op.Path)
	if err != nil {
		return fsFail(id, err)
	}
	return muxproto.OK(id, entry)
}

func (c *Client) handleMount(id string, op muxproto.Operation) muxproto.Response {
	if err := c.deps.Workspace.Mount(op.Path, op.Tree); err != nil {
		return fsFail(id, err)
	}
	return muxproto.OK(id, nil)
}

func processFail(id string, err error) muxproto.Response {
	return muxproto.Fail(id, muxproto.CodeProcessFailed, err.Error())
}

func (c *Client) handleSpawn(id string, op muxproto.Operation) muxproto.Response {
	if op.Command == "" {
		return muxproto.Fail(id, muxproto.CodeProcessFailed, "spawn requires command")
	}
	cols, rows := op.Cols, op.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	pid, err := c.deps.Process.Spawn(op.Command, op.Args, cols, rows, c.id, c.Emit)
	if err != nil {
		return processFail(id, err)
	}
	return muxproto.OK(id, map[string]int{"pid": pid})
}

// processNotFoundOrErr reports the fixed "Process %d not found"
// message only when err is actually process.ErrNotFound; any other
// failure (e.g. a signal delivery error, an already-exited process)
// is surfaced verbatim, the same way fsFail/watchFail do for their
// subsystems.
func processNotFoundOrErr(id string, pid int, err error) muxproto.Response {
	if errors.Is(err, process.ErrNotFound) {
		return muxproto.Fail(id, muxproto.CodeProcessFailed, fmt.Sprintf("Process %d not found", pid))
	}
	return processFail(id, err)
}

func (c *Client) handleInput(id string, op muxproto.Operation) muxproto.Response {
	if op.Pid == 0 {
		return muxproto.Fail(id, muxproto.CodeProcessFailed, "input requires pid")
	}
	if err := c.deps.Process.Input(op.Pid, op.Data); err != nil {
		return processNotFoundOrErr(id, op.Pid, err)
	}
	return muxproto.OK(id, nil)
}

func (c *Client) handleKill(id string, op muxproto.Operation) muxproto.Response {
	if op.Pid == 0 {
		return muxproto.Fail(id, muxproto.CodeProcessFailed, "kill requires pid")
	}
	if err := c.deps.Process.Kill(op.Pid); err != nil {
		return processNotFoundOrErr(id, op.Pid, err)
	}
	return muxproto.OK(id, nil)
}

func (c *Client) handleResize(id string, op muxproto.Operation) muxproto.Response {
	if op.Pid == 0 || op.Cols == 0 || op.Rows == 0 {
		return muxproto.Fail(id, muxproto.CodeProcessFailed, "resize requires pid, cols and rows")
	}
	if err := c.deps.Process.Resize(op.Pid, op.Cols, op.Rows); err != nil {
		return processNotFoundOrErr(id, op.Pid, err)
	}
	return muxproto.OK(id, nil)
}

func watchFail(id string, err error) muxproto.Response {
	return muxproto.Fail(id, muxproto.CodeWatchFailed, err.Error())
}

func (c *Client) handleWatch(id string, op muxproto.Operation) muxproto.Response {
	if len(op.Patterns) == 0 {
		return muxproto.Fail(id, muxproto.CodeWatchFailed, "watch requires at least one pattern")
	}
	watcherID, err := c.deps.Watch.Watch(op.Patterns, c.id, c.emitWatchEvent)
	if err != nil {
		return watchFail(id, err)
	}
	return muxproto.OK(id, map[string]string{"watcherId": watcherID})
}

func (c *Client) handleWatchPaths(id string, op muxproto.Operation) muxproto.Response {
	if len(op.Include) == 0 {
		return muxproto.Fail(id, muxproto.CodeWatchFailed, "watch-paths requires at least one include pattern")
	}
	watcherID, err := c.deps.Watch.WatchPaths(op.Include, c.id, c.emitWatchEvent)
	if err != nil {
		return watchFail(id, err)
	}
	return muxproto.OK(id, map[string]string{"watcherId": watcherID})
}

// emitWatchEvent adapts watch.Sender to Client.Emit; kept as a named
// method (rather than a closure built at call time) so watch.Registry
// never holds a direct *Client handle, only this indirect callback,
// matching the indirect-key design the registry's cleanup depends on.
func (c *Client) emitWatchEvent(event muxproto.Event) {
	c.Emit(event)
}

func (c *Client) handleAuth(id string, op muxproto.Operation) muxproto.Response {
	if op.Token == "" {
		return muxproto.Fail(id, muxproto.CodeAuthError, "auth requires token")
	}
	ok, err := c.deps.AuthVerify.Verify(op.Token)
	if err != nil || !ok {
		return muxproto.Fail(id, muxproto.CodeAuthError, "token verification failed")
	}
	c.setAuthToken(op.Token)
	return muxproto.OK(id, map[string]bool{"authenticated": true})
}
