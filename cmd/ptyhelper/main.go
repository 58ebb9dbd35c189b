// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// ptyhelper is the external process that owns one PTY per spawned
// command. The agent exec's one ptyhelper per process(spawn): the
// helper's own stdin/stdout are wired to the PTY master, and its fd 3
// carries newline-delimited JSON resize control messages.
//
// Usage: ptyhelper --cols=80 --rows=24 -- <command> [args...]
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

type resizeMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func main() {
	cols := flag.Uint("cols", 80, "initial PTY column count")
	rows := flag.Uint("rows", 24, "initial PTY row count")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "ptyhelper: missing command")
		os.Exit(2)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(*cols),
		Rows: uint16(*rows),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ptyhelper: failed to start pty: %v\n", err)
		os.Exit(1)
	}
	defer ptmx.Close()

	// stdin -> PTY master: forwards process input verbatim.
	go func() {
		io.Copy(ptmx, os.Stdin)
	}()

	// PTY master -> stdout: the OS merges the child's stdout and
	// stderr into the single PTY stream, so everything the supervisor
	// reads from our stdout is tagged "stdout" on its side.
	go func() {
		io.Copy(os.Stdout, ptmx)
	}()

	// fd 3 -> resize control channel, one JSON object per line.
	controlFile := os.NewFile(3, "control")
	if controlFile != nil {
		go watchControl(controlFile, ptmx)
	}

	os.Exit(waitExitCode(cmd))
}

func watchControl(f *os.File, ptmx *os.File) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var msg resizeMsg
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Type != "resize" {
			continue
		}
		pty.Setsize(ptmx, &pty.Winsize{Cols: msg.Cols, Rows: msg.Rows})
	}
}

func waitExitCode(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		if code < 0 {
			return 0
		}
		return code
	}
	return 1
}
