// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package orchestrator

import "sync"

// Future is a one-shot, lazily-resolved Client handle: the HTTP
// server binds and starts serving before the orchestrator backend is
// necessarily reachable, and every caller that needs a Client blocks
// on Resolve until it is available. There is no global singleton —
// each Server owns its own Future.
type Future struct {
	once   sync.Once
	client Client
	err    error
	build  func() (Client, error)
}

// NewFuture wraps build, a constructor invoked at most once, the
// first time Resolve is called.
func NewFuture(build func() (Client, error)) *Future {
	return &Future{build: build}
}

// Resolve returns the orchestrator Client, constructing it on first
// call and caching the result (success or failure) for every
// subsequent call.
func (f *Future) Resolve() (Client, error) {
	f.once.Do(func() {
		f.client, f.err = f.build()
	})
	return f.client, f.err
}
