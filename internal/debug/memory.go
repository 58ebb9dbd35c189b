// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package debug provides runtime diagnostics for the agent process: a
// periodic log line combining Go heap/goroutine stats with the agent's
// own subsystem counts (tracked child processes, active watchers,
// connected control clients), plus an on-demand goroutine dump wired
// to SIGQUIT.
//
// Grounded on the teacher's sandbox/internal/debug.MemoryMonitor for
// the overall shape (ticker-driven loop, warning/critical heap
// thresholds, SIGQUIT-triggered stack dump) but reworked so the
// periodic log actually reflects this agent's own state rather than
// Go runtime stats alone.
package debug

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"
)

// Stats are the agent-specific counts folded into every periodic log
// line alongside heap/goroutine stats. Zero value is valid — a
// MemoryMonitor with no StatsFunc configured simply omits this part of
// the line.
type Stats struct {
	Processes int
	Watchers  int
	Clients   int
}

// StatsFunc supplies a live Stats snapshot at log time.
type StatsFunc func() Stats

// MemoryMonitor periodically logs heap/goroutine/agent-subsystem
// diagnostics and can dump full goroutine stacks on demand.
type MemoryMonitor struct {
	interval          time.Duration
	warningThreshold  uint64
	criticalThreshold uint64
	statsFn           StatsFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	prevNumGC uint32
	prevAlloc uint64
}

// Config configures a MemoryMonitor.
type Config struct {
	Interval          time.Duration
	WarningThreshold  uint64
	CriticalThreshold uint64
}

// DefaultConfig returns sensible defaults for a small container.
func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		WarningThreshold:  512 * 1024 * 1024,
		CriticalThreshold: 1536 * 1024 * 1024,
	}
}

// NewMemoryMonitor creates a MemoryMonitor from cfg, filling in zero
// fields from DefaultConfig. statsFn may be nil, in which case the
// agent-subsystem portion of every log line is simply omitted.
func NewMemoryMonitor(cfg Config, statsFn StatsFunc) *MemoryMonitor {
	defaults := DefaultConfig()
	if cfg.Interval == 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.WarningThreshold == 0 {
		cfg.WarningThreshold = defaults.WarningThreshold
	}
	if cfg.CriticalThreshold == 0 {
		cfg.CriticalThreshold = defaults.CriticalThreshold
	}
	return &MemoryMonitor{
		interval:          cfg.Interval,
		warningThreshold:  cfg.WarningThreshold,
		criticalThreshold: cfg.CriticalThreshold,
		statsFn:           statsFn,
		stopCh:            make(chan struct{}),
	}
}

// Start begins the periodic monitor loop on its own goroutine.
func (m *MemoryMonitor) Start() {
	m.wg.Add(1)
	go m.loop()
	log.Printf("[memory] monitor started interval=%v warn=%dMB crit=%dMB",
		m.interval, m.warningThreshold/(1024*1024), m.criticalThreshold/(1024*1024))
}

// Stop halts the monitor loop and waits for it to exit. Idempotent.
func (m *MemoryMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
	log.Println("[memory] monitor stopped")
}

func (m *MemoryMonitor) loop() {
	defer m.wg.Done()

	m.report("startup")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.report("shutdown")
			return
		case <-ticker.C:
			m.report("periodic")
		}
	}
}

// report logs one combined heap/goroutine/agent-subsystem line and, on
// crossing the critical threshold, a goroutine summary.
func (m *MemoryMonitor) report(reason string) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	gcRuns := ms.NumGC - m.prevNumGC
	allocDelta := ms.TotalAlloc - m.prevAlloc
	m.prevNumGC = ms.NumGC
	m.prevAlloc = ms.TotalAlloc

	line := fmt.Sprintf("[memory:%s] level=%s heap=%.1fMB sys=%.1fMB goroutines=%d gc_runs=%d alloc_delta=%.1fMB",
		reason, m.severity(ms.HeapAlloc),
		mb(ms.HeapAlloc), mb(ms.Sys), runtime.NumGoroutine(), gcRuns, mb(allocDelta))

	if m.statsFn != nil {
		s := m.statsFn()
		line += fmt.Sprintf(" processes=%d watchers=%d clients=%d", s.Processes, s.Watchers, s.Clients)
	}

	log.Println(line)

	if ms.HeapAlloc >= m.criticalThreshold {
		m.logGoroutineSummary()
	}
}

func (m *MemoryMonitor) severity(heapAlloc uint64) string {
	switch {
	case heapAlloc >= m.criticalThreshold:
		return "critical"
	case heapAlloc >= m.warningThreshold:
		return "warning"
	default:
		return "ok"
	}
}

func mb(n uint64) float64 { return float64(n) / (1024 * 1024) }

// DumpGoroutineStacks writes all goroutine stacks to stderr. Wired to
// SIGQUIT by cmd/agent via internal/server.
func (m *MemoryMonitor) DumpGoroutineStacks() {
	m.report("dump")

	buf := make([]byte, 1024*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE DUMP ===\n%s\n=== END GOROUTINE DUMP ===\n", buf[:n])
			return
		}
		buf = make([]byte, len(buf)*2)
		if len(buf) > 64*1024*1024 {
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE DUMP (truncated) ===\n%s\n=== END GOROUTINE DUMP ===\n", buf)
			return
		}
	}
}

func (m *MemoryMonitor) logGoroutineSummary() {
	p := pprof.Lookup("goroutine")
	if p == nil {
		return
	}
	log.Printf("[memory:goroutines] total=%d (writing summary to stderr)", p.Count())
	p.WriteTo(os.Stderr, 1)
}
