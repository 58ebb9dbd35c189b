// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Command agent is the in-container entrypoint: it wires every
// subsystem via internal/server, picks a real Fly orchestrator or an
// in-memory mock depending on environment, and handles graceful
// shutdown plus SIGQUIT diagnostics.
//
// Grounded on the teacher's cmd/server/main.go main(), with CLI flags
// layered on top via spf13/pflag the way bureau-viewer's main.go does.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/orcabot/container-agent/internal/flyorchestrator"
	"github.com/orcabot/container-agent/internal/mockorchestrator"
	"github.com/orcabot/container-agent/internal/orchestrator"
	"github.com/orcabot/container-agent/internal/server"
)

const agentRevision = "container-agent-v1"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		port          string
		workspaceRoot string
		scanInterval  time.Duration
		excludedPorts []int
		appHost       string
		machineID     string
		coep          string
		useMock       bool
	)

	flagSet := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	flagSet.StringVar(&port, "port", envOr("PORT", "8080"), "HTTP+WS listen port")
	flagSet.StringVar(&workspaceRoot, "workspace-root", envOr("WORKSPACE_ROOT", "/workspace"), "confined filesystem root")
	flagSet.DurationVar(&scanInterval, "scan-interval", 2000*time.Millisecond, "port scanner tick interval")
	flagSet.IntSliceVar(&excludedPorts, "exclude-port", nil, "additional port to exclude from scan results (repeatable)")
	flagSet.StringVar(&appHost, "app-host", os.Getenv("APP_HOST"), "externally reachable host used to build preview URLs")
	flagSet.StringVar(&machineID, "machine-id", "", "override this agent's own machine id (default: FLY_MACHINE_ID/FLY_ALLOC_ID)")
	flagSet.StringVar(&coep, "coep", envOr("COEP", "require-corp"), "Cross-Origin-Embedder-Policy value passed to every spawned child's environment")
	flagSet.BoolVar(&useMock, "mock-orchestrator", os.Getenv("FLY_API_TOKEN") == "", "use the in-memory mock orchestrator instead of the Fly Machines API")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	log.Printf("[agent] REVISION: %s starting", agentRevision)

	if machineID == "" {
		machineID = selfMachineID()
	}

	excluded := make([]uint16, 0, len(excludedPorts))
	for _, p := range excludedPorts {
		excluded = append(excluded, uint16(p))
	}

	cfg := server.Config{
		Port:          port,
		WorkspaceRoot: workspaceRoot,
		ScanInterval:  scanInterval,
		ExcludedPorts: excluded,
		AppHost:       appHost,
		MachineID:     machineID,
		COEP:          coep,
		Orchestrator:  orchestratorBuilder(useMock),
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	quitDump := make(chan os.Signal, 1)
	signal.Notify(quitDump, syscall.SIGQUIT)
	go func() {
		for range quitDump {
			srv.DumpGoroutineStacks()
		}
	}()

	go func() {
		sig := <-shutdown
		log.Printf("[agent] received signal %v, shutting down", sig)
		cancel()
	}()

	return srv.Run(ctx)
}

func orchestratorBuilder(useMock bool) func() (orchestrator.Client, error) {
	if useMock {
		return func() (orchestrator.Client, error) {
			log.Println("[agent] using in-memory mock orchestrator")
			return mockorchestrator.New(), nil
		}
	}
	return func() (orchestrator.Client, error) {
		client, err := flyorchestrator.New()
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// selfMachineID mirrors the teacher's sandboxMachineID helper.
func selfMachineID() string {
	if id := os.Getenv("FLY_MACHINE_ID"); id != "" {
		return id
	}
	if id := os.Getenv("FLY_ALLOC_ID"); id != "" {
		return id
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
