package mockorchestrator

import (
	"testing"

	"github.com/orcabot/container-agent/internal/orchestrator"
)

func TestCreateAndGetMachine(t *testing.T) {
	c := New()

	id, err := c.CreateMachine(orchestrator.MachineSpec{Name: "box"}, "user-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty machine id")
	}

	machine, err := c.GetMachineStatus(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if machine.State != orchestrator.StateStarted {
		t.Errorf("expected state started, got %s", machine.State)
	}
}

func TestGetMachineStatusUnknown(t *testing.T) {
	c := New()
	if _, err := c.GetMachineStatus("nonexistent"); err != ErrMachineNotFound {
		t.Errorf("expected ErrMachineNotFound, got %v", err)
	}
}

func TestGetMachineIPResolvesPrivateAddress(t *testing.T) {
	c := New()
	id, err := c.CreateMachine(orchestrator.MachineSpec{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ip, err := c.GetMachineIP(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ip == nil {
		t.Fatal("expected non-nil IP")
	}
}

func TestCreateMachineFailCreate(t *testing.T) {
	c := New()
	c.FailCreate = true

	if _, err := c.CreateMachine(orchestrator.MachineSpec{}, ""); err == nil {
		t.Error("expected error when FailCreate is set")
	}
}

func TestSetState(t *testing.T) {
	c := New()
	id, _ := c.CreateMachine(orchestrator.MachineSpec{}, "")

	c.SetState(id, orchestrator.StateStopped)

	machine, err := c.GetMachineStatus(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if machine.State != orchestrator.StateStopped {
		t.Errorf("expected state stopped, got %s", machine.State)
	}
}
