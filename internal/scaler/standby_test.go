package scaler

import (
	"context"
	"testing"

	"flotilla/internal/cloud"
	"flotilla/internal/config"
	"flotilla/internal/fleet"
	"flotilla/internal/provisioner"
)

func TestReplenishStandbyTopsUpDeficit(t *testing.T) {
	cfg := testConfig()
	cfg.Standby = []config.StandbySpec{
		{Labels: []string{"self-hosted", "small"}, Count: 3},
	}
	exec := &mockExecutor{}
	engine := testEngine(cfg, &mockGitHub{}, &mockCloud{}, exec)

	state := &fleet.State{
		Servers: []*fleet.RunnerServer{
			{
				Name:   "flotilla-standby-aaa",
				Labels: fleet.NewLabelSet("self-hosted", "small"),
				Status: fleet.RunnerReady,
			},
		},
	}
	if err := engine.ReplenishStandby(context.Background(), state, &provisioner.Batch{}); err != nil {
		t.Fatalf("ReplenishStandby returned error: %v", err)
	}

	if len(exec.creates) != 2 {
		t.Fatalf("expected 2 creates to reach count 3, got %d", len(exec.creates))
	}
	for _, spec := range exec.creates {
		if !fleet.IsStandbyServer(spec.Name) {
			t.Errorf("expected standby name, got %s", spec.Name)
		}
		if !spec.Labels.Has("small") {
			t.Errorf("expected standby labels on %s", spec.Name)
		}
	}
	if state.Len() != 3 {
		t.Errorf("expected 3 servers in state after replenish, got %d", state.Len())
	}
}

func TestReplenishStandbyCountsBusyByMode(t *testing.T) {
	state := func() *fleet.State {
		return &fleet.State{
			Servers: []*fleet.RunnerServer{
				{
					Name:   "flotilla-standby-aaa",
					Labels: fleet.NewLabelSet("self-hosted"),
					Status: fleet.RunnerBusy,
				},
				{
					Name:   "flotilla-standby-bbb",
					Labels: fleet.NewLabelSet("self-hosted"),
					Status: fleet.RunnerReady,
				},
			},
		}
	}

	t.Run("immediate replaces busy", func(t *testing.T) {
		cfg := testConfig()
		cfg.Standby = []config.StandbySpec{
			{Labels: []string{"self-hosted"}, Count: 2, ReplenishImmediately: true},
		}
		exec := &mockExecutor{}
		engine := testEngine(cfg, &mockGitHub{}, &mockCloud{}, exec)

		if err := engine.ReplenishStandby(context.Background(), state(), &provisioner.Batch{}); err != nil {
			t.Fatalf("ReplenishStandby returned error: %v", err)
		}
		if len(exec.creates) != 1 {
			t.Fatalf("expected 1 create to replace the busy standby, got %d", len(exec.creates))
		}
	})

	t.Run("deferred counts busy as present", func(t *testing.T) {
		cfg := testConfig()
		cfg.Standby = []config.StandbySpec{
			{Labels: []string{"self-hosted"}, Count: 2},
		}
		exec := &mockExecutor{}
		engine := testEngine(cfg, &mockGitHub{}, &mockCloud{}, exec)

		if err := engine.ReplenishStandby(context.Background(), state(), &provisioner.Batch{}); err != nil {
			t.Fatalf("ReplenishStandby returned error: %v", err)
		}
		if len(exec.creates) != 0 {
			t.Fatalf("expected no creates while the busy standby still exists, got %d", len(exec.creates))
		}
	})
}

func TestReplenishStandbyPoweredOffNotCounted(t *testing.T) {
	cfg := testConfig()
	cfg.Standby = []config.StandbySpec{
		{Labels: []string{"self-hosted"}, Count: 1},
	}
	exec := &mockExecutor{}
	engine := testEngine(cfg, &mockGitHub{}, &mockCloud{}, exec)

	state := &fleet.State{
		Servers: []*fleet.RunnerServer{
			{
				Name:         "flotilla-standby-aaa",
				Labels:       fleet.NewLabelSet("self-hosted"),
				ServerStatus: cloud.StatusOff,
				Status:       fleet.RunnerInitializing,
			},
		},
	}
	if err := engine.ReplenishStandby(context.Background(), state, &provisioner.Batch{}); err != nil {
		t.Fatalf("ReplenishStandby returned error: %v", err)
	}

	if len(exec.creates) != 1 {
		t.Fatalf("expected a powered-off standby to be replaced, got %d creates", len(exec.creates))
	}
}

func TestReplenishStandbyExhaustedLeavesPoolShort(t *testing.T) {
	cfg := testConfig()
	cfg.Scaling.MaxServers = 1
	cfg.Standby = []config.StandbySpec{
		{Labels: []string{"self-hosted"}, Count: 2},
	}
	exec := &mockExecutor{}
	engine := testEngine(cfg, &mockGitHub{}, &mockCloud{}, exec)

	state := &fleet.State{
		Servers: []*fleet.RunnerServer{
			{Name: "flotilla-7-1", ServerType: "cx22", Status: fleet.RunnerBusy},
		},
	}
	if err := engine.ReplenishStandby(context.Background(), state, &provisioner.Batch{}); err != nil {
		t.Fatalf("ReplenishStandby returned error: %v", err)
	}

	if len(exec.creates) != 0 {
		t.Fatalf("expected no creates with capacity exhausted, got %d", len(exec.creates))
	}
}

func TestReplenishStandbyMultiplePools(t *testing.T) {
	cfg := testConfig()
	cfg.Standby = []config.StandbySpec{
		{Labels: []string{"self-hosted", "small"}, Count: 1},
		{Labels: []string{"self-hosted", "type-cpx41"}, Count: 1},
	}
	exec := &mockExecutor{}
	engine := testEngine(cfg, &mockGitHub{}, &mockCloud{}, exec)

	state := &fleet.State{}
	if err := engine.ReplenishStandby(context.Background(), state, &provisioner.Batch{}); err != nil {
		t.Fatalf("ReplenishStandby returned error: %v", err)
	}

	if len(exec.creates) != 2 {
		t.Fatalf("expected one create per pool, got %d", len(exec.creates))
	}
	if exec.creates[1].ServerType != "cpx41" {
		t.Errorf("expected pool labels to pin the server type, got %s", exec.creates[1].ServerType)
	}
}
