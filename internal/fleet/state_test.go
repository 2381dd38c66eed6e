package fleet

import (
	"testing"

	"flotilla/internal/cloud"
)

func server(name string, status RunnerStatus, labels ...string) *RunnerServer {
	return &RunnerServer{
		Name:         name,
		Labels:       NewLabelSet(labels...),
		ServerStatus: cloud.StatusRunning,
		Status:       status,
	}
}

func TestStateAddRemove(t *testing.T) {
	st := &State{}
	st.AddServer(server("flotilla-1-1", RunnerInitializing))
	st.AddServer(server("flotilla-1-2", RunnerReady))

	if !st.HasServer("flotilla-1-1") {
		t.Error("expected flotilla-1-1 present")
	}

	st.RemoveServer("flotilla-1-1")
	if st.HasServer("flotilla-1-1") {
		t.Error("expected flotilla-1-1 removed")
	}
	if st.Len() != 1 {
		t.Errorf("Len() = %d, want 1", st.Len())
	}
}

func TestCountRunScoped(t *testing.T) {
	st := &State{}
	st.AddServer(server(JobServerName(123, 1), RunnerBusy))
	st.AddServer(server(JobServerName(123, 2), RunnerReady))
	st.AddServer(server(JobServerName(1234, 9), RunnerReady))
	st.AddServer(server(StandbyServerName(), RunnerReady))

	if got := st.CountRunScoped(123); got != 2 {
		t.Errorf("CountRunScoped(123) = %d, want 2", got)
	}
	if got := st.CountRunScoped(1234); got != 1 {
		t.Errorf("CountRunScoped(1234) = %d, want 1", got)
	}
}

func TestRecyclables(t *testing.T) {
	st := &State{}
	st.AddServer(server(RecycleNamePrefix+"aa", RunnerInitializing))
	st.AddServer(server(JobServerName(1, 1), RunnerBusy))

	rec := st.Recyclables()
	if len(rec) != 1 || rec[0].Name != RecycleNamePrefix+"aa" {
		t.Errorf("unexpected recyclables: %+v", rec)
	}
}

func TestCountAvailableAndPresent(t *testing.T) {
	poolLabels := NewLabelSet("self-hosted", "small")

	ready := server("flotilla-standby-a", RunnerReady, "self-hosted", "small", "extra")
	initializing := server("flotilla-standby-b", RunnerInitializing, "self-hosted", "small")
	busy := server("flotilla-standby-c", RunnerBusy, "self-hosted", "small")
	off := server("flotilla-standby-d", RunnerReady, "self-hosted", "small")
	off.ServerStatus = cloud.StatusOff
	otherLabels := server("flotilla-standby-e", RunnerReady, "self-hosted", "large")

	st := &State{}
	for _, s := range []*RunnerServer{ready, initializing, busy, off, otherLabels} {
		st.AddServer(s)
	}

	// Busy servers are spoken for; powered-off and mismatched servers
	// never count.
	if got := st.CountAvailable(poolLabels); got != 2 {
		t.Errorf("CountAvailable() = %d, want 2", got)
	}

	// Present counts busy servers too.
	if got := st.CountPresent(poolLabels); got != 3 {
		t.Errorf("CountPresent() = %d, want 3", got)
	}
}
