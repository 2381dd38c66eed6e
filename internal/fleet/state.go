package fleet

import (
	"strings"

	"flotilla/internal/cloud"
	"flotilla/internal/github"
)

// RunnerStatus is the business state of a fleet server, derived each
// cycle by correlating the server with its registered runner agent.
type RunnerStatus string

const (
	// RunnerInitializing means no online runner agent has registered
	// under the server's name yet.
	RunnerInitializing RunnerStatus = "initializing"

	// RunnerReady means the runner agent is online and idle.
	RunnerReady RunnerStatus = "ready"

	// RunnerBusy means the runner agent is online and executing a job.
	RunnerBusy RunnerStatus = "busy"
)

// RunnerServer is one cloud machine tracked during a cycle.
type RunnerServer struct {
	Name         string
	Labels       LabelSet
	ServerType   string
	Location     string
	ServerStatus cloud.Status
	Status       RunnerStatus

	// Server is the underlying cloud resource. It is nil for
	// placeholders registered for machines still being provisioned.
	Server *cloud.Server
}

// State is the snapshot one reconciliation cycle works on. It is built
// from scratch every cycle and discarded afterwards.
type State struct {
	Servers []*RunnerServer
	Runs    []*github.WorkflowRun
}

// Get returns the server with the given name, or nil.
func (st *State) Get(name string) *RunnerServer {
	for _, s := range st.Servers {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// HasServer reports whether a server with the given name is tracked.
func (st *State) HasServer(name string) bool {
	return st.Get(name) != nil
}

// AddServer registers a server, typically a placeholder for a machine
// whose provisioning was submitted this cycle.
func (st *State) AddServer(s *RunnerServer) {
	st.Servers = append(st.Servers, s)
}

// RemoveServer drops the server with the given name from the snapshot.
func (st *State) RemoveServer(name string) {
	for i, s := range st.Servers {
		if s.Name == name {
			st.Servers = append(st.Servers[:i], st.Servers[i+1:]...)
			return
		}
	}
}

// Len returns the number of tracked servers.
func (st *State) Len() int {
	return len(st.Servers)
}

// Recyclables returns the servers in the recycle namespace.
func (st *State) Recyclables() []*RunnerServer {
	var out []*RunnerServer
	for _, s := range st.Servers {
		if IsRecyclableServer(s.Name) {
			out = append(out, s)
		}
	}
	return out
}

// CountRunScoped returns how many servers belong to the given workflow
// run.
func (st *State) CountRunScoped(runID int64) int {
	prefix := RunScopedPrefix(runID)
	n := 0
	for _, s := range st.Servers {
		if strings.HasPrefix(s.Name, prefix) {
			n++
		}
	}
	return n
}

// CountAvailable returns how many powered-on servers satisfying labels
// are initializing or ready. Busy servers do not count: their capacity
// is already spoken for.
func (st *State) CountAvailable(labels LabelSet) int {
	n := 0
	for _, s := range st.Servers {
		if s.ServerStatus == cloud.StatusOff {
			continue
		}
		if !labels.IsSubset(s.Labels) {
			continue
		}
		if s.Status != RunnerInitializing && s.Status != RunnerReady {
			continue
		}
		n++
	}
	return n
}

// CountPresent returns how many powered-on servers satisfying labels
// exist regardless of runner status.
func (st *State) CountPresent(labels LabelSet) int {
	n := 0
	for _, s := range st.Servers {
		if s.ServerStatus == cloud.StatusOff {
			continue
		}
		if !labels.IsSubset(s.Labels) {
			continue
		}
		n++
	}
	return n
}
