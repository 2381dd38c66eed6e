package fleet

import (
	"context"
	"fmt"
	"log/slog"

	"flotilla/internal/cloud"
	"flotilla/internal/github"
)

type CloudAPI interface {
	ListServers(ctx context.Context) ([]*cloud.Server, error)
}

type GitHubAPI interface {
	ListRunners(ctx context.Context) ([]*github.SelfHostedRunner, error)
	ListQueuedWorkflowRuns(ctx context.Context) ([]*github.WorkflowRun, error)
}

// Collector builds the per-cycle snapshot from the cloud, the runner
// registry, and the job queue. The three sources are polled
// independently and may lag each other by one cycle.
type Collector struct {
	cloud  CloudAPI
	github GitHubAPI
	logger *slog.Logger
}

func NewCollector(cloudAPI CloudAPI, gh GitHubAPI, logger *slog.Logger) *Collector {
	return &Collector{
		cloud:  cloudAPI,
		github: gh,
		logger: logger.With("component", "collector"),
	}
}

// Collect lists fleet servers, correlates them with online runner
// agents by name, and fetches the queued workflow runs.
func (c *Collector) Collect(ctx context.Context) (*State, error) {
	cloudServers, err := c.cloud.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect servers: %w", err)
	}

	state := &State{}
	for _, cs := range cloudServers {
		if !IsFleetServer(cs.Name) {
			continue
		}
		state.AddServer(&RunnerServer{
			Name:         cs.Name,
			Labels:       DecodeLabels(cs.Labels),
			ServerType:   cs.ServerType,
			Location:     cs.Location,
			ServerStatus: cs.Status,
			Status:       RunnerInitializing,
			Server:       cs,
		})
	}

	runners, err := c.github.ListRunners(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect runners: %w", err)
	}

	for _, r := range runners {
		if !IsFleetServer(r.Name) {
			continue
		}
		if r.Status != github.RunnerStatusOnline {
			continue
		}
		srv := state.Get(r.Name)
		if srv == nil {
			continue
		}
		if r.Busy {
			srv.Status = RunnerBusy
		} else {
			srv.Status = RunnerReady
		}
	}

	runs, err := c.github.ListQueuedWorkflowRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect queued runs: %w", err)
	}
	state.Runs = runs

	c.logger.Debug("collected state",
		"servers", state.Len(),
		"queued_runs", len(runs),
	)

	return state, nil
}
