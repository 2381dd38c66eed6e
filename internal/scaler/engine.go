package scaler

import (
	"context"
	"log/slog"
	"strings"

	"flotilla/internal/config"
	"flotilla/internal/fleet"
	"flotilla/internal/github"
	"flotilla/internal/metrics"
	"flotilla/internal/provisioner"
	"flotilla/internal/scripts"
)

// Label prefixes jobs use to pin server type, location and image.
const (
	typeLabelPrefix     = "type-"
	locationLabelPrefix = "in-"
	imageLabelPrefix    = "image-"
)

// Outcome reports how a capacity request was satisfied.
type Outcome int

const (
	// OutcomeCreated means a new server was requested.
	OutcomeCreated Outcome = iota

	// OutcomeRecycled means an existing recyclable server is being
	// converted.
	OutcomeRecycled

	// OutcomeExhausted means the fleet is at its maximum and nothing
	// could be evicted. Demand stays unmet until a later cycle.
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeRecycled:
		return "recycled"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

type GitHubAPI interface {
	ListWorkflowJobs(ctx context.Context, runID int64) ([]*github.WorkflowJob, error)
	GetRunner(ctx context.Context, id int64) (*github.SelfHostedRunner, error)
}

type CloudAPI interface {
	DeleteServer(ctx context.Context, name string) error
}

type Executor interface {
	SubmitCreate(ctx context.Context, batch *provisioner.Batch, spec provisioner.CreateSpec) *provisioner.Task
	SubmitRecycle(ctx context.Context, batch *provisioner.Batch, spec provisioner.RecycleSpec) *provisioner.Task
}

// Engine walks the queued jobs each cycle and decides, per job, whether
// to create a server, recycle one, evict one to make room, or leave the
// demand unmet. Decisions mutate the snapshot so later jobs in the same
// cycle see capacity already claimed.
type Engine struct {
	cfg      *config.Config
	github   GitHubAPI
	cloud    CloudAPI
	executor Executor
	scripts  *scripts.Scripts
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(cfg *config.Config, gh GitHubAPI, cloudAPI CloudAPI, executor Executor, scr *scripts.Scripts, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		github:   gh,
		cloud:    cloudAPI,
		executor: executor,
		scripts:  scr,
		metrics:  m,
		logger:   logger.With("component", "scaler"),
	}
}

// ProcessRuns walks every queued run. When capacity is exhausted the
// remaining runs are deferred to a later cycle; standby replenishment
// still gets its chance afterwards.
func (e *Engine) ProcessRuns(ctx context.Context, state *fleet.State, batch *provisioner.Batch) error {
	for _, run := range state.Runs {
		exhausted, err := e.processRun(ctx, state, batch, run)
		if err != nil {
			return err
		}
		if exhausted {
			e.logger.Warn("fleet capacity exhausted, deferring remaining runs")
			return nil
		}
	}
	return nil
}

func (e *Engine) processRun(ctx context.Context, state *fleet.State, batch *provisioner.Batch, run *github.WorkflowRun) (bool, error) {
	if e.runCapReached(state, run.ID) {
		e.logger.Info("per-run capacity reached", "run_id", run.ID)
		return false, nil
	}

	jobs, err := e.github.ListWorkflowJobs(ctx, run.ID)
	if err != nil {
		return false, err
	}

	for _, job := range jobs {
		if job.Status == github.JobStatusCompleted {
			continue
		}

		name := fleet.JobServerName(run.ID, job.ID)
		if state.HasServer(name) {
			continue
		}

		labels := fleet.NewLabelSet(job.Labels...)

		if job.Status == github.JobStatusInProgress {
			// The job already holds a runner. A standby runner keeps
			// its slot; any other runner stole capacity meant for a
			// different job, so provision a replacement shaped like
			// the runner that was taken.
			if fleet.IsStandbyServer(job.RunnerName) {
				continue
			}

			runner, err := e.github.GetRunner(ctx, job.RunnerID)
			if err != nil {
				return false, err
			}

			labels = fleet.NewLabelSet()
			for _, l := range runner.Labels {
				labels.Add(l.Name)
			}
		}

		if e.runCapReached(state, run.ID) {
			e.logger.Info("per-run capacity reached", "run_id", run.ID)
			break
		}

		if !e.requiredLabelsPresent(labels) {
			continue
		}

		outcome, err := e.createOrRecycle(ctx, state, batch, name, labels)
		if err != nil {
			return false, err
		}
		if outcome == OutcomeExhausted {
			return true, nil
		}
	}

	return false, nil
}

// createOrRecycle claims capacity for one server: recycle a matching
// recyclable, or create a new machine, evicting a recyclable first when
// the fleet is at its maximum.
func (e *Engine) createOrRecycle(ctx context.Context, state *fleet.State, batch *provisioner.Batch, name string, labels fleet.LabelSet) (Outcome, error) {
	serverType := e.resolveServerType(labels)
	location := e.resolveLocation(labels)
	image := e.resolveImage(labels)

	spec := provisioner.CreateSpec{
		Name:       name,
		Labels:     labels,
		ServerType: serverType,
		Location:   location,
		Image:      image,
		Startup:    e.scripts.StartupFor(serverType),
	}

	if e.cfg.Scaling.Recycle {
		for _, candidate := range state.Recyclables() {
			if !e.recycleMatch(candidate, serverType, location) {
				continue
			}

			e.logger.Info("recycling server",
				"old_name", candidate.Name,
				"name", name,
				"server_type", serverType,
			)

			e.executor.SubmitRecycle(ctx, batch, provisioner.RecycleSpec{
				OldName:    candidate.Name,
				CreateSpec: spec,
			})
			state.RemoveServer(candidate.Name)
			state.AddServer(placeholder(name, labels, serverType, location))
			return OutcomeRecycled, nil
		}
	}

	if max := e.cfg.Scaling.MaxServers; max > 0 && state.Len() >= max {
		recyclables := state.Recyclables()
		if len(recyclables) == 0 {
			e.metrics.CapacityExhausted.Inc()
			return OutcomeExhausted, nil
		}

		victim := e.pickVictim(recyclables)
		e.logger.Info("evicting server to free capacity",
			"name", victim.Name,
			"server_type", victim.ServerType,
		)
		if err := e.cloud.DeleteServer(ctx, victim.Name); err != nil {
			e.logger.Error("failed to delete server", "name", victim.Name, "error", err)
		}
		e.metrics.Evictions.Inc()
		state.RemoveServer(victim.Name)
	}

	e.logger.Info("creating server",
		"name", name,
		"server_type", serverType,
		"labels", labels.Join(","),
	)

	e.executor.SubmitCreate(ctx, batch, spec)
	state.AddServer(placeholder(name, labels, serverType, location))
	return OutcomeCreated, nil
}

func placeholder(name string, labels fleet.LabelSet, serverType, location string) *fleet.RunnerServer {
	return &fleet.RunnerServer{
		Name:       name,
		Labels:     labels,
		ServerType: serverType,
		Location:   location,
		Status:     fleet.RunnerInitializing,
	}
}

func (e *Engine) runCapReached(state *fleet.State, runID int64) bool {
	max := e.cfg.Scaling.MaxServersPerRun
	if max <= 0 {
		return false
	}
	return state.CountRunScoped(runID) >= max
}

func (e *Engine) requiredLabelsPresent(labels fleet.LabelSet) bool {
	for _, required := range e.cfg.Scaling.WithLabels {
		if !labels.Has(required) {
			return false
		}
	}
	return true
}

func (e *Engine) recycleMatch(candidate *fleet.RunnerServer, serverType, location string) bool {
	if candidate.ServerType != serverType {
		return false
	}
	if location != "" && candidate.Location != location {
		return false
	}
	if candidate.Server == nil || candidate.Server.Labels[fleet.SSHKeyLabel] != e.cfg.Hetzner.SSHKey {
		return false
	}
	return true
}

// resolveServerType picks the server type from a type- label, first in
// lexical order, falling back to the configured default.
func (e *Engine) resolveServerType(labels fleet.LabelSet) string {
	for _, label := range labels.Sorted() {
		if t, ok := strings.CutPrefix(label, typeLabelPrefix); ok {
			return t
		}
	}
	return e.cfg.Hetzner.DefaultServerType
}

// resolveLocation picks the location from an in- label. An empty result
// leaves the location to the provider.
func (e *Engine) resolveLocation(labels fleet.LabelSet) string {
	for _, label := range labels.Sorted() {
		if l, ok := strings.CutPrefix(label, locationLabelPrefix); ok {
			return l
		}
	}
	return e.cfg.Hetzner.DefaultLocation
}

func (e *Engine) resolveImage(labels fleet.LabelSet) string {
	for _, label := range labels.Sorted() {
		if img, ok := strings.CutPrefix(label, imageLabelPrefix); ok {
			return img
		}
	}
	return e.cfg.Hetzner.DefaultImage
}
