package controller

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"flotilla/internal/config"
	"flotilla/internal/fleet"
	"flotilla/internal/metrics"
	"flotilla/internal/provisioner"
	"flotilla/internal/store"
)

type Collector interface {
	Collect(ctx context.Context) (*fleet.State, error)
}

type Engine interface {
	ProcessRuns(ctx context.Context, state *fleet.State, batch *provisioner.Batch) error
	ReplenishStandby(ctx context.Context, state *fleet.State, batch *provisioner.Batch) error
}

// Status is a point-in-time summary of the fleet for the status API.
type Status struct {
	Servers      int       `json:"servers"`
	Initializing int       `json:"initializing"`
	Ready        int       `json:"ready"`
	Busy         int       `json:"busy"`
	Recyclable   int       `json:"recyclable"`
	QueuedRuns   int       `json:"queued_runs"`
	LastCycle    time.Time `json:"last_cycle"`
	LastError    string    `json:"last_error,omitempty"`
}

// Controller drives the reconciliation loop: collect a fleet snapshot,
// let the engine claim capacity for queued work, then wait for the
// provisioning batch to settle before sleeping.
type Controller struct {
	cfg       *config.Config
	collector Collector
	engine    Engine
	metrics   *metrics.Metrics
	store     *store.Store
	logger    *slog.Logger

	mu     sync.RWMutex
	status Status
}

func New(cfg *config.Config, collector Collector, engine Engine, m *metrics.Metrics, st *store.Store, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		collector: collector,
		engine:    engine,
		metrics:   m,
		store:     st,
		logger:    logger.With("component", "controller"),
	}
}

// Run executes cycles until the context is cancelled. The interval is
// measured from the end of one cycle to the start of the next, so a
// slow provisioning wait never stacks cycles on top of each other.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("controller starting", "interval", c.cfg.Scaling.Interval)

	for {
		if ctx.Err() != nil {
			c.logger.Info("controller stopped")
			return nil
		}

		c.runCycle(ctx)

		select {
		case <-ctx.Done():
			c.logger.Info("controller stopped")
			return nil
		case <-time.After(c.cfg.Scaling.Interval):
		}
	}
}

// Status returns the summary of the most recent cycle.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Controller) runCycle(ctx context.Context) {
	start := time.Now()
	status := "success"

	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			if c.cfg.Debug {
				c.logger.Error("cycle panicked", "panic", r, "stack", string(debug.Stack()))
			} else {
				c.logger.Error("cycle panicked", "panic", r)
			}
		}
		c.metrics.CycleTotal.WithLabelValues(status).Inc()
		c.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	state, err := c.cycle(ctx)
	c.updateStatus(state, err)
	if err != nil {
		status = "failure"
		c.logger.Error("cycle failed", "error", err)
	}
}

// cycle runs one reconciliation pass. The snapshot is returned even
// when the engine fails partway so the status reflects what was seen.
func (c *Controller) cycle(ctx context.Context) (*fleet.State, error) {
	state, err := c.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}

	c.observeFleet(state)

	batch := &provisioner.Batch{}
	engineErr := c.engine.ProcessRuns(ctx, state, batch)
	if engineErr == nil {
		engineErr = c.engine.ReplenishStandby(ctx, state, batch)
	}

	// Tasks already submitted keep running even when the engine errors
	// out, so their results are always drained and recorded.
	c.drainBatch(batch)

	return state, engineErr
}

func (c *Controller) drainBatch(batch *provisioner.Batch) {
	if batch.Len() == 0 {
		return
	}

	results := batch.Wait()
	failed := 0
	for _, res := range results {
		status := "success"
		if res.Err != nil {
			status = "failure"
			failed++
			c.logger.Error("provisioning failed",
				"name", res.Name,
				"operation", string(res.Op),
				"error", res.Err,
			)
		}
		c.metrics.ProvisionTotal.WithLabelValues(string(res.Op), status).Inc()
		c.metrics.ProvisionDuration.WithLabelValues(string(res.Op)).Observe(res.Elapsed.Seconds())
		c.recordEvent(res, status)
	}

	c.logger.Info("provisioning batch settled", "operations", len(results), "failed", failed)
}

func (c *Controller) recordEvent(res provisioner.Result, status string) {
	if c.store == nil {
		return
	}

	event := store.ProvisionEvent{
		Timestamp:      time.Now().UTC(),
		Server:         res.Name,
		Operation:      string(res.Op),
		Outcome:        status,
		ElapsedSeconds: res.Elapsed.Seconds(),
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}
	if err := c.store.RecordEvent(event); err != nil {
		c.logger.Error("failed to record event", "error", err)
	}
}

func (c *Controller) observeFleet(state *fleet.State) {
	initializing, ready, busy := countByStatus(state)
	c.metrics.ServersTotal.Set(float64(state.Len()))
	c.metrics.ServersInitializing.Set(float64(initializing))
	c.metrics.ServersReady.Set(float64(ready))
	c.metrics.ServersBusy.Set(float64(busy))
	c.metrics.ServersRecyclable.Set(float64(len(state.Recyclables())))
	c.metrics.QueuedRuns.Set(float64(len(state.Runs)))
}

func (c *Controller) updateStatus(state *fleet.State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.LastCycle = time.Now().UTC()
	c.status.LastError = ""
	if err != nil {
		c.status.LastError = err.Error()
	}
	if state == nil {
		return
	}

	initializing, ready, busy := countByStatus(state)
	c.status.Servers = state.Len()
	c.status.Initializing = initializing
	c.status.Ready = ready
	c.status.Busy = busy
	c.status.Recyclable = len(state.Recyclables())
	c.status.QueuedRuns = len(state.Runs)
}

func countByStatus(state *fleet.State) (initializing, ready, busy int) {
	for _, s := range state.Servers {
		switch s.Status {
		case fleet.RunnerReady:
			ready++
		case fleet.RunnerBusy:
			busy++
		default:
			initializing++
		}
	}
	return initializing, ready, busy
}
