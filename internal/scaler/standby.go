package scaler

import (
	"context"

	"flotilla/internal/fleet"
	"flotilla/internal/provisioner"
)

// ReplenishStandby tops up each configured standby pool. Pools that
// replenish immediately count only servers still available for work, so
// a claimed standby is replaced right away; otherwise busy servers still
// count and replacement waits until they are gone.
func (e *Engine) ReplenishStandby(ctx context.Context, state *fleet.State, batch *provisioner.Batch) error {
	for _, spec := range e.cfg.Standby {
		labels := fleet.NewLabelSet(spec.Labels...)

		var have int
		if spec.ReplenishImmediately {
			have = state.CountAvailable(labels)
		} else {
			have = state.CountPresent(labels)
		}
		if have >= spec.Count {
			continue
		}

		e.logger.Info("replenishing standby pool",
			"labels", labels.Join(","),
			"have", have,
			"want", spec.Count,
		)

		for i := have; i < spec.Count; i++ {
			outcome, err := e.createOrRecycle(ctx, state, batch, fleet.StandbyServerName(), labels)
			if err != nil {
				return err
			}
			if outcome == OutcomeExhausted {
				e.logger.Warn("fleet capacity exhausted, standby pool left short",
					"labels", labels.Join(","),
				)
				break
			}
			e.metrics.StandbyReplenished.Inc()
		}
	}
	return nil
}
