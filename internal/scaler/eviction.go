package scaler

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"

	"flotilla/internal/fleet"
)

// pickVictim chooses which recyclable server to evict. Without a price
// table the choice is uniform random; with one, the cheapest server is
// evicted so the most expensive capacity stays available for reuse.
func (e *Engine) pickVictim(recyclables []*fleet.RunnerServer) *fleet.RunnerServer {
	if len(e.cfg.Scaling.ServerPrices) == 0 {
		return recyclables[rand.IntN(len(recyclables))]
	}

	sorted := slices.Clone(recyclables)
	slices.SortStableFunc(sorted, func(a, b *fleet.RunnerServer) int {
		return cmp.Compare(e.priceOf(b), e.priceOf(a))
	})
	return sorted[len(sorted)-1]
}

// priceOf looks up the hourly price of a server's type. Unknown types
// sort as infinitely expensive so they are never evicted by mistake.
func (e *Engine) priceOf(s *fleet.RunnerServer) float64 {
	price, ok := e.cfg.Scaling.ServerPrices[s.ServerType]
	if !ok {
		e.logger.Error("no price configured for server type", "server_type", s.ServerType, "name", s.Name)
		return math.Inf(1)
	}
	return price
}
