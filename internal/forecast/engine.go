// Package forecast implements report acquisition: the report model and
// acceptance heuristics, a rendered-page polling strategy, and a direct
// HTTP strategy.
package forecast

import "context"

// Engine produces a final report from upstream, or an explicit failure.
// Strategies are interchangeable; they share no state between calls.
type Engine interface {
	Fetch(ctx context.Context, p Params) (*Report, error)
}
