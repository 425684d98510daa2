package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"strategy-core/internal/market"
)

// EvaluatorFunc is the contract every custom evaluator honours: pure, and
// deterministic for identical inputs. A nil intent means "no trade". ctx
// carries the job deadline.
type EvaluatorFunc func(ctx context.Context, p CustomParams, symbol string, bars []market.Bar) (*Intent, error)

// CustomEvaluator describes a registered custom evaluator.
type CustomEvaluator struct {
	Eval EvaluatorFunc
	// MinBars is the shortest series Eval accepts when Prepare is nil.
	MinBars int
	// Prepare validates options at activation and returns the shortest
	// series Eval accepts for them. Optional.
	Prepare func(p CustomParams) (minBars int, err error)
}

// Registry maps custom evaluator names to their functions.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]CustomEvaluator
}

// NewRegistry returns a registry preloaded with the built-in custom
// evaluators.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]CustomEvaluator)}
	_ = r.Register("breakout", CustomEvaluator{Eval: Breakout, Prepare: PrepareBreakout})
	return r
}

// Register adds ce under name.
func (r *Registry) Register(name string, ce CustomEvaluator) error {
	if name == "" || ce.Eval == nil {
		return fmt.Errorf("register evaluator: name and func are required")
	}
	if ce.MinBars < 1 {
		ce.MinBars = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("register evaluator: %q already registered", name)
	}
	r.entries[name] = ce
	return nil
}

func (r *Registry) lookup(name string) (CustomEvaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// prepare validates p against its registered evaluator and fills minBars.
func (r *Registry) prepare(p CustomParams) (CustomParams, error) {
	entry, found := r.lookup(p.Name)
	if !found {
		return p, invalid("name", "no evaluator registered as %q", p.Name)
	}
	p.minBars = entry.MinBars
	if entry.Prepare == nil {
		return p, nil
	}
	n, err := entry.Prepare(p)
	if err != nil {
		return p, err
	}
	if n > p.minBars {
		p.minBars = n
	}
	return p, nil
}

// Names lists registered evaluators in alphabetical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
