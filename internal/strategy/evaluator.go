package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"strategy-core/internal/market"
)

// Evaluator turns (parameters, series) into at most one trade intent.
// It holds no mutable state beyond the registry, so one instance serves
// every worker.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator builds an evaluator backed by registry (a fresh default
// registry when nil).
func NewEvaluator(registry *Registry) *Evaluator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Evaluator{registry: registry}
}

// Registry exposes the custom evaluator registry.
func (e *Evaluator) Registry() *Registry { return e.registry }

// Resolve decodes and validates a stored definition. Unknown types,
// malformed parameters, unregistered custom names and empty symbol lists
// all fail with *ValidationError.
func (e *Evaluator) Resolve(strategyType string, raw json.RawMessage, symbols []string) (Params, error) {
	if len(symbols) == 0 {
		return nil, invalid("symbols", "at least one symbol is required")
	}
	for _, s := range symbols {
		if strings.TrimSpace(s) == "" {
			return nil, invalid("symbols", "empty symbol")
		}
	}

	p, err := DecodeParams(Type(strategyType), raw)
	if err != nil {
		return nil, err
	}
	if c, ok := p.(CustomParams); ok {
		if p, err = e.registry.prepare(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Evaluate runs the evaluator selected by p over bars (oldest first).
// A series shorter than p.MinBars() yields ErrDataUnavailable.
func (e *Evaluator) Evaluate(ctx context.Context, p Params, symbol string, bars []market.Bar) (*Intent, error) {
	if len(bars) < p.MinBars() {
		return nil, fmt.Errorf("%w: %s has %d bars, need %d", ErrDataUnavailable, symbol, len(bars), p.MinBars())
	}

	switch v := p.(type) {
	case MomentumParams:
		return evalMomentum(v, symbol, bars), nil
	case MeanReversionParams:
		return evalMeanReversion(v, symbol, bars), nil
	case CustomParams:
		entry, ok := e.registry.lookup(v.Name)
		if !ok {
			return nil, invalid("name", "no evaluator registered as %q", v.Name)
		}
		return entry.Eval(ctx, v, symbol, bars)
	default:
		return nil, invalid("type", "unsupported parameter record %T", p)
	}
}

func newIntent(side Side, symbol string, p Params, last market.Bar, note string) *Intent {
	return &Intent{
		Symbol:   symbol,
		Side:     side,
		Quantity: p.Qty(),
		Price:    last.Close,
		Note:     note,
	}
}
