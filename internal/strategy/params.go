package strategy

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// DefaultQuantity applies when a strategy does not configure one.
var DefaultQuantity = decimal.NewFromInt(10)

// Params is the typed parameter record of one strategy type.
type Params interface {
	Kind() Type
	// MinBars is the shortest series the evaluator accepts.
	MinBars() int
	Qty() decimal.Decimal
	Validate() error
}

// MomentumParams drives the RSI + MACD evaluator.
type MomentumParams struct {
	Quantity   decimal.Decimal `json:"quantity"`
	RSIPeriod  int             `json:"rsi_period"`
	Oversold   float64         `json:"oversold"`
	Overbought float64         `json:"overbought"`
	MACDFast   int             `json:"macd_fast"`
	MACDSlow   int             `json:"macd_slow"`
	MACDSignal int             `json:"macd_signal"`
}

func (p MomentumParams) Kind() Type           { return TypeMomentum }
func (p MomentumParams) Qty() decimal.Decimal { return p.Quantity }

func (p MomentumParams) MinBars() int {
	n := 50
	if need := p.MACDSlow + p.MACDSignal; need > n {
		n = need
	}
	if p.RSIPeriod+1 > n {
		n = p.RSIPeriod + 1
	}
	return n
}

func (p *MomentumParams) applyDefaults(quantitySet bool) {
	if !quantitySet {
		p.Quantity = DefaultQuantity
	}
	if p.RSIPeriod == 0 {
		p.RSIPeriod = 14
	}
	if p.Oversold == 0 {
		p.Oversold = 30
	}
	if p.Overbought == 0 {
		p.Overbought = 70
	}
	if p.MACDFast == 0 {
		p.MACDFast = 12
	}
	if p.MACDSlow == 0 {
		p.MACDSlow = 26
	}
	if p.MACDSignal == 0 {
		p.MACDSignal = 9
	}
}

func (p MomentumParams) Validate() error {
	if !p.Quantity.IsPositive() {
		return invalid("quantity", "must be > 0")
	}
	if p.RSIPeriod < 2 {
		return invalid("rsi_period", "must be >= 2")
	}
	if p.Oversold <= 0 || p.Overbought >= 100 || p.Oversold >= p.Overbought {
		return invalid("oversold", "need 0 < oversold < overbought < 100")
	}
	if p.MACDFast <= 0 || p.MACDSignal <= 0 || p.MACDFast >= p.MACDSlow {
		return invalid("macd_fast", "need 0 < macd_fast < macd_slow and macd_signal > 0")
	}
	return nil
}

// MeanReversionParams drives the Bollinger band evaluator.
type MeanReversionParams struct {
	Quantity decimal.Decimal `json:"quantity"`
	Period   int             `json:"period"`
	StdDev   float64         `json:"std_dev"`
}

func (p MeanReversionParams) Kind() Type           { return TypeMeanReversion }
func (p MeanReversionParams) Qty() decimal.Decimal { return p.Quantity }

func (p MeanReversionParams) MinBars() int {
	if p.Period > 20 {
		return p.Period
	}
	return 20
}

func (p *MeanReversionParams) applyDefaults(quantitySet bool) {
	if !quantitySet {
		p.Quantity = DefaultQuantity
	}
	if p.Period == 0 {
		p.Period = 20
	}
	if p.StdDev == 0 {
		p.StdDev = 2
	}
}

func (p MeanReversionParams) Validate() error {
	if !p.Quantity.IsPositive() {
		return invalid("quantity", "must be > 0")
	}
	if p.Period < 2 {
		return invalid("period", "must be >= 2")
	}
	if p.StdDev <= 0 {
		return invalid("std_dev", "must be > 0")
	}
	return nil
}

// CustomParams selects a registered evaluator by name. Options are passed
// through untouched.
type CustomParams struct {
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Options  map[string]any  `json:"options"`

	minBars int
}

func (p CustomParams) Kind() Type           { return TypeCustom }
func (p CustomParams) Qty() decimal.Decimal { return p.Quantity }
func (p CustomParams) MinBars() int         { return p.minBars }

func (p *CustomParams) applyDefaults(quantitySet bool) {
	if !quantitySet {
		p.Quantity = DefaultQuantity
	}
}

func (p CustomParams) Validate() error {
	if p.Name == "" {
		return invalid("name", "custom strategies must name a registered evaluator")
	}
	if !p.Quantity.IsPositive() {
		return invalid("quantity", "must be > 0")
	}
	return nil
}

// OptionInt reads an integer option with a fallback.
func (p CustomParams) OptionInt(key string, def int) int {
	switch v := p.Options[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

// DecodeParams turns a stored JSON object into the typed record for t and
// fills defaults. It does not consult the custom registry.
func DecodeParams(t Type, raw json.RawMessage) (Params, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, invalid("parameters", "must be a JSON object: %v", err)
	}
	_, set := keys["quantity"]
	switch t {
	case TypeMomentum:
		var p MomentumParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, invalid("parameters", "%v", err)
		}
		p.applyDefaults(set)
		return p, p.Validate()
	case TypeMeanReversion:
		var p MeanReversionParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, invalid("parameters", "%v", err)
		}
		p.applyDefaults(set)
		return p, p.Validate()
	case TypeCustom:
		var p CustomParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, invalid("parameters", "%v", err)
		}
		p.applyDefaults(set)
		return p, p.Validate()
	default:
		return nil, invalid("type", "unknown strategy type %q", t)
	}
}
