package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"strategy-core/pkg/db"
)

// Type names a family of evaluators.
type Type string

const (
	TypeMomentum      Type = "momentum"
	TypeMeanReversion Type = "mean_reversion"
	TypeCustom        Type = "custom"
)

// Side is the direction of a trade intent.
type Side string

const (
	SideBuy  Side = db.SideBuy
	SideSell Side = db.SideSell
)

// Intent is a trade the evaluator wants executed.
type Intent struct {
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Note     string          `json:"note,omitempty"`
}

// ErrDataUnavailable means the series is too short to evaluate. Jobs treat
// it as a skip, not a failure.
var ErrDataUnavailable = errors.New("data unavailable")

// ValidationError rejects a malformed strategy definition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
