package turn

import (
	"github.com/pkg/errors"
)

const (
	MinMaxOutputTokens = 1
	MaxMaxOutputTokens = 2048

	MinTemperature = 0.0
	MaxTemperature = 2.0

	DefaultMaxOutputTokens = 256
	DefaultTemperature     = 1.0
)

var ErrInvalidParams = errors.New("invalid generation parameters")

// Params are the per-call generation parameters. They are never persisted.
type Params struct {
	MaxOutputTokens int     `json:"max_output_tokens" yaml:"max_output_tokens"`
	Temperature     float64 `json:"temperature" yaml:"temperature"`
}

func DefaultParams() Params {
	return Params{
		MaxOutputTokens: DefaultMaxOutputTokens,
		Temperature:     DefaultTemperature,
	}
}

// Validate rejects out-of-range values. Values are never clamped.
func (p Params) Validate() error {
	if p.MaxOutputTokens < MinMaxOutputTokens || p.MaxOutputTokens > MaxMaxOutputTokens {
		return errors.Wrapf(ErrInvalidParams,
			"max_output_tokens %d out of range [%d, %d]", p.MaxOutputTokens, MinMaxOutputTokens, MaxMaxOutputTokens)
	}
	// the negated form also rejects NaN
	if !(p.Temperature >= MinTemperature && p.Temperature <= MaxTemperature) {
		return errors.Wrapf(ErrInvalidParams,
			"temperature %g out of range [%g, %g]", p.Temperature, MinTemperature, MaxTemperature)
	}
	return nil
}
