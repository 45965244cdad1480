// Package confidence computes normalized task-level confidence scores from
// a weighted breakdown of independent risk dimensions.
//
// Scoring is a pure function: no I/O and no side effects, so the same
// breakdown always produces the same score. The replay engine relies on
// this to compare historical and replayed runs through identical logic.
package confidence

import (
	"errors"
	"fmt"
)

// ErrInvalidInput indicates an out-of-range or malformed confidence
// breakdown. Out-of-range dimensions fail loudly instead of being clamped
// so that upstream bugs surface immediately.
var ErrInvalidInput = errors.New("invalid confidence input")

// Breakdown holds the five risk dimensions, each in [0,1].
type Breakdown struct {
	DataCompleteness float64 `json:"data_completeness"`
	RiskAssessment   float64 `json:"risk_assessment"`
	PolicyCompliance float64 `json:"policy_compliance"`
	CapabilityMatch  float64 `json:"capability_match"`
	ContextQuality   float64 `json:"context_quality"`
}

// Weights assigns one weight per dimension. Weights must sum to a positive
// value; the score is the weighted mean.
type Weights struct {
	DataCompleteness float64
	RiskAssessment   float64
	PolicyCompliance float64
	CapabilityMatch  float64
	ContextQuality   float64
}

// DefaultWeights weighs all five dimensions equally.
var DefaultWeights = Weights{
	DataCompleteness: 0.2,
	RiskAssessment:   0.2,
	PolicyCompliance: 0.2,
	CapabilityMatch:  0.2,
	ContextQuality:   0.2,
}

// Score summarizes a breakdown as a value in [0,1], never set independently
// of the breakdown it claims to summarize.
type Score struct {
	Value     float64   `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
}

// Compute scores a breakdown with the default equal weights.
func Compute(b Breakdown) (Score, error) {
	return ComputeWeighted(b, DefaultWeights)
}

// ComputeWeighted scores a breakdown with explicit weights. Every dimension
// must be in [0,1]; violations return ErrInvalidInput naming the dimension.
func ComputeWeighted(b Breakdown, w Weights) (Score, error) {
	dims := []struct {
		name   string
		value  float64
		weight float64
	}{
		{"data_completeness", b.DataCompleteness, w.DataCompleteness},
		{"risk_assessment", b.RiskAssessment, w.RiskAssessment},
		{"policy_compliance", b.PolicyCompliance, w.PolicyCompliance},
		{"capability_match", b.CapabilityMatch, w.CapabilityMatch},
		{"context_quality", b.ContextQuality, w.ContextQuality},
	}

	var weightSum, total float64
	for _, d := range dims {
		if d.value < 0 || d.value > 1 {
			return Score{}, fmt.Errorf("%w: %s %.3f outside [0,1]", ErrInvalidInput, d.name, d.value)
		}
		if d.weight < 0 {
			return Score{}, fmt.Errorf("%w: negative weight for %s", ErrInvalidInput, d.name)
		}
		total += d.value * d.weight
		weightSum += d.weight
	}
	if weightSum == 0 {
		return Score{}, fmt.Errorf("%w: weights sum to zero", ErrInvalidInput)
	}

	return Score{Value: total / weightSum, Breakdown: b}, nil
}
