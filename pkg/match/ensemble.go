package match

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// WeightTolerance is the allowed deviation of a weight sum from 1.
const WeightTolerance = 1e-6

// NegativePolicy adjusts a raw variant score before normalization.
type NegativePolicy interface {
	Name() string
	Adjust(raw float64) float64
}

// ClampNegative maps negative raw scores to 0.
type ClampNegative struct{}

// Name returns "clamp".
func (ClampNegative) Name() string { return "clamp" }

// Adjust returns raw unchanged; Normalize clamps it afterwards.
func (ClampNegative) Adjust(raw float64) float64 { return raw }

// AbsScaled turns a negative raw score into weak positive evidence of
// |raw| * Scale. Non-negative scores pass through.
type AbsScaled struct {
	Scale float64
}

// Name returns "abs_scaled".
func (AbsScaled) Name() string { return "abs_scaled" }

// Adjust applies the policy.
func (p AbsScaled) Adjust(raw float64) float64 {
	if raw < 0 {
		return math.Abs(raw) * p.Scale
	}
	return raw
}

// DefaultAbsScale is the reference scale of the abs_scaled policy.
const DefaultAbsScale = 0.5

// ParseNegativePolicy builds a policy from its configuration name.
func ParseNegativePolicy(name string, scale float64) (NegativePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "clamp":
		return ClampNegative{}, nil
	case "abs_scaled":
		if scale <= 0 {
			scale = DefaultAbsScale
		}
		return AbsScaled{Scale: scale}, nil
	default:
		return nil, fmt.Errorf("unknown negative policy %q", name)
	}
}

// Variant is one weighted scorer of the enhanced ensemble.
type Variant struct {
	Name   string
	Scorer Scorer
	Weight float64
	// Negative is applied to the raw score before normalization. Nil means clamp.
	Negative NegativePolicy
}

// VariantScore is the per-variant diagnostic of one ensemble evaluation.
type VariantScore struct {
	Name     string  `json:"name"`
	Raw      float64 `json:"raw"`
	Adjusted float64 `json:"adjusted"`
	Weighted float64 `json:"weighted"`
	Error    string  `json:"error,omitempty"`
}

// EnhancedResult is the outcome of the enhanced verification ensemble.
type EnhancedResult struct {
	Composite float64        `json:"composite"`
	Accepted  bool           `json:"accepted"`
	Scores    []VariantScore `json:"scores"`
}

// Ensemble combines several independent scorers with fixed weights.
type Ensemble struct {
	variants  []Variant
	threshold float64
}

// NewEnsemble validates the variants and creates an Ensemble. Weights must be
// non-negative and sum to 1 within WeightTolerance.
func NewEnsemble(variants []Variant, threshold float64) (*Ensemble, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: ensemble has no variants", ErrNoScorer)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: enhanced threshold must be between 0 and 1, got %f", ErrInvalidThresholds, threshold)
	}

	var sum float64
	vs := make([]Variant, len(variants))
	for i, v := range variants {
		if v.Scorer == nil {
			return nil, fmt.Errorf("%w: variant %q", ErrNoScorer, v.Name)
		}
		if v.Weight < 0 {
			return nil, fmt.Errorf("%w: variant %q has negative weight %f", ErrInvalidWeights, v.Name, v.Weight)
		}
		if v.Negative == nil {
			v.Negative = ClampNegative{}
		}
		sum += v.Weight
		vs[i] = v
	}
	if math.Abs(sum-1) > WeightTolerance {
		return nil, fmt.Errorf("%w: ensemble weights sum to %f, want 1", ErrInvalidWeights, sum)
	}

	return &Ensemble{variants: vs, threshold: threshold}, nil
}

// Threshold returns the acceptance threshold.
func (e *Ensemble) Threshold() float64 {
	return e.threshold
}

// Verify runs every variant on the pair. A failing variant contributes 0 and
// does not affect the others.
func (e *Ensemble) Verify(ctx context.Context, query, candidate FaceImage) EnhancedResult {
	log := matchLog()
	result := EnhancedResult{Scores: make([]VariantScore, 0, len(e.variants))}

	for _, v := range e.variants {
		vs := VariantScore{Name: v.Name}

		raw, err := v.Scorer.Score(ctx, query, candidate)
		if err != nil {
			vs.Error = err.Error()
			log.WithField("variant", v.Name).WithError(err).Debug("Ensemble variant failed")
		} else if !math.IsNaN(raw) {
			vs.Raw = raw
			vs.Adjusted = Normalize(v.Negative.Adjust(raw))
		}

		vs.Weighted = vs.Adjusted * v.Weight
		result.Composite += vs.Weighted
		result.Scores = append(result.Scores, vs)
	}

	result.Composite = Normalize(result.Composite)
	result.Accepted = result.Composite >= e.threshold
	return result
}
