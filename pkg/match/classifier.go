package match

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/logging"
)

// Thresholds holds the cascade and ensemble acceptance thresholds.
// All values are in [0,1] and compared inclusively.
type Thresholds struct {
	First         float64 `json:"first" yaml:"first_threshold"`
	Second        float64 `json:"second" yaml:"second_threshold"`
	GrayZoneLower float64 `json:"gray_zone_lower" yaml:"gray_zone_lower_threshold"`
	Enhanced      float64 `json:"enhanced" yaml:"enhanced_verification_threshold"`
}

// DefaultThresholds returns the reference thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		First:         0.6,
		Second:        0.5,
		GrayZoneLower: 0.42,
		Enhanced:      0.55,
	}
}

// Validate checks GrayZoneLower <= Second <= First and that every value is in [0,1].
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"first_threshold":                 t.First,
		"second_threshold":                t.Second,
		"gray_zone_lower_threshold":       t.GrayZoneLower,
		"enhanced_verification_threshold": t.Enhanced,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1, got %f", ErrInvalidThresholds, name, v)
		}
	}
	if t.GrayZoneLower > t.Second || t.Second > t.First {
		return fmt.Errorf("%w: need gray_zone_lower (%.3f) <= second (%.3f) <= first (%.3f)",
			ErrInvalidThresholds, t.GrayZoneLower, t.Second, t.First)
	}
	return nil
}

// Classifier applies the two-tier primary/secondary threshold cascade.
type Classifier struct {
	primary    Scorer
	secondary  Scorer
	thresholds Thresholds
}

// NewClassifier creates a Classifier after validating the thresholds.
func NewClassifier(primary, secondary Scorer, thresholds Thresholds) (*Classifier, error) {
	if primary == nil || secondary == nil {
		return nil, ErrNoScorer
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		primary:    primary,
		secondary:  secondary,
		thresholds: thresholds,
	}, nil
}

// Thresholds returns the configured thresholds.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify scores one (query, candidate) pair. The secondary scorer is only
// consulted when the primary score reaches the first threshold.
func (c *Classifier) Classify(ctx context.Context, query, candidate FaceImage) ScoreSample {
	var sample ScoreSample

	sample.PrimaryScore = score(ctx, "primary", c.primary, query, candidate)

	switch {
	case sample.PrimaryScore < c.thresholds.GrayZoneLower:
		sample.Classification = Rejected
	case sample.PrimaryScore >= c.thresholds.First:
		sample.SecondaryScore = score(ctx, "secondary", c.secondary, query, candidate)
		if sample.SecondaryScore >= c.thresholds.Second {
			sample.Classification = Definite
		} else {
			sample.Classification = GrayZone
		}
	default:
		sample.Classification = GrayZone
	}

	if sample.SecondaryScore > 0 {
		sample.CompositeScore = (sample.PrimaryScore + sample.SecondaryScore) / 2
	} else {
		sample.CompositeScore = sample.PrimaryScore
	}

	return sample
}

// score runs a scorer and normalizes the result. Scorer errors count as 0.
func score(ctx context.Context, name string, s Scorer, a, b FaceImage) float64 {
	raw, err := s.Score(ctx, a, b)
	if err != nil {
		matchLog().WithFields(logging.Fields{
			"scorer":    name,
			"query":     a.Ref(),
			"candidate": b.Ref(),
		}).WithError(err).Debug("Scorer failed, treating pair as non-matching")
		return 0
	}
	return Normalize(raw)
}

func matchLog() *logrus.Entry {
	return logging.Component("match")
}
