package checker

import (
	"fmt"

	"github.com/MrCodeEU/facecheck/pkg/config"
	"github.com/MrCodeEU/facecheck/pkg/match"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
)

// NewScorer builds the descriptor scorer selected by sc.
func NewScorer(rec recognition.Describer, sc config.ScorerConfig) (*recognition.DescriptorScorer, error) {
	backend, err := recognition.ParseBackend(sc.Detector)
	if err != nil {
		return nil, err
	}
	metric, err := recognition.ParseMetric(sc.Metric)
	if err != nil {
		return nil, err
	}
	return recognition.NewDescriptorScorer(rec, backend, metric), nil
}

// BuildVariants builds the ensemble variants of cfg.
func BuildVariants(cfg *config.Config, rec recognition.Describer) ([]match.Variant, error) {
	variants := make([]match.Variant, 0, len(cfg.Ensemble.Variants))
	for _, vc := range cfg.Ensemble.Variants {
		var scorer match.Scorer
		switch vc.Kind {
		case config.KindDescriptor:
			s, err := NewScorer(rec, config.ScorerConfig{Detector: vc.Detector, Metric: vc.Metric})
			if err != nil {
				return nil, fmt.Errorf("variant %s: %w", vc.Name, err)
			}
			scorer = s
		case config.KindPerceptual:
			kind, err := recognition.ParseHashKind(vc.Hash)
			if err != nil {
				return nil, fmt.Errorf("variant %s: %w", vc.Name, err)
			}
			scorer = recognition.NewPerceptualScorer(kind)
		default:
			return nil, fmt.Errorf("variant %s: unknown kind %q", vc.Name, vc.Kind)
		}

		policy, err := match.ParseNegativePolicy(vc.Negative, vc.Scale)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", vc.Name, err)
		}
		variants = append(variants, match.Variant{
			Name:     vc.Name,
			Scorer:   scorer,
			Weight:   vc.Weight,
			Negative: policy,
		})
	}
	return variants, nil
}

// BuildMatcher wires classifier, ensemble and geometry verifier into a matcher.
func BuildMatcher(cfg *config.Config, rec Recognizer) (*match.Matcher, error) {
	primary, err := NewScorer(rec, cfg.Recognition.Primary)
	if err != nil {
		return nil, fmt.Errorf("primary scorer: %w", err)
	}
	secondary, err := NewScorer(rec, cfg.Recognition.Secondary)
	if err != nil {
		return nil, fmt.Errorf("secondary scorer: %w", err)
	}
	classifier, err := match.NewClassifier(primary, secondary, cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	variants, err := BuildVariants(cfg, rec)
	if err != nil {
		return nil, err
	}
	ensemble, err := match.NewEnsemble(variants, cfg.Thresholds.Enhanced)
	if err != nil {
		return nil, err
	}

	var geometry *match.GeometryVerifier
	if cfg.Geometry.Enabled {
		backend, err := recognition.ParseBackend(cfg.Geometry.Detector)
		if err != nil {
			return nil, fmt.Errorf("geometry: %w", err)
		}
		geometry, err = match.NewGeometryVerifier(recognition.NewLandmarkDetector(rec, backend), cfg.GeometrySettings())
		if err != nil {
			return nil, err
		}
	}

	return match.NewMatcher(classifier, ensemble, geometry, match.MatcherOptions{
		GeometryOnEnhanced: cfg.Geometry.ApplyToEnhanced,
	})
}
