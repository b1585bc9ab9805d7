package recognition

import (
	"context"
	"fmt"

	"github.com/MrCodeEU/facecheck/pkg/match"
)

// Describer produces a face descriptor for an image.
type Describer interface {
	Describe(ctx context.Context, img match.FaceImage, backend Backend) (Descriptor, error)
}

// DescriptorScorer scores two faces by comparing their dlib descriptors.
type DescriptorScorer struct {
	describer Describer
	backend   Backend
	metric    Metric
}

// NewDescriptorScorer creates a scorer for one (detector backend, metric) pair.
func NewDescriptorScorer(d Describer, backend Backend, metric Metric) *DescriptorScorer {
	return &DescriptorScorer{describer: d, backend: backend, metric: metric}
}

// Name identifies the scorer, e.g. "dlib-hog-euclidean".
func (s *DescriptorScorer) Name() string {
	return fmt.Sprintf("dlib-%s-%s", s.backend, s.metric)
}

// Backend returns the detector backend.
func (s *DescriptorScorer) Backend() Backend {
	return s.backend
}

// Score implements match.Scorer.
func (s *DescriptorScorer) Score(ctx context.Context, a, b match.FaceImage) (float64, error) {
	da, err := s.describer.Describe(ctx, a, s.backend)
	if err != nil {
		return 0, err
	}
	db, err := s.describer.Describe(ctx, b, s.backend)
	if err != nil {
		return 0, err
	}
	return s.metric.Similarity(da, db), nil
}
