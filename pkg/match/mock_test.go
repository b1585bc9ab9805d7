package match

import (
	"context"
	"sync"
)

// MockScorer returns scores keyed by candidate ref and counts calls.
type MockScorer struct {
	ScoreFunc func(ctx context.Context, a, b FaceImage) (float64, error)

	mu    sync.Mutex
	calls int
}

func (m *MockScorer) Score(ctx context.Context, a, b FaceImage) (float64, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, a, b)
	}
	return 0, nil
}

func (m *MockScorer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// byRef builds a MockScorer that looks up the candidate ref in scores.
func byRef(scores map[string]float64) *MockScorer {
	return &MockScorer{
		ScoreFunc: func(_ context.Context, _, b FaceImage) (float64, error) {
			return scores[b.Ref()], nil
		},
	}
}

func constant(v float64) *MockScorer {
	return &MockScorer{
		ScoreFunc: func(context.Context, FaceImage, FaceImage) (float64, error) {
			return v, nil
		},
	}
}

func failing(err error) *MockScorer {
	return &MockScorer{
		ScoreFunc: func(context.Context, FaceImage, FaceImage) (float64, error) {
			return 0, err
		},
	}
}

// MockLandmarkDetector returns landmarks keyed by image ref.
type MockLandmarkDetector struct {
	LandmarksFunc func(ctx context.Context, img FaceImage) ([]Point, error)
}

func (m *MockLandmarkDetector) Landmarks(ctx context.Context, img FaceImage) ([]Point, error) {
	if m.LandmarksFunc != nil {
		return m.LandmarksFunc(ctx, img)
	}
	return nil, nil
}

func img(ref string) FaceImage {
	return NewFaceImage(ref, 2, 2, []byte(ref))
}

func gallery(ids ...string) []GalleryEntry {
	entries := make([]GalleryEntry, len(ids))
	for i, id := range ids {
		entries[i] = GalleryEntry{ID: id, Image: img(id)}
	}
	return entries
}

func testThresholds() Thresholds {
	return Thresholds{First: 0.6, Second: 0.5, GrayZoneLower: 0.42, Enhanced: 0.55}
}
