package recognition

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"

	"github.com/Kagami/go-face"

	"github.com/MrCodeEU/facecheck/pkg/match"
)

func loaded(t *testing.T, engine *MockFaceEngine) *DlibRecognizer {
	t.Helper()
	r := NewRecognizer()
	r.factory = func(path string) (FaceEngine, error) {
		return engine, nil
	}
	if err := r.LoadModels("dummy"); err != nil {
		t.Fatalf("LoadModels failed: %v", err)
	}
	return r
}

// descriptorsByData answers with a descriptor chosen by the image bytes.
func descriptorsByData(descs map[string]Descriptor) func([]byte) ([]face.Face, error) {
	return func(data []byte) ([]face.Face, error) {
		d, ok := descs[string(data)]
		if !ok {
			return nil, nil
		}
		return []face.Face{{Rectangle: image.Rect(0, 0, 50, 50), Descriptor: d}}, nil
	}
}

func TestNewRecognizer(t *testing.T) {
	rec := NewRecognizer()
	if rec == nil {
		t.Fatal("NewRecognizer returned nil")
	}
	if rec.IsLoaded() {
		t.Error("expected IsLoaded to be false initially")
	}
	if rec.Cache() == nil {
		t.Error("expected a descriptor cache")
	}
}

func TestParseBackend(t *testing.T) {
	for _, s := range []string{"hog", "cnn"} {
		if _, err := ParseBackend(s); err != nil {
			t.Errorf("ParseBackend(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseBackend("yolo"); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestLoadModels(t *testing.T) {
	r := NewRecognizer()
	calls := 0
	r.factory = func(path string) (FaceEngine, error) {
		calls++
		return &MockFaceEngine{}, nil
	}

	if err := r.LoadModels("/tmp/models"); err != nil {
		t.Errorf("LoadModels failed: %v", err)
	}
	if !r.IsLoaded() {
		t.Error("Expected loaded to be true")
	}

	// Load again (should be no-op)
	if err := r.LoadModels("/tmp/models"); err != nil {
		t.Errorf("LoadModels failed on second call: %v", err)
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}
}

func TestLoadModels_Failure(t *testing.T) {
	r := NewRecognizer()
	r.factory = func(path string) (FaceEngine, error) {
		return nil, errors.New("load failed")
	}

	if err := r.LoadModels("/tmp/models"); err == nil {
		t.Error("Expected LoadModels to fail")
	}
	if r.IsLoaded() {
		t.Error("Expected loaded to be false")
	}
}

func TestDetectFaces(t *testing.T) {
	engine := &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			return []face.Face{
				{
					Rectangle:  image.Rect(0, 0, 100, 100),
					Descriptor: face.Descriptor{1, 2, 3},
					Shapes:     []image.Point{{1, 2}, {3, 4}, {5, 6}, {7, 8}, {9, 10}},
				},
			}, nil
		},
	}
	r := loaded(t, engine)

	faces, err := r.DetectFaces(context.Background(), []byte("image"), BackendHOG)
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	if faces[0].BoundingBox.Width != 100 {
		t.Errorf("Expected width 100, got %d", faces[0].BoundingBox.Width)
	}
	if len(faces[0].Landmarks) != 5 || faces[0].Landmarks[4] != (match.Point{X: 9, Y: 10}) {
		t.Errorf("unexpected landmarks %v", faces[0].Landmarks)
	}
}

func TestDetectFaces_Backend(t *testing.T) {
	var hog, cnn int
	engine := &MockFaceEngine{
		RecognizeFunc: func([]byte) ([]face.Face, error) {
			hog++
			return []face.Face{{Rectangle: image.Rect(0, 0, 10, 10)}}, nil
		},
		RecognizeCNNFunc: func([]byte) ([]face.Face, error) {
			cnn++
			return []face.Face{{Rectangle: image.Rect(0, 0, 10, 10)}}, nil
		},
	}
	r := loaded(t, engine)

	_, _ = r.DetectFaces(context.Background(), []byte("x"), BackendCNN)
	_, _ = r.DetectFaces(context.Background(), []byte("x"), BackendHOG)
	if hog != 1 || cnn != 1 {
		t.Errorf("hog=%d cnn=%d, want 1 each", hog, cnn)
	}
}

func TestDetectFaces_NotLoaded(t *testing.T) {
	r := NewRecognizer()
	_, err := r.DetectFaces(context.Background(), []byte("image"), BackendHOG)
	if err != ErrModelNotLoaded {
		t.Errorf("Expected ErrModelNotLoaded, got %v", err)
	}
}

func TestDetectFaces_NoFace(t *testing.T) {
	r := loaded(t, &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			return []face.Face{}, nil
		},
	})

	_, err := r.DetectFaces(context.Background(), []byte("image"), BackendHOG)
	if err != ErrNoFaceDetected {
		t.Errorf("Expected ErrNoFaceDetected, got %v", err)
	}
}

func TestDetectFaces_Error(t *testing.T) {
	r := loaded(t, &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			return nil, errors.New("engine error")
		},
	})

	if _, err := r.DetectFaces(context.Background(), []byte("image"), BackendHOG); err == nil {
		t.Error("Expected error")
	}
}

func TestDetectFaces_Cancelled(t *testing.T) {
	engine := &MockFaceEngine{}
	r := loaded(t, engine)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.DetectFaces(ctx, []byte("image"), BackendHOG); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if engine.Calls != 0 {
		t.Errorf("engine called %d times", engine.Calls)
	}
}

func TestDetectPrimaryFace(t *testing.T) {
	r := loaded(t, &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			return []face.Face{
				{Rectangle: image.Rect(0, 0, 20, 20), Descriptor: face.Descriptor{1}},
				{Rectangle: image.Rect(100, 100, 200, 200), Descriptor: face.Descriptor{2}},
			}, nil
		},
	})

	f, err := r.DetectPrimaryFace(context.Background(), []byte("image"), BackendHOG)
	if err != nil {
		t.Fatalf("DetectPrimaryFace failed: %v", err)
	}
	if f.Descriptor[0] != 2 {
		t.Errorf("expected the largest face, got descriptor %v", f.Descriptor[0])
	}
}

func TestDescribeCaches(t *testing.T) {
	engine := &MockFaceEngine{
		RecognizeFunc: descriptorsByData(map[string]Descriptor{"a": {1}}),
	}
	r := loaded(t, engine)
	img := match.NewFaceImage("a", 1, 1, []byte("a"))

	for i := 0; i < 3; i++ {
		if _, err := r.Describe(context.Background(), img, BackendHOG); err != nil {
			t.Fatalf("Describe failed: %v", err)
		}
	}
	if engine.Calls != 1 {
		t.Errorf("engine called %d times, want 1", engine.Calls)
	}
	hits, misses := r.Cache().Stats()
	if hits != 2 || misses != 1 {
		t.Errorf("hits=%d misses=%d", hits, misses)
	}

	// A different backend is a different cache entry.
	_, _ = r.Describe(context.Background(), img, BackendCNN)
	if engine.Calls != 2 {
		t.Errorf("engine called %d times, want 2", engine.Calls)
	}
}

func TestClose(t *testing.T) {
	closed := false
	r := loaded(t, &MockFaceEngine{
		CloseFunc: func() { closed = true },
	})

	if err := r.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !closed {
		t.Error("Expected engine to be closed")
	}
	if r.IsLoaded() {
		t.Error("Expected loaded to be false")
	}
}

func TestEuclideanDistance(t *testing.T) {
	tests := []struct {
		name     string
		d1       Descriptor
		d2       Descriptor
		expected float64
	}{
		{
			name:     "identical",
			d1:       Descriptor{1, 2, 3},
			d2:       Descriptor{1, 2, 3},
			expected: 0.0,
		},
		{
			name:     "different",
			d1:       Descriptor{1, 2, 3},
			d2:       Descriptor{4, 6, 8},
			expected: 7.0710678, // sqrt(3^2 + 4^2 + 5^2)
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist := EuclideanDistance(tt.d1, tt.d2)
			if math.Abs(dist-tt.expected) > 0.0001 {
				t.Errorf("expected %f, got %f", tt.expected, dist)
			}
		})
	}
}

func TestMetricSimilarity(t *testing.T) {
	a := Descriptor{1, 0}
	b := Descriptor{0, 1}
	c := Descriptor{-1, 0}

	tests := []struct {
		name   string
		metric Metric
		d1, d2 Descriptor
		want   float64
	}{
		{"cosine identical", MetricCosine, a, a, 1},
		{"cosine orthogonal", MetricCosine, a, b, 0.5},
		{"cosine opposite", MetricCosine, a, c, 0},
		{"raw opposite", MetricCosineRaw, a, c, -1},
		{"raw orthogonal", MetricCosineRaw, a, b, 0},
		{"euclidean identical", MetricEuclidean, a, a, 1},
		{"euclidean far", MetricEuclidean, a, c, -1},
		{"zero vector", MetricCosineRaw, Descriptor{}, a, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.metric.Similarity(tt.d1, tt.d2); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := ParseMetric("manhattan"); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestDescriptorScorer(t *testing.T) {
	engine := &MockFaceEngine{
		RecognizeFunc: descriptorsByData(map[string]Descriptor{
			"alice":   {0.1, 0.2},
			"alice-2": {0.1, 0.25},
		}),
	}
	r := loaded(t, engine)
	s := NewDescriptorScorer(r, BackendHOG, MetricEuclidean)

	if s.Name() != "dlib-hog-euclidean" {
		t.Errorf("name = %s", s.Name())
	}

	alice := match.NewFaceImage("alice", 1, 1, []byte("alice"))
	alice2 := match.NewFaceImage("alice-2", 1, 1, []byte("alice-2"))
	nobody := match.NewFaceImage("nobody", 1, 1, []byte("nobody"))

	got, err := s.Score(context.Background(), alice, alice2)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if math.Abs(got-0.95) > 1e-6 {
		t.Errorf("score = %v, want 0.95", got)
	}

	if _, err := s.Score(context.Background(), alice, nobody); !errors.Is(err, ErrNoFaceDetected) {
		t.Errorf("expected ErrNoFaceDetected, got %v", err)
	}
}

func TestLandmarkDetector(t *testing.T) {
	shapes := []image.Point{{10, 10}, {20, 10}, {40, 10}, {50, 10}, {30, 30}}
	r := loaded(t, &MockFaceEngine{
		RecognizeCNNFunc: func(data []byte) ([]face.Face, error) {
			if string(data) == "empty" {
				return nil, nil
			}
			if string(data) == "broken" {
				return nil, errors.New("bad jpeg")
			}
			return []face.Face{{Rectangle: image.Rect(0, 0, 60, 60), Shapes: shapes}}, nil
		},
	})
	d := NewLandmarkDetector(r, BackendCNN)

	pts, err := d.Landmarks(context.Background(), match.NewFaceImage("a", 1, 1, []byte("face")))
	if err != nil || len(pts) != 5 {
		t.Errorf("expected 5 landmarks, got %v (%v)", pts, err)
	}

	pts, err = d.Landmarks(context.Background(), match.NewFaceImage("b", 1, 1, []byte("empty")))
	if err != nil || pts != nil {
		t.Errorf("expected no landmarks and no error, got %v (%v)", pts, err)
	}

	if _, err := d.Landmarks(context.Background(), match.NewFaceImage("c", 1, 1, []byte("broken"))); err == nil {
		t.Error("expected detector error")
	}
}

func jpegFace(t *testing.T, shade uint8, flip bool) match.FaceImage {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			v := uint8(x*8) + shade
			if flip {
				v = uint8((31-x)*8) + shade
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	return match.NewFaceImage("face", 32, 32, buf.Bytes())
}

func TestPerceptualScorer(t *testing.T) {
	s := NewPerceptualScorer(HashDifference)
	if s.Name() != "dhash-hamming" {
		t.Errorf("name = %s", s.Name())
	}

	a := jpegFace(t, 0, false)
	same, err := s.Score(context.Background(), a, a)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if same != 1 {
		t.Errorf("identical images scored %v, want 1", same)
	}

	flipped, err := s.Score(context.Background(), a, jpegFace(t, 0, true))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if flipped >= same {
		t.Errorf("mirrored gradient scored %v, expected less than %v", flipped, same)
	}

	bad := match.NewFaceImage("bad", 1, 1, []byte("not an image"))
	if _, err := s.Score(context.Background(), a, bad); err == nil {
		t.Error("expected error for undecodable image")
	}
}

func TestPerceptualScorerEvictsOldest(t *testing.T) {
	s := NewPerceptualScorer(HashAverage)
	s.max = 2

	faces := []match.FaceImage{jpegFace(t, 0, false), jpegFace(t, 0, true), jpegFace(t, 3, false)}
	for _, f := range faces {
		if _, err := s.Score(context.Background(), f, f); err != nil {
			t.Fatalf("Score failed: %v", err)
		}
	}

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if _, ok := s.hashes[faces[0].Digest()]; ok {
		t.Error("oldest hash was not evicted")
	}
	if _, ok := s.hashes[faces[2].Digest()]; !ok {
		t.Error("newest hash missing")
	}
}
