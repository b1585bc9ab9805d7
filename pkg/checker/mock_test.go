package checker

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/MrCodeEU/facecheck/pkg/match"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
)

// MockRecognizer implements Recognizer for testing
type MockRecognizer struct {
	DescribeFunc          func(ctx context.Context, img match.FaceImage, backend recognition.Backend) (recognition.Descriptor, error)
	DetectPrimaryFaceFunc func(ctx context.Context, data []byte, backend recognition.Backend) (*recognition.Face, error)
	LoadModelsFunc        func(path string) error
	CloseFunc             func() error

	describeCalls atomic.Int64
	closed        atomic.Bool
}

func (m *MockRecognizer) Describe(ctx context.Context, img match.FaceImage, backend recognition.Backend) (recognition.Descriptor, error) {
	m.describeCalls.Add(1)
	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, img, backend)
	}
	return recognition.Descriptor{}, nil
}

func (m *MockRecognizer) DetectPrimaryFace(ctx context.Context, data []byte, backend recognition.Backend) (*recognition.Face, error) {
	if m.DetectPrimaryFaceFunc != nil {
		return m.DetectPrimaryFaceFunc(ctx, data, backend)
	}
	return &recognition.Face{Landmarks: fivePoints()}, nil
}

func (m *MockRecognizer) LoadModels(path string) error {
	if m.LoadModelsFunc != nil {
		return m.LoadModelsFunc(path)
	}
	return nil
}

func (m *MockRecognizer) Close() error {
	m.closed.Store(true)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// fivePoints is a plausible dlib 5-point face.
func fivePoints() []match.Point {
	return []match.Point{
		{X: 70, Y: 40}, {X: 55, Y: 40},
		{X: 25, Y: 40}, {X: 40, Y: 40},
		{X: 48, Y: 75},
	}
}

// identities describes every image whose ref contains a key with that key's
// descriptor. Unknown images get a descriptor far from all of them.
func identities(keys ...string) func(context.Context, match.FaceImage, recognition.Backend) (recognition.Descriptor, error) {
	return func(_ context.Context, img match.FaceImage, _ recognition.Backend) (recognition.Descriptor, error) {
		var d recognition.Descriptor
		for i, k := range keys {
			if strings.Contains(img.Ref(), k) {
				d[i] = float32(5 * (i + 1))
				return d, nil
			}
		}
		d[len(d)-1] = 100
		return d, nil
	}
}
