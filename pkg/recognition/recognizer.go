// Package recognition provides dlib (go-face) backed similarity scorers and
// landmark detection for the match engine.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/match"
)

// Backend selects the dlib face detector.
type Backend string

const (
	// BackendHOG is the fast HOG frontal face detector.
	BackendHOG Backend = "hog"
	// BackendCNN is the slower MMOD CNN detector. Needs mmod_human_face_detector.dat.
	BackendCNN Backend = "cnn"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendHOG, BackendCNN:
		return Backend(s), nil
	}
	return "", fmt.Errorf("unknown detector backend %q", s)
}

// Face represents a detected face in an image.
type Face struct {
	BoundingBox Rectangle
	Landmarks   []match.Point
	Descriptor  Descriptor
}

// Rectangle represents a bounding box.
type Rectangle struct {
	X, Y          int
	Width, Height int
}

// Area returns the box area in pixels.
func (r Rectangle) Area() int {
	return r.Width * r.Height
}

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// FaceEngine is the subset of the go-face recognizer used here.
type FaceEngine interface {
	Recognize(data []byte) ([]face.Face, error)
	RecognizeCNN(data []byte) ([]face.Face, error)
	Close()
}

func newDlibEngine(path string) (FaceEngine, error) {
	rec, err := face.NewRecognizer(path)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DlibRecognizer implements face detection and description using dlib via go-face.
// The underlying engine is not safe for concurrent use, so calls into it are serialized.
type DlibRecognizer struct {
	engine    FaceEngine
	factory   func(path string) (FaceEngine, error)
	modelPath string
	loaded    bool
	mu        sync.RWMutex
	engineMu  sync.Mutex
	cache     *DescriptorCache
}

// NewRecognizer creates a new DlibRecognizer instance.
func NewRecognizer() *DlibRecognizer {
	return &DlibRecognizer{
		factory: newDlibEngine,
		cache:   NewDescriptorCache(DefaultCacheSize),
	}
}

// LoadModels loads the dlib models from the specified path.
// The path should contain:
// - shape_predictor_5_face_landmarks.dat
// - dlib_face_recognition_resnet_model_v1.dat
// - mmod_human_face_detector.dat (for the cnn backend)
func (r *DlibRecognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	engine, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.engine = engine
	r.modelPath = modelPath
	r.loaded = true

	logging.Info("Face recognition models loaded successfully")
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibRecognizer) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Cache returns the descriptor cache.
func (r *DlibRecognizer) Cache() *DescriptorCache {
	return r.cache
}

// Close releases the recognizer resources.
func (r *DlibRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		r.engineMu.Lock()
		r.engine.Close()
		r.engineMu.Unlock()
		r.engine = nil
	}
	r.loaded = false
	r.cache.Clear()
	return nil
}

// DetectFaces detects all faces in a JPEG image with the given backend.
func (r *DlibRecognizer) DetectFaces(ctx context.Context, imageData []byte, backend Backend) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	var (
		faces []face.Face
		err   error
	)
	r.engineMu.Lock()
	switch backend {
	case BackendCNN:
		faces, err = r.engine.RecognizeCNN(imageData)
	default:
		faces, err = r.engine.Recognize(imageData)
	}
	r.engineMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	result := make([]Face, len(faces))
	for i, f := range faces {
		result[i] = Face{
			BoundingBox: toRectangle(f.Rectangle),
			Landmarks:   toPoints(f.Shapes),
			Descriptor:  f.Descriptor,
		}
	}

	logging.Debugf("Detected %d face(s) in image (%s)", len(result), backend)
	return result, nil
}

// DetectPrimaryFace returns the largest face in the image. Gallery crops can
// contain parts of neighbouring faces; the largest one is the subject.
func (r *DlibRecognizer) DetectPrimaryFace(ctx context.Context, imageData []byte, backend Backend) (*Face, error) {
	faces, err := r.DetectFaces(ctx, imageData, backend)
	if err != nil {
		return nil, err
	}

	best := 0
	for i := 1; i < len(faces); i++ {
		if faces[i].BoundingBox.Area() > faces[best].BoundingBox.Area() {
			best = i
		}
	}
	return &faces[best], nil
}

// Describe returns the descriptor of the primary face of img, served from the
// cache when the same image was described with the same backend before.
func (r *DlibRecognizer) Describe(ctx context.Context, img match.FaceImage, backend Backend) (Descriptor, error) {
	key := cacheKey{digest: img.Digest(), backend: backend}
	if d, ok := r.cache.get(key); ok {
		return d, nil
	}

	f, err := r.DetectPrimaryFace(ctx, img.Bytes(), backend)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", img.Ref(), err)
	}

	r.cache.put(key, f.Descriptor)
	return f.Descriptor, nil
}

func toRectangle(rect image.Rectangle) Rectangle {
	return Rectangle{
		X:      rect.Min.X,
		Y:      rect.Min.Y,
		Width:  rect.Dx(),
		Height: rect.Dy(),
	}
}

func toPoints(shapes []image.Point) []match.Point {
	if len(shapes) == 0 {
		return nil
	}
	pts := make([]match.Point, len(shapes))
	for i, p := range shapes {
		pts[i] = match.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return pts
}
