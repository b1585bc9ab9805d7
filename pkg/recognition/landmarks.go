package recognition

import (
	"context"
	"errors"

	"github.com/MrCodeEU/facecheck/pkg/match"
)

// FaceDetector finds the primary face of an image. *DlibRecognizer implements it.
type FaceDetector interface {
	DetectPrimaryFace(ctx context.Context, imageData []byte, backend Backend) (*Face, error)
}

// LandmarkDetector reports the shape predictor landmarks of the primary face.
// It implements match.LandmarkDetector.
type LandmarkDetector struct {
	faces   FaceDetector
	backend Backend
}

// NewLandmarkDetector creates a LandmarkDetector using the given detector backend.
func NewLandmarkDetector(faces FaceDetector, backend Backend) *LandmarkDetector {
	return &LandmarkDetector{faces: faces, backend: backend}
}

// Landmarks returns nil without error when no face is found.
func (d *LandmarkDetector) Landmarks(ctx context.Context, img match.FaceImage) ([]match.Point, error) {
	f, err := d.faces.DetectPrimaryFace(ctx, img.Bytes(), d.backend)
	if errors.Is(err, ErrNoFaceDetected) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f.Landmarks, nil
}
