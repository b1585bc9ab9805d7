// Package match implements the match-decision engine used for attendance.
// It turns raw similarity scores between a query face and gallery faces into
// accept/reject decisions through a threshold cascade, an enhanced
// verification ensemble and an optional geometric veto.
package match

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// FaceImage is an immutable face raster. The pixel buffer is JPEG encoded.
type FaceImage struct {
	ref    string
	width  int
	height int
	data   []byte
	digest string
}

// NewFaceImage creates a FaceImage. The buffer is copied so later changes
// by the caller do not affect the image.
func NewFaceImage(ref string, width, height int, data []byte) FaceImage {
	buf := make([]byte, len(data))
	copy(buf, data)
	sum := sha256.Sum256(buf)
	return FaceImage{
		ref:    ref,
		width:  width,
		height: height,
		data:   buf,
		digest: hex.EncodeToString(sum[:]),
	}
}

// Ref returns the identifying source reference (gallery id, person id, URL).
func (f FaceImage) Ref() string { return f.ref }

// Width returns the image width in pixels.
func (f FaceImage) Width() int { return f.width }

// Height returns the image height in pixels.
func (f FaceImage) Height() int { return f.height }

// Digest returns the hex SHA-256 of the pixel buffer.
func (f FaceImage) Digest() string { return f.digest }

// Len returns the size of the encoded buffer.
func (f FaceImage) Len() int { return len(f.data) }

// IsEmpty reports whether the image has no pixel data.
func (f FaceImage) IsEmpty() bool { return len(f.data) == 0 }

// Bytes returns a copy of the encoded buffer.
func (f FaceImage) Bytes() []byte {
	buf := make([]byte, len(f.data))
	copy(buf, f.data)
	return buf
}

// GalleryEntry is a face cropped from a camera capture for one verification cycle.
type GalleryEntry struct {
	ID    string
	Image FaceImage
}

// Classification is the cascade verdict for one (query, candidate) pair.
type Classification int

const (
	Rejected Classification = iota
	GrayZone
	Definite
)

func (c Classification) String() string {
	switch c {
	case Definite:
		return "definite"
	case GrayZone:
		return "gray_zone"
	default:
		return "rejected"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Classification) UnmarshalText(text []byte) error {
	switch string(text) {
	case "definite":
		*c = Definite
	case "gray_zone":
		*c = GrayZone
	case "rejected":
		*c = Rejected
	default:
		return fmt.Errorf("unknown classification %q", text)
	}
	return nil
}

// ScoreSample is one evaluation of (query, candidate).
type ScoreSample struct {
	PrimaryScore   float64        `json:"primary_score"`
	SecondaryScore float64        `json:"secondary_score"`
	CompositeScore float64        `json:"composite_score"`
	Classification Classification `json:"classification"`
}

// AcceptedBy records which stage accepted a match.
type AcceptedBy string

const (
	AcceptedByCascade  AcceptedBy = "cascade"
	AcceptedByEnsemble AcceptedBy = "enhanced_ensemble"
)

// MatchOutcome is an accepted (person, gallery entry) pairing.
type MatchOutcome struct {
	PersonID       string      `json:"person_id"`
	GalleryEntryID string      `json:"gallery_entry_id"`
	Sample         ScoreSample `json:"score_sample"`
	AcceptedBy     AcceptedBy  `json:"accepted_by"`
}

// Point is a 2D landmark coordinate.
type Point struct {
	X, Y float64
}

// Scorer computes a raw similarity between two faces. The value may be
// outside [0,1]; callers normalize it.
type Scorer interface {
	Score(ctx context.Context, a, b FaceImage) (float64, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, a, b FaceImage) (float64, error)

// Score calls f(ctx, a, b).
func (f ScorerFunc) Score(ctx context.Context, a, b FaceImage) (float64, error) {
	return f(ctx, a, b)
}

// LandmarkDetector locates anatomical landmarks on a face. A nil slice with a
// nil error means no face was found.
type LandmarkDetector interface {
	Landmarks(ctx context.Context, img FaceImage) ([]Point, error)
}

// ErrInvalidThresholds is returned when the cascade thresholds are out of order.
var ErrInvalidThresholds = errors.New("invalid match thresholds")

// ErrInvalidWeights is returned when ensemble or region weights do not sum to 1.
var ErrInvalidWeights = errors.New("invalid weights")

// ErrNoScorer is returned when a required scorer is missing.
var ErrNoScorer = errors.New("scorer not configured")
