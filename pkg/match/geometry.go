package match

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// GeometryStatus is the verdict of the geometric structure verifier.
type GeometryStatus int

const (
	GeometryMatch GeometryStatus = iota
	GeometryNoMatch
	GeometryNoFaceDetected
	GeometryError
)

func (s GeometryStatus) String() string {
	switch s {
	case GeometryMatch:
		return "match"
	case GeometryNoMatch:
		return "no_match"
	case GeometryNoFaceDetected:
		return "no_face_detected"
	default:
		return "error"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s GeometryStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Vetoes reports whether the verdict removes a prior acceptance. Only NoMatch does.
func (s GeometryStatus) Vetoes() bool {
	return s == GeometryNoMatch
}

// GeometryVerdict is the result of comparing the landmark structure of two faces.
type GeometryVerdict struct {
	Status     GeometryStatus     `json:"status"`
	Similarity float64            `json:"similarity"`
	RatioDiff  float64            `json:"ratio_diff"`
	Regions    map[string]float64 `json:"regions,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// RegionWeights weights the per-region similarities.
type RegionWeights struct {
	Eyes  float64 `yaml:"eyes" json:"eyes"`
	Nose  float64 `yaml:"nose" json:"nose"`
	Mouth float64 `yaml:"mouth" json:"mouth"`
	Jaw   float64 `yaml:"jaw" json:"jaw"`
}

// Sum returns the total of all weights.
func (w RegionWeights) Sum() float64 {
	return w.Eyes + w.Nose + w.Mouth + w.Jaw
}

func (w RegionWeights) of(region string) float64 {
	switch region {
	case regionEyes:
		return w.Eyes
	case regionNose:
		return w.Nose
	case regionMouth:
		return w.Mouth
	case regionJaw:
		return w.Jaw
	}
	return 0
}

// GeometryConfig configures the GeometryVerifier.
type GeometryConfig struct {
	Weights        RegionWeights
	RatioTolerance float64
	Threshold      float64
}

// DefaultGeometryConfig returns the reference geometry configuration.
func DefaultGeometryConfig() GeometryConfig {
	return GeometryConfig{
		Weights:        RegionWeights{Eyes: 0.35, Nose: 0.35, Mouth: 0.15, Jaw: 0.15},
		RatioTolerance: 0.2,
		Threshold:      0.80,
	}
}

// Validate checks the weights and thresholds.
func (c GeometryConfig) Validate() error {
	w := c.Weights
	if w.Eyes < 0 || w.Nose < 0 || w.Mouth < 0 || w.Jaw < 0 {
		return fmt.Errorf("%w: region weights must not be negative", ErrInvalidWeights)
	}
	if math.Abs(w.Sum()-1) > WeightTolerance {
		return fmt.Errorf("%w: region weights sum to %f, want 1", ErrInvalidWeights, w.Sum())
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: geometry threshold must be between 0 and 1, got %f", ErrInvalidThresholds, c.Threshold)
	}
	if c.RatioTolerance < 0 {
		return fmt.Errorf("%w: ratio tolerance must not be negative", ErrInvalidThresholds)
	}
	return nil
}

const (
	regionEyes  = "eyes"
	regionNose  = "nose"
	regionMouth = "mouth"
	regionJaw   = "jaw"
)

var regionOrder = []string{regionEyes, regionNose, regionMouth, regionJaw}

// span is a half-open index range into a landmark slice.
type span struct{ from, to int }

// landmarkLayout describes where regions live in a detector's landmark set.
type landmarkLayout struct {
	name     string
	regions  map[string]span
	rightEye span
	leftEye  span
	// noseLength measures the nose for the eye/nose ratio.
	noseLength func(pts []Point) float64
}

var (
	// iBUG 300-W 68-point markup.
	layout68 = landmarkLayout{
		name: "ibug68",
		regions: map[string]span{
			regionJaw:   {0, 17},
			regionNose:  {27, 36},
			regionEyes:  {36, 48},
			regionMouth: {48, 68},
		},
		rightEye: span{36, 42},
		leftEye:  span{42, 48},
		noseLength: func(pts []Point) float64 {
			return distance(pts[27], pts[33])
		},
	}

	// dlib 5-point markup: two corners per eye and the base of the nose.
	// Mouth and jaw are absent, so their weights drop out.
	layout5 = landmarkLayout{
		name: "dlib5",
		regions: map[string]span{
			regionEyes: {0, 4},
			regionNose: {4, 5},
		},
		rightEye: span{0, 2},
		leftEye:  span{2, 4},
		noseLength: func(pts []Point) float64 {
			mid := midpoint(centroid(pts[0:2]), centroid(pts[2:4]))
			return distance(mid, pts[4])
		},
	}
)

func layoutFor(n int) (landmarkLayout, bool) {
	switch n {
	case 68:
		return layout68, true
	case 5:
		return layout5, true
	}
	return landmarkLayout{}, false
}

// ErrUnsupportedLayout is reported when a detector returns an unknown number of landmarks.
var ErrUnsupportedLayout = errors.New("unsupported landmark layout")

// GeometryVerifier compares the landmark structure of two faces. It is only
// ever used to remove an accepted match.
type GeometryVerifier struct {
	detector LandmarkDetector
	config   GeometryConfig
}

// NewGeometryVerifier creates a GeometryVerifier.
func NewGeometryVerifier(detector LandmarkDetector, config GeometryConfig) (*GeometryVerifier, error) {
	if detector == nil {
		return nil, errors.New("landmark detector not configured")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &GeometryVerifier{detector: detector, config: config}, nil
}

// VerifyStructure detects landmarks on both faces and compares them region by region.
func (g *GeometryVerifier) VerifyStructure(ctx context.Context, a, b FaceImage) GeometryVerdict {
	pa, err := g.detector.Landmarks(ctx, a)
	if err != nil {
		return GeometryVerdict{Status: GeometryError, Error: err.Error()}
	}
	pb, err := g.detector.Landmarks(ctx, b)
	if err != nil {
		return GeometryVerdict{Status: GeometryError, Error: err.Error()}
	}
	if len(pa) == 0 || len(pb) == 0 {
		return GeometryVerdict{Status: GeometryNoFaceDetected}
	}
	if len(pa) != len(pb) {
		return GeometryVerdict{
			Status: GeometryError,
			Error:  fmt.Sprintf("%v: %d vs %d points", ErrUnsupportedLayout, len(pa), len(pb)),
		}
	}
	layout, ok := layoutFor(len(pa))
	if !ok {
		return GeometryVerdict{
			Status: GeometryError,
			Error:  fmt.Sprintf("%v: %d points", ErrUnsupportedLayout, len(pa)),
		}
	}

	return g.compare(layout, pa, pb)
}

func (g *GeometryVerifier) compare(layout landmarkLayout, pa, pb []Point) GeometryVerdict {
	ca := center(pa)
	cb := center(pb)

	verdict := GeometryVerdict{Regions: make(map[string]float64, len(layout.regions))}

	var weighted, total float64
	for _, name := range regionOrder {
		sp, ok := layout.regions[name]
		if !ok {
			continue
		}
		w := g.config.Weights.of(name)
		sim := Normalize(cosine(ca[sp.from:sp.to], cb[sp.from:sp.to]))
		verdict.Regions[name] = sim
		weighted += sim * w
		total += w
	}
	// Regions missing from the layout drop out; renormalize over the rest.
	if total > 0 {
		verdict.Similarity = weighted / total
	}

	ra, okA := eyeNoseRatio(layout, pa)
	rb, okB := eyeNoseRatio(layout, pb)
	if okA && okB {
		verdict.RatioDiff = math.Abs(ra - rb)
		if verdict.RatioDiff > g.config.RatioTolerance {
			verdict.Similarity *= 1 - verdict.RatioDiff
		}
	}
	verdict.Similarity = Normalize(verdict.Similarity)

	if verdict.Similarity >= g.config.Threshold {
		verdict.Status = GeometryMatch
	} else {
		verdict.Status = GeometryNoMatch
	}
	return verdict
}

func eyeNoseRatio(layout landmarkLayout, pts []Point) (float64, bool) {
	eyes := distance(
		centroid(pts[layout.rightEye.from:layout.rightEye.to]),
		centroid(pts[layout.leftEye.from:layout.leftEye.to]),
	)
	nose := layout.noseLength(pts)
	if nose == 0 {
		return 0, false
	}
	return eyes / nose, true
}

func centroid(pts []Point) Point {
	var c Point
	if len(pts) == 0 {
		return c
	}
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(pts))
	return Point{X: c.X / n, Y: c.Y / n}
}

func center(pts []Point) []Point {
	c := centroid(pts)
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: p.X - c.X, Y: p.Y - c.Y}
	}
	return out
}

func midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// cosine treats both point slices as flat vectors.
func cosine(a, b []Point) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i].X*b[i].X + a[i].Y*b[i].Y
		na += a[i].X*a[i].X + a[i].Y*a[i].Y
		nb += b[i].X*b[i].X + b[i].Y*b[i].Y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
