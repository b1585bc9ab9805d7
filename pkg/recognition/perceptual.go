package recognition

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/corona10/goimagehash"

	"github.com/MrCodeEU/facecheck/pkg/imageio"
	"github.com/MrCodeEU/facecheck/pkg/match"
)

// HashKind selects the perceptual hash.
type HashKind string

const (
	HashDifference HashKind = "dhash"
	HashPerception HashKind = "phash"
	HashAverage    HashKind = "ahash"
)

// hashBits is the length of the 64-bit goimagehash hashes.
const hashBits = 64

// ParseHashKind validates a hash name.
func ParseHashKind(s string) (HashKind, error) {
	switch HashKind(s) {
	case HashDifference, HashPerception, HashAverage:
		return HashKind(s), nil
	}
	return "", fmt.Errorf("unknown perceptual hash %q", s)
}

// PerceptualScorer compares two faces by the Hamming distance of their
// perceptual hashes. It needs no models and is insensitive to detector failures.
// At most DefaultCacheSize hashes are kept, oldest evicted first.
type PerceptualScorer struct {
	kind HashKind

	mu     sync.Mutex
	max    int
	hashes map[string]*goimagehash.ImageHash
	order  []string
}

// NewPerceptualScorer creates a PerceptualScorer.
func NewPerceptualScorer(kind HashKind) *PerceptualScorer {
	return &PerceptualScorer{
		kind:   kind,
		max:    DefaultCacheSize,
		hashes: make(map[string]*goimagehash.ImageHash),
	}
}

// Name identifies the scorer, e.g. "dhash-hamming".
func (s *PerceptualScorer) Name() string {
	return string(s.kind) + "-hamming"
}

// Score implements match.Scorer. Identical hashes score 1.
func (s *PerceptualScorer) Score(ctx context.Context, a, b match.FaceImage) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ha, err := s.hash(a)
	if err != nil {
		return 0, err
	}
	hb, err := s.hash(b)
	if err != nil {
		return 0, err
	}
	dist, err := ha.Distance(hb)
	if err != nil {
		return 0, fmt.Errorf("hash distance: %w", err)
	}
	return 1 - float64(dist)/hashBits, nil
}

func (s *PerceptualScorer) hash(f match.FaceImage) (*goimagehash.ImageHash, error) {
	s.mu.Lock()
	h, ok := s.hashes[f.Digest()]
	s.mu.Unlock()
	if ok {
		return h, nil
	}

	img, err := imageio.DecodeFace(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Ref(), err)
	}
	h, err = s.compute(img)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to hash image: %w", f.Ref(), err)
	}

	s.remember(f.Digest(), h)
	return h, nil
}

func (s *PerceptualScorer) remember(digest string, h *goimagehash.ImageHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hashes[digest]; ok {
		return
	}
	for len(s.order) >= s.max {
		delete(s.hashes, s.order[0])
		s.order = s.order[1:]
	}
	s.hashes[digest] = h
	s.order = append(s.order, digest)
}

// Len returns the number of memoized hashes.
func (s *PerceptualScorer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hashes)
}

func (s *PerceptualScorer) compute(img image.Image) (*goimagehash.ImageHash, error) {
	switch s.kind {
	case HashPerception:
		return goimagehash.PerceptionHash(img)
	case HashAverage:
		return goimagehash.AverageHash(img)
	default:
		return goimagehash.DifferenceHash(img)
	}
}
