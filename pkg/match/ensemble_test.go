package match

import (
	"context"
	"errors"
	"math"
	"testing"
)

func referenceVariants(scores [4]float64) []Variant {
	return []Variant{
		{Name: "v1", Scorer: constant(scores[0]), Weight: 0.3},
		{Name: "v2", Scorer: constant(scores[1]), Weight: 0.1},
		{Name: "v3", Scorer: constant(scores[2]), Weight: 0.3},
		{Name: "v4", Scorer: constant(scores[3]), Weight: 0.3, Negative: AbsScaled{Scale: DefaultAbsScale}},
	}
}

func TestNewEnsembleWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		wantErr error
	}{
		{"reference", []float64{0.3, 0.1, 0.3, 0.3}, nil},
		{"within tolerance", []float64{0.3, 0.1, 0.3, 0.3000005}, nil},
		{"short", []float64{0.3, 0.1, 0.3, 0.2}, ErrInvalidWeights},
		{"over", []float64{0.5, 0.5, 0.3}, ErrInvalidWeights},
		{"negative", []float64{1.2, -0.2}, ErrInvalidWeights},
		{"empty", nil, ErrNoScorer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var variants []Variant
			for _, w := range tt.weights {
				variants = append(variants, Variant{Name: "v", Scorer: constant(0), Weight: w})
			}
			_, err := NewEnsemble(variants, 0.55)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEnsembleVerify(t *testing.T) {
	tests := []struct {
		name          string
		scores        [4]float64
		wantComposite float64
		wantAccepted  bool
	}{
		{"all strong", [4]float64{0.9, 0.8, 0.7, 0.6}, 0.27 + 0.08 + 0.21 + 0.18, true},
		{"all weak", [4]float64{0.2, 0.2, 0.2, 0.2}, 0.2, false},
		{"negative fourth becomes weak evidence", [4]float64{0.6, 0.6, 0.6, -0.8}, 0.18 + 0.06 + 0.18 + 0.12, false},
		{"negative third is clamped", [4]float64{0.9, 0.9, -0.9, 0.9}, 0.27 + 0.09 + 0 + 0.27, true},
		{"uniform above threshold", [4]float64{0.56, 0.56, 0.56, 0.56}, 0.56, true},
		{"uniform below threshold", [4]float64{0.54, 0.54, 0.54, 0.54}, 0.54, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEnsemble(referenceVariants(tt.scores), 0.55)
			if err != nil {
				t.Fatalf("NewEnsemble failed: %v", err)
			}
			res := e.Verify(context.Background(), img("a"), img("b"))
			if math.Abs(res.Composite-tt.wantComposite) > 1e-9 {
				t.Errorf("composite = %v, want %v", res.Composite, tt.wantComposite)
			}
			if res.Accepted != tt.wantAccepted {
				t.Errorf("accepted = %v, want %v", res.Accepted, tt.wantAccepted)
			}
			if len(res.Scores) != 4 {
				t.Errorf("expected 4 variant scores, got %d", len(res.Scores))
			}
		})
	}
}

func TestEnsembleDeterministic(t *testing.T) {
	e, err := NewEnsemble(referenceVariants([4]float64{0.61, 0.33, 0.58, -0.2}), 0.55)
	if err != nil {
		t.Fatalf("NewEnsemble failed: %v", err)
	}
	first := e.Verify(context.Background(), img("a"), img("b"))
	for i := 0; i < 10; i++ {
		if got := e.Verify(context.Background(), img("a"), img("b")); got.Composite != first.Composite {
			t.Fatalf("run %d: composite %v differs from %v", i, got.Composite, first.Composite)
		}
	}
}

func TestEnsembleVariantFailureIsolated(t *testing.T) {
	healthy := referenceVariants([4]float64{0.7, 0.5, 0.6, 0.4})
	broken := referenceVariants([4]float64{0.7, 0.5, 0.6, 0.4})
	broken[1].Scorer = failing(errors.New("hash failed"))

	eh, _ := NewEnsemble(healthy, 0.55)
	eb, err := NewEnsemble(broken, 0.55)
	if err != nil {
		t.Fatalf("NewEnsemble failed: %v", err)
	}

	rh := eh.Verify(context.Background(), img("a"), img("b"))
	rb := eb.Verify(context.Background(), img("a"), img("b"))

	// Only the failed variant's contribution disappears.
	if math.Abs((rh.Composite-rb.Composite)-0.5*0.1) > 1e-9 {
		t.Errorf("healthy %v, broken %v: expected difference of 0.05", rh.Composite, rb.Composite)
	}
	if rb.Scores[1].Error == "" || rb.Scores[1].Weighted != 0 {
		t.Errorf("expected failed variant to record error and contribute 0, got %+v", rb.Scores[1])
	}
	for _, i := range []int{0, 2, 3} {
		if rb.Scores[i] != rh.Scores[i] {
			t.Errorf("variant %d changed: %+v vs %+v", i, rb.Scores[i], rh.Scores[i])
		}
	}
}

func TestParseNegativePolicy(t *testing.T) {
	p, err := ParseNegativePolicy("", 0)
	if err != nil || p.Name() != "clamp" {
		t.Errorf("expected clamp default, got %v %v", p, err)
	}
	p, err = ParseNegativePolicy("abs_scaled", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Adjust(-0.8); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("abs_scaled(-0.8) = %v, want 0.4", got)
	}
	if got := p.Adjust(0.3); got != 0.3 {
		t.Errorf("abs_scaled(0.3) = %v, want 0.3", got)
	}
	if _, err := ParseNegativePolicy("invert", 1); err == nil {
		t.Error("expected error for unknown policy")
	}
}
