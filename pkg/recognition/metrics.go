package recognition

import (
	"fmt"
	"math"
)

// Metric turns two descriptors into a raw similarity.
type Metric string

const (
	// MetricCosine is cosine similarity rescaled from [-1,1] to [0,1].
	MetricCosine Metric = "cosine"
	// MetricCosineRaw is plain cosine similarity in [-1,1].
	MetricCosineRaw Metric = "cosine-raw"
	// MetricEuclidean is 1 - L2 distance; dlib's same-person tolerance of 0.6 maps to 0.4.
	MetricEuclidean Metric = "euclidean"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricCosineRaw, MetricEuclidean:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown distance metric %q", s)
}

// Similarity applies the metric. Values may fall outside [0,1].
func (m Metric) Similarity(d1, d2 Descriptor) float64 {
	switch m {
	case MetricCosine:
		return (1 + CosineSimilarity(d1, d2)) / 2
	case MetricCosineRaw:
		return CosineSimilarity(d1, d2)
	default:
		return 1 - EuclideanDistance(d1, d2)
	}
}

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// CosineSimilarity calculates the cosine of the angle between two descriptors.
// Zero vectors have similarity 0.
func CosineSimilarity(d1, d2 Descriptor) float64 {
	var dot, n1, n2 float64
	for i := range d1 {
		a, b := float64(d1[i]), float64(d2[i])
		dot += a * b
		n1 += a * a
		n2 += b * b
	}
	if n1 == 0 || n2 == 0 {
		return 0
	}
	return dot / (math.Sqrt(n1) * math.Sqrt(n2))
}
