package hacrf

import "fmt"

// FeatureTensor holds one training pair's features: a dense
// (len1, len2, features) array where entry (i, j, f) is feature f of
// aligning position i of the first string with position j of the second.
// Data is stored in row-major order so the feature vector at a position
// is one contiguous slice.
//
// A FeatureTensor is not safe for concurrent mutation; the trainer only
// reads it.
type FeatureTensor struct {
	data []float64
	len1 int
	len2 int
	nf   int
}

// NewFeatureTensor creates a zero tensor for strings of the given lengths
// with nf features per position. Zero string lengths are allowed and
// describe a degenerate pair with no possible alignment. Panics on
// negative lengths or a non-positive feature count; those are programmer
// bugs, not data conditions.
func NewFeatureTensor(len1, len2, nf int) *FeatureTensor {
	if len1 < 0 || len2 < 0 {
		panic(fmt.Sprintf("hacrf: negative tensor dimensions (%d, %d)", len1, len2))
	}
	if nf <= 0 {
		panic(fmt.Sprintf("hacrf: feature count must be positive, got %d", nf))
	}
	return &FeatureTensor{
		data: make([]float64, len1*len2*nf),
		len1: len1,
		len2: len2,
		nf:   nf,
	}
}

// Dims returns the two string lengths and the feature count.
func (x *FeatureTensor) Dims() (len1, len2, nf int) {
	return x.len1, x.len2, x.nf
}

// NumFeatures returns the number of features per position.
func (x *FeatureTensor) NumFeatures() int {
	return x.nf
}

// At returns feature f at position (i, j).
func (x *FeatureTensor) At(i, j, f int) float64 {
	return x.data[(i*x.len2+j)*x.nf+f]
}

// Set assigns feature f at position (i, j).
func (x *FeatureTensor) Set(i, j, f int, v float64) {
	x.data[(i*x.len2+j)*x.nf+f] = v
}

// features returns the contiguous feature vector at position (i, j).
func (x *FeatureTensor) features(i, j int) []float64 {
	off := (i*x.len2 + j) * x.nf
	return x.data[off : off+x.nf]
}
