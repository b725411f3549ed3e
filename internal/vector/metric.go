package vector

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// SquaredL2 computes sum((a[i] - b[i])^2).
// Every nearest-centroid and in-cluster comparison uses it; the square root
// is monotonic and never changes an ordering.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// L2 computes the Euclidean distance between a and b.
func L2(a, b []float32) float32 {
	return vek32.Distance(a, b)
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(vek32.Dot(v, v))))
}

// Normalize scales v to unit length in place. Zero vectors are left as is.
func Normalize(v []float32) {
	norm := Norm(v)
	if norm == 0 {
		return
	}
	vek32.MulNumber_Inplace(v, 1/norm)
}

// NormalizeRows normalizes every row of m in place.
func NormalizeRows(m *Matrix) {
	for i := 0; i < m.Rows(); i++ {
		Normalize(m.Row(i))
	}
}

// AddInto accumulates src into dst element-wise.
func AddInto(dst, src []float32) {
	vek32.Add_Inplace(dst, src)
}

// Scale multiplies v by s in place.
func Scale(v []float32, s float32) {
	vek32.MulNumber_Inplace(v, s)
}
