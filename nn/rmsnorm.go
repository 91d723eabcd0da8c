package nn

import (
	"fmt"
	"math"

	"cipherllama/tensor"
)

// RMSNorm divides the last dimension by its root mean square (plus eps) and
// scales by a learned per-feature weight.
type RMSNorm struct {
	Weight *tensor.Tensor
	Eps    float64
}

// NewRMSNorm returns a norm over dim features with unit weights.
func NewRMSNorm(dim int, eps float64) *RMSNorm {
	w := tensor.New(dim)
	for i := range w.Data {
		w.Data[i] = 1
	}
	return &RMSNorm{Weight: w, Eps: eps}
}

// Forward normalizes each row of the last dimension. Leading dimensions are
// preserved.
func (r *RMSNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	dim := r.Weight.Shape[0]
	if len(x.Shape) == 0 || x.Shape[len(x.Shape)-1] != dim {
		return nil, fmt.Errorf("%w: rmsnorm over %d features, got shape %v", ErrShapeMismatch, dim, x.Shape)
	}
	out := tensor.New(x.Shape...)
	rows := x.Size() / dim
	for r0 := 0; r0 < rows; r0++ {
		base := r0 * dim
		ss := 0.0
		for i := 0; i < dim; i++ {
			v := x.Data[base+i]
			ss += v * v
		}
		inv := 1 / math.Sqrt(ss/float64(dim)+r.Eps)
		for i := 0; i < dim; i++ {
			out.Data[base+i] = x.Data[base+i] * inv * r.Weight.Data[i]
		}
	}
	return out, nil
}
