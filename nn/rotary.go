package nn

import (
	"fmt"
	"math"

	"cipherllama/tensor"
)

// RotaryTable holds precomputed unit-magnitude rotations indexed by
// (position, frequency). Built once per model configuration for twice the
// nominal sequence window, immutable afterwards. Building it twice with the
// same parameters yields bit-identical tables.
type RotaryTable struct {
	headDim int
	freqs   [][]complex128 // (maxLen, headDim/2)
}

// DefaultRotaryBase is the frequency base of the reference model.
const DefaultRotaryBase = 10000.0

// NewRotaryTable precomputes the rotation at angle p / base^(2i/headDim) for
// every position p in [0, maxLen) and frequency index i in [0, headDim/2).
func NewRotaryTable(headDim, maxLen int, base float64) *RotaryTable {
	half := headDim / 2
	freqs := make([][]complex128, maxLen)
	for p := 0; p < maxLen; p++ {
		row := make([]complex128, half)
		for i := 0; i < half; i++ {
			angle := float64(p) / math.Pow(base, float64(2*i)/float64(headDim))
			row[i] = complex(math.Cos(angle), math.Sin(angle))
		}
		freqs[p] = row
	}
	return &RotaryTable{headDim: headDim, freqs: freqs}
}

// Len returns the number of precomputed positions.
func (rt *RotaryTable) Len() int { return len(rt.freqs) }

// Slice returns the rotation rows for positions [start, end).
func (rt *RotaryTable) Slice(start, end int) ([][]complex128, error) {
	if start < 0 || end < start || end > len(rt.freqs) {
		return nil, fmt.Errorf("%w: rotary positions [%d:%d) outside table of length %d",
			ErrCapacityExceeded, start, end, len(rt.freqs))
	}
	return rt.freqs[start:end], nil
}

// ApplyRotary rotates each adjacent (real, imaginary) feature pair of the
// query and key tensors by the position-dependent angle:
//
//	rotated = x*cos + swap(x)*sin
//
// where swap exchanges the two features of each pair and the sin component
// carries [-sin, sin]. Inputs are decoded (seqlen, heads, headDim) tensors;
// the math is agnostic to whether they just left ciphertext space.
func ApplyRotary(q, k *tensor.Tensor, freqs [][]complex128) (*tensor.Tensor, *tensor.Tensor, error) {
	for _, x := range []*tensor.Tensor{q, k} {
		if len(x.Shape) != 3 {
			return nil, nil, fmt.Errorf("%w: rotary expects (seqlen, heads, head_dim), got %v", ErrShapeMismatch, x.Shape)
		}
		if x.Shape[0] != len(freqs) {
			return nil, nil, fmt.Errorf("%w: %d positions vs rotary slice of %d", ErrShapeMismatch, x.Shape[0], len(freqs))
		}
		if len(freqs) > 0 && x.Shape[2] != 2*len(freqs[0]) {
			return nil, nil, fmt.Errorf("%w: head dimension %d vs rotary width %d", ErrShapeMismatch, x.Shape[2], 2*len(freqs[0]))
		}
	}
	return rotate(q, freqs), rotate(k, freqs), nil
}

func rotate(x *tensor.Tensor, freqs [][]complex128) *tensor.Tensor {
	seqlen, heads, headDim := x.Shape[0], x.Shape[1], x.Shape[2]
	out := tensor.New(seqlen, heads, headDim)
	for s := 0; s < seqlen; s++ {
		for h := 0; h < heads; h++ {
			base := (s*heads + h) * headDim
			for i := 0; i < headDim/2; i++ {
				cos := real(freqs[s][i])
				sin := imag(freqs[s][i])
				x0 := x.Data[base+2*i]
				x1 := x.Data[base+2*i+1]
				// x*cos + swap(x)*[-sin, sin]
				out.Data[base+2*i] = x0*cos - x1*sin
				out.Data[base+2*i+1] = x1*cos + x0*sin
			}
		}
	}
	return out
}
