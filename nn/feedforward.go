package nn

import (
	"math"

	"cipherllama/nn/layers"
	"cipherllama/tensor"

	"golang.org/x/exp/rand"
)

// FeedForward is the gated SwiGLU unit: W2(SiLU(W1(x)) ⊙ W3(x)). All three
// projections are plaintext.
type FeedForward struct {
	W1, W2, W3 *layers.Projection
}

// NewFeedForward builds the unit with the reference hidden sizing: two thirds
// of 4·dim, rounded up to a multiple of multipleOf.
func NewFeedForward(dim, hiddenDim, multipleOf int) *FeedForward {
	hiddenDim = 2 * hiddenDim / 3
	hiddenDim = multipleOf * ((hiddenDim + multipleOf - 1) / multipleOf)
	return &FeedForward{
		W1: layers.NewProjection(dim, hiddenDim, nil),
		W2: layers.NewProjection(hiddenDim, dim, nil),
		W3: layers.NewProjection(dim, hiddenDim, nil),
	}
}

// HiddenDim returns the rounded gate width.
func (f *FeedForward) HiddenDim() int { return f.W1.OutDim() }

// InitRandom seeds all three projections from src.
func (f *FeedForward) InitRandom(src rand.Source) {
	f.W1.InitRandom(src)
	f.W2.InitRandom(src)
	f.W3.InitRandom(src)
}

// Forward applies the gated unit over the last dimension.
func (f *FeedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	gate, err := f.W1.Forward(x)
	if err != nil {
		return nil, err
	}
	up, err := f.W3.Forward(x)
	if err != nil {
		return nil, err
	}
	for i := range gate.Data {
		gate.Data[i] = silu(gate.Data[i]) * up.Data[i]
	}
	return f.W2.Forward(gate)
}

func silu(v float64) float64 {
	return v / (1 + math.Exp(-v))
}
