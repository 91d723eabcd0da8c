package layers

import (
	"fmt"
	"math"

	"cipherllama/core/ckkswrapper"
	"cipherllama/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Projection is a bias-free linear map from inDim to outDim features. The
// weight matrix stays in plaintext and is owned by the model; inputs may be
// plaintext tensors or CipherTensors routed through the bridge below.
type Projection struct {
	W *tensor.Tensor // (outDim, inDim)

	heCtx *ckkswrapper.HeContext
}

// NewProjection sets up a zero-initialized inDim→outDim projection. heCtx may
// be nil for layers that never see ciphertext input (e.g. the output head).
func NewProjection(inDim, outDim int, heCtx *ckkswrapper.HeContext) *Projection {
	return &Projection{W: tensor.New(outDim, inDim), heCtx: heCtx}
}

// InDim returns the expected input feature width.
func (p *Projection) InDim() int { return p.W.Shape[1] }

// OutDim returns the produced feature width.
func (p *Projection) OutDim() int { return p.W.Shape[0] }

// InitRandom fills W with Xavier-uniform samples from the given source.
func (p *Projection) InitRandom(src rand.Source) {
	bound := 1 / math.Sqrt(float64(p.InDim()))
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	for i := range p.W.Data {
		p.W.Data[i] = dist.Rand()
	}
}

// Forward computes y = x·Wᵗ for a plaintext input whose last dimension is
// inDim. Leading dimensions are preserved.
func (p *Projection) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	inDim, outDim := p.InDim(), p.OutDim()
	if len(x.Shape) == 0 || x.Shape[len(x.Shape)-1] != inDim {
		return nil, fmt.Errorf("%w: projection expects last dimension %d, got shape %v",
			ckkswrapper.ErrShapeMismatch, inDim, x.Shape)
	}
	n := x.Size() / inDim

	xm := mat.NewDense(n, inDim, x.Data)
	wm := mat.NewDense(outDim, inDim, p.W.Data)
	var ym mat.Dense
	ym.Mul(xm, wm.T())

	outShape := append(append([]int(nil), x.Shape[:len(x.Shape)-1]...), outDim)
	return &tensor.Tensor{Data: ym.RawMatrix().Data, Shape: outShape}, nil
}

// ForwardCipher is the encrypted projection bridge: it decrypts the input,
// applies the plaintext weight via one matrix multiply, and re-encrypts the
// result. The guarantee is that the weights stay with the holder of the
// decode path, NOT that the activation is never materialized in the clear
// inside this call. The ciphertext output is fresh at max level, so depth
// never accrues across projections.
func (p *Projection) ForwardCipher(ct *ckkswrapper.CipherTensor) (*ckkswrapper.CipherTensor, error) {
	if p.heCtx == nil {
		return nil, fmt.Errorf("projection has no encryption context")
	}
	x, err := p.heCtx.DecryptTensor(ct)
	if err != nil {
		return nil, err
	}
	y, err := p.Forward(x)
	if err != nil {
		return nil, err
	}
	return p.heCtx.EncryptTensor(y)
}

// Tag identifies the layer in weight files and traces.
func (p *Projection) Tag() string {
	return fmt.Sprintf("Projection_%d_%d", p.InDim(), p.OutDim())
}
