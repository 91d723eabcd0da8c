package nn

import (
	"fmt"
	"math"
	"time"

	"cipherllama/core/ckkswrapper"
	"cipherllama/nn/layers"
	"cipherllama/tensor"
	"cipherllama/utils"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Attention is the encrypted-projection attention layer. The input activation
// is encrypted once at layer entry; the query/key/value projections run
// through the bridge so their ciphertext outputs never expose the weights;
// rotation, caching, scoring and the output projection operate on decrypted
// values. One instance serves one decoding sequence at a time.
type Attention struct {
	nHeads  int
	headDim int

	Wq, Wk, Wv, Wo *layers.Projection

	cache *kvCache
	heCtx *ckkswrapper.HeContext

	// Trace, when set, receives the duration of every pipeline stage.
	Trace utils.TraceFunc
}

// NewAttention builds the layer and its exclusively-owned KV cache.
func NewAttention(args ModelArgs, heCtx *ckkswrapper.HeContext) *Attention {
	return &Attention{
		nHeads:  args.NHeads,
		headDim: args.HeadDim(),
		Wq:      layers.NewProjection(args.Dim, args.Dim, heCtx),
		Wk:      layers.NewProjection(args.Dim, args.Dim, heCtx),
		Wv:      layers.NewProjection(args.Dim, args.Dim, heCtx),
		Wo:      layers.NewProjection(args.Dim, args.Dim, nil),
		cache:   newKVCache(args),
		heCtx:   heCtx,
	}
}

// InitRandom seeds all four projections from src.
func (a *Attention) InitRandom(src rand.Source) {
	a.Wq.InitRandom(src)
	a.Wk.InitRandom(src)
	a.Wv.InitRandom(src)
	a.Wo.InitRandom(src)
}

func (a *Attention) observe(stage utils.Stage, start time.Time) {
	if a.Trace != nil {
		a.Trace(stage, time.Since(start))
	}
}

// Forward runs one decoding step over x of shape (batch, seqlen, dim) at the
// given start position, with the rotary slice for the current positions and
// an optional additive causal mask. Returns (batch, seqlen, dim).
func (a *Attention) Forward(x *tensor.Tensor, startPos int, freqs [][]complex128, mask *tensor.Tensor) (*tensor.Tensor, error) {
	dim := a.nHeads * a.headDim
	if len(x.Shape) != 3 || x.Shape[2] != dim {
		return nil, fmt.Errorf("%w: attention expects (batch, seqlen, %d), got %v", ErrShapeMismatch, dim, x.Shape)
	}
	bsz, seqlen := x.Shape[0], x.Shape[1]

	out := tensor.New(bsz, seqlen, dim)
	for b := 0; b < bsz; b++ {
		// each example travels the encrypted path independently
		xb := &tensor.Tensor{
			Data:  x.Data[b*seqlen*dim : (b+1)*seqlen*dim],
			Shape: []int{seqlen, dim},
		}
		yb, err := a.forwardOne(b, xb, startPos, freqs, mask)
		if err != nil {
			return nil, err
		}
		copy(out.Data[b*seqlen*dim:(b+1)*seqlen*dim], yb.Data)
	}
	return out, nil
}

func (a *Attention) forwardOne(b int, x *tensor.Tensor, startPos int, freqs [][]complex128, mask *tensor.Tensor) (*tensor.Tensor, error) {
	seqlen := x.Shape[0]

	// 1) encrypt the activation once at layer entry
	start := time.Now()
	ctX, err := a.heCtx.EncryptTensor(x)
	if err != nil {
		return nil, err
	}
	a.observe(utils.StageEncrypt, start)

	// 2) three bridge calls; outputs remain ciphertext
	start = time.Now()
	ctQ, err := a.Wq.ForwardCipher(ctX)
	if err != nil {
		return nil, err
	}
	ctK, err := a.Wk.ForwardCipher(ctX)
	if err != nil {
		return nil, err
	}
	ctV, err := a.Wv.ForwardCipher(ctX)
	if err != nil {
		return nil, err
	}
	a.observe(utils.StageProject, start)

	// 3) layout-only reshape to (seqlen, heads, head_dim)
	for _, ct := range []*ckkswrapper.CipherTensor{ctQ, ctK, ctV} {
		if err := ct.Reshape(seqlen, a.nHeads, a.headDim); err != nil {
			return nil, err
		}
	}

	// 4) decrypt, then rotate: the rotation math is defined on decoded
	// arrays, and decrypt-then-rotate matches the bridge's boundary
	start = time.Now()
	q, err := a.heCtx.DecryptTensor(ctQ)
	if err != nil {
		return nil, err
	}
	k, err := a.heCtx.DecryptTensor(ctK)
	if err != nil {
		return nil, err
	}
	v, err := a.heCtx.DecryptTensor(ctV)
	if err != nil {
		return nil, err
	}
	a.observe(utils.StageDecrypt, start)

	start = time.Now()
	if q, k, err = ApplyRotary(q, k, freqs); err != nil {
		return nil, err
	}
	a.observe(utils.StageRotate, start)

	// 5) cache the step, read back the causal prefix
	start = time.Now()
	if err := a.cache.write(b, startPos, k, v); err != nil {
		return nil, err
	}
	keys, values := a.cache.read(b, startPos+seqlen)
	a.observe(utils.StageCacheWrite, start)

	// 6) per-head scaled dot-product attention
	start = time.Now()
	combined := tensor.New(seqlen, a.nHeads*a.headDim)
	scale := 1 / math.Sqrt(float64(a.headDim))
	for h := 0; h < a.nHeads; h++ {
		qh := headMatrix(q, h)
		kh := headMatrix(keys, h)
		vh := headMatrix(values, h)

		var scores mat.Dense
		scores.Mul(qh, kh.T())
		scores.Scale(scale, &scores)
		if mask != nil {
			cacheLen := startPos + seqlen
			for i := 0; i < seqlen; i++ {
				for j := 0; j < cacheLen; j++ {
					scores.Set(i, j, scores.At(i, j)+mask.Data[i*cacheLen+j])
				}
			}
		}
		weights := softmaxRows(&scores)

		var oh mat.Dense
		oh.Mul(weights, vh)
		for s := 0; s < seqlen; s++ {
			for d := 0; d < a.headDim; d++ {
				combined.Data[s*a.nHeads*a.headDim+h*a.headDim+d] = oh.At(s, d)
			}
		}
	}
	a.observe(utils.StageScore, start)

	// 7) recombine heads, plaintext output projection
	start = time.Now()
	y, err := a.Wo.Forward(combined)
	a.observe(utils.StageCombine, start)
	return y, err
}

// headMatrix views head h of a (positions, heads, headDim) tensor as a dense
// (positions, headDim) matrix.
func headMatrix(t *tensor.Tensor, h int) *mat.Dense {
	positions, heads, headDim := t.Shape[0], t.Shape[1], t.Shape[2]
	m := mat.NewDense(positions, headDim, nil)
	for s := 0; s < positions; s++ {
		base := (s*heads + h) * headDim
		for d := 0; d < headDim; d++ {
			m.Set(s, d, t.Data[base+d])
		}
	}
	return m
}

// softmaxRows applies a numerically stable softmax along each row. Masked
// (-Inf) entries come out as exactly zero probability.
func softmaxRows(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		max := math.Inf(-1)
		for j := 0; j < c; j++ {
			if v := m.At(i, j); v > max {
				max = v
			}
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			sum += math.Exp(m.At(i, j) - max)
		}
		for j := 0; j < c; j++ {
			out.Set(i, j, math.Exp(m.At(i, j)-max)/sum)
		}
	}
	return out
}
