package nn

import (
	"math"
	"sync"
	"testing"

	"cipherllama/core/ckkswrapper"
	"cipherllama/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

var (
	heOnce    sync.Once
	sharedCtx *ckkswrapper.HeContext
)

// key generation is expensive; the context is read-only, so tests share one.
func testHeContext() *ckkswrapper.HeContext {
	heOnce.Do(func() { sharedCtx = ckkswrapper.NewHeContext() })
	return sharedCtx
}

func TestSoftmaxRowsMaskedZero(t *testing.T) {
	m := mat.NewDense(1, 3, []float64{1, 2, math.Inf(-1)})
	out := softmaxRows(m)

	assert.Zero(t, out.At(0, 2), "masked entry must have exactly zero probability")
	assert.InDelta(t, 1.0, out.At(0, 0)+out.At(0, 1), 1e-12)
}

func TestAttentionCausality(t *testing.T) {
	args := cacheArgs()
	heCtx := testHeContext()

	a := NewAttention(args, heCtx)
	a.InitRandom(rand.NewSource(3))

	rt := NewRotaryTable(args.HeadDim(), args.MaxSeqLen*2, DefaultRotaryBase)
	freqs, err := rt.Slice(0, 3)
	require.NoError(t, err)
	mask := CausalMask(3, 0)

	x := tensor.New(1, 3, args.Dim)
	dist := rand.New(rand.NewSource(4))
	for i := range x.Data {
		x.Data[i] = dist.Float64() - 0.5
	}

	out1, err := a.Forward(x, 0, freqs, mask)
	require.NoError(t, err)

	// perturb only the final position; earlier outputs must not move
	b := NewAttention(args, heCtx)
	copyAttentionWeights(b, a)
	x2 := x.Copy()
	for d := 0; d < args.Dim; d++ {
		x2.Data[2*args.Dim+d] += 1
	}
	out2, err := b.Forward(x2, 0, freqs, mask)
	require.NoError(t, err)

	for i := 0; i < 2*args.Dim; i++ {
		assert.InDelta(t, out1.Data[i], out2.Data[i], 1e-5,
			"future token leaked into position %d", i/args.Dim)
	}
}

func TestAttentionIncrementalMatchesPrefill(t *testing.T) {
	args := cacheArgs()
	heCtx := testHeContext()

	full := NewAttention(args, heCtx)
	full.InitRandom(rand.NewSource(5))
	incr := NewAttention(args, heCtx)
	copyAttentionWeights(incr, full)

	rt := NewRotaryTable(args.HeadDim(), args.MaxSeqLen*2, DefaultRotaryBase)

	x := tensor.New(1, 4, args.Dim)
	dist := rand.New(rand.NewSource(6))
	for i := range x.Data {
		x.Data[i] = dist.Float64() - 0.5
	}

	freqs, err := rt.Slice(0, 4)
	require.NoError(t, err)
	wantAll, err := full.Forward(x, 0, freqs, CausalMask(4, 0))
	require.NoError(t, err)

	// replay as a 3-token prefill plus one incremental step
	prefill := &tensor.Tensor{Data: x.Data[:3*args.Dim], Shape: []int{1, 3, args.Dim}}
	freqs, err = rt.Slice(0, 3)
	require.NoError(t, err)
	_, err = incr.Forward(prefill, 0, freqs, CausalMask(3, 0))
	require.NoError(t, err)

	step := &tensor.Tensor{Data: x.Data[3*args.Dim:], Shape: []int{1, 1, args.Dim}}
	freqs, err = rt.Slice(3, 4)
	require.NoError(t, err)
	gotStep, err := incr.Forward(step, 3, freqs, nil)
	require.NoError(t, err)

	for d := 0; d < args.Dim; d++ {
		assert.InDelta(t, wantAll.Data[3*args.Dim+d], gotStep.Data[d], 1e-5)
	}
}

func TestAttentionRejectsBadInput(t *testing.T) {
	args := cacheArgs()
	a := NewAttention(args, testHeContext())
	a.InitRandom(rand.NewSource(1))

	rt := NewRotaryTable(args.HeadDim(), args.MaxSeqLen*2, DefaultRotaryBase)
	freqs, err := rt.Slice(0, 1)
	require.NoError(t, err)

	x := tensor.New(1, 1, args.Dim+1)
	_, err = a.Forward(x, 0, freqs, nil)
	require.ErrorIs(t, err, ErrShapeMismatch)

	x = tensor.New(1, 1, args.Dim)
	_, err = a.Forward(x, args.MaxSeqLen, freqs, nil)
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func copyAttentionWeights(dst, src *Attention) {
	copy(dst.Wq.W.Data, src.Wq.W.Data)
	copy(dst.Wk.W.Data, src.Wk.W.Data)
	copy(dst.Wv.W.Data, src.Wv.W.Data)
	copy(dst.Wo.W.Data, src.Wo.W.Data)
}
