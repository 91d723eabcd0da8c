package nn

import (
	"fmt"
	"math"

	"cipherllama/core/ckkswrapper"
	"cipherllama/nn/layers"
	"cipherllama/tensor"
	"cipherllama/utils"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Embedding maps token ids to dim-wide rows of its weight table.
type Embedding struct {
	Weight *tensor.Tensor // (vocab, dim)
}

// NewEmbedding allocates a zero table.
func NewEmbedding(vocab, dim int) *Embedding {
	return &Embedding{Weight: tensor.New(vocab, dim)}
}

// InitRandom fills the table with Xavier-uniform samples from src.
func (e *Embedding) InitRandom(src rand.Source) {
	dim := e.Weight.Shape[1]
	bound := 1 / math.Sqrt(float64(dim))
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	for i := range e.Weight.Data {
		e.Weight.Data[i] = dist.Rand()
	}
}

// Forward looks up tokens of shape (batch, seqlen) into (batch, seqlen, dim).
func (e *Embedding) Forward(tokens [][]int) (*tensor.Tensor, error) {
	vocab, dim := e.Weight.Shape[0], e.Weight.Shape[1]
	bsz := len(tokens)
	if bsz == 0 || len(tokens[0]) == 0 {
		return nil, fmt.Errorf("%w: empty token batch", ErrShapeMismatch)
	}
	seqlen := len(tokens[0])
	out := tensor.New(bsz, seqlen, dim)
	for b, row := range tokens {
		if len(row) != seqlen {
			return nil, fmt.Errorf("%w: ragged token batch, row %d has %d tokens, want %d", ErrShapeMismatch, b, len(row), seqlen)
		}
		for s, id := range row {
			if id < 0 || id >= vocab {
				return nil, fmt.Errorf("%w: token id %d outside vocabulary of %d", ErrShapeMismatch, id, vocab)
			}
			copy(out.Data[(b*seqlen+s)*dim:(b*seqlen+s+1)*dim], e.Weight.Data[id*dim:(id+1)*dim])
		}
	}
	return out, nil
}

// Transformer is the full decoder stack. The encryption context is injected
// at construction and shared read-only by every block; the rotary table is
// precomputed for twice the configured window so incremental decoding can
// run past the nominal length.
type Transformer struct {
	Args ModelArgs

	TokEmbeddings *Embedding
	Layers        []*TransformerBlock
	Norm          *RMSNorm
	Output        *layers.Projection

	rotary *RotaryTable
}

// NewTransformer validates args and builds the stack.
func NewTransformer(args ModelArgs, heCtx *ckkswrapper.HeContext) (*Transformer, error) {
	if err := args.Validate(); err != nil {
		return nil, fmt.Errorf("model args: %w", err)
	}
	if heCtx == nil {
		return nil, fmt.Errorf("encryption context is required")
	}
	blocks := make([]*TransformerBlock, args.NLayers)
	for i := range blocks {
		blocks[i] = NewTransformerBlock(i, args, heCtx)
	}
	return &Transformer{
		Args:          args,
		TokEmbeddings: NewEmbedding(args.VocabSize, args.Dim),
		Layers:        blocks,
		Norm:          NewRMSNorm(args.Dim, args.NormEps),
		Output:        layers.NewProjection(args.Dim, args.VocabSize, nil),
		rotary:        NewRotaryTable(args.HeadDim(), args.MaxSeqLen*2, DefaultRotaryBase),
	}, nil
}

// InitRandom seeds every weight in the model deterministically.
func (m *Transformer) InitRandom(seed uint64) {
	src := rand.NewSource(seed)
	m.TokEmbeddings.InitRandom(src)
	for _, layer := range m.Layers {
		layer.InitRandom(src)
	}
	m.Output.InitRandom(src)
}

// SetTrace installs a stage-timing callback on every attention layer.
func (m *Transformer) SetTrace(fn utils.TraceFunc) {
	for _, layer := range m.Layers {
		layer.Attention.Trace = fn
	}
}

// Forward runs one decoding step: tokens is (batch, seqlen), startPos the
// index of the first new position. Returns logits of shape (batch, vocab)
// for the final position only.
func (m *Transformer) Forward(tokens [][]int, startPos int) (*tensor.Tensor, error) {
	bsz := len(tokens)
	if bsz == 0 || len(tokens[0]) == 0 {
		return nil, fmt.Errorf("%w: empty token batch", ErrShapeMismatch)
	}
	seqlen := len(tokens[0])
	if bsz > m.Args.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch %d, capacity %d", ErrCapacityExceeded, bsz, m.Args.MaxBatchSize)
	}
	if startPos < 0 || startPos+seqlen > m.Args.MaxSeqLen {
		return nil, fmt.Errorf("%w: positions [%d:%d), capacity %d", ErrCapacityExceeded, startPos, startPos+seqlen, m.Args.MaxSeqLen)
	}

	h, err := m.TokEmbeddings.Forward(tokens)
	if err != nil {
		return nil, err
	}

	freqs, err := m.rotary.Slice(startPos, startPos+seqlen)
	if err != nil {
		return nil, err
	}

	var mask *tensor.Tensor
	if seqlen > 1 {
		mask = CausalMask(seqlen, startPos)
	}

	for _, layer := range m.Layers {
		if h, err = layer.Forward(h, startPos, freqs, mask); err != nil {
			return nil, fmt.Errorf("layer %d: %w", layer.LayerID, err)
		}
	}

	if h, err = m.Norm.Forward(h); err != nil {
		return nil, err
	}

	// only the final position's logits are needed for incremental decoding
	dim := m.Args.Dim
	last := tensor.New(bsz, dim)
	for b := 0; b < bsz; b++ {
		src := (b*seqlen + seqlen - 1) * dim
		copy(last.Data[b*dim:(b+1)*dim], h.Data[src:src+dim])
	}
	return m.Output.Forward(last)
}
