package nn

import (
	"fmt"

	"cipherllama/tensor"
)

// kvCache stores decrypted per-step key/value activations for one attention
// layer. It is exclusively owned by that layer: concurrent forward calls on
// the same layer must be serialized by the caller, and each concurrently
// decoding sequence needs its own layer instances.
type kvCache struct {
	maxBatch, maxSeq, nHeads, headDim int

	k, v *tensor.Tensor // (maxBatch, maxSeq, nHeads, headDim)
}

func newKVCache(args ModelArgs) *kvCache {
	return &kvCache{
		maxBatch: args.MaxBatchSize,
		maxSeq:   args.MaxSeqLen,
		nHeads:   args.NHeads,
		headDim:  args.HeadDim(),
		k:        tensor.New(args.MaxBatchSize, args.MaxSeqLen, args.NHeads, args.HeadDim()),
		v:        tensor.New(args.MaxBatchSize, args.MaxSeqLen, args.NHeads, args.HeadDim()),
	}
}

// write stores (seqlen, heads, headDim) keys and values at positions
// [startPos, startPos+seqlen) of example b. All bounds are checked before
// anything is written: a violating call leaves the cache untouched.
func (c *kvCache) write(b, startPos int, k, v *tensor.Tensor) error {
	if len(k.Shape) != 3 || len(v.Shape) != 3 ||
		k.Shape[1] != c.nHeads || k.Shape[2] != c.headDim ||
		v.Shape[0] != k.Shape[0] || v.Shape[1] != c.nHeads || v.Shape[2] != c.headDim {
		return fmt.Errorf("%w: cache expects (seqlen, %d, %d), got k=%v v=%v",
			ErrShapeMismatch, c.nHeads, c.headDim, k.Shape, v.Shape)
	}
	seqlen := k.Shape[0]
	if b < 0 || b >= c.maxBatch {
		return fmt.Errorf("%w: batch index %d, capacity %d", ErrCapacityExceeded, b, c.maxBatch)
	}
	if startPos < 0 || startPos+seqlen > c.maxSeq {
		return fmt.Errorf("%w: positions [%d:%d), capacity %d", ErrCapacityExceeded, startPos, startPos+seqlen, c.maxSeq)
	}

	row := c.nHeads * c.headDim
	for s := 0; s < seqlen; s++ {
		dst := ((b*c.maxSeq)+startPos+s)*row
		copy(c.k.Data[dst:dst+row], k.Data[s*row:(s+1)*row])
		copy(c.v.Data[dst:dst+row], v.Data[s*row:(s+1)*row])
	}
	return nil
}

// read returns copies of the causal prefix [0, upto) for example b, shaped
// (upto, heads, headDim). Positions beyond upto are never read.
func (c *kvCache) read(b, upto int) (*tensor.Tensor, *tensor.Tensor) {
	row := c.nHeads * c.headDim
	k := tensor.New(upto, c.nHeads, c.headDim)
	v := tensor.New(upto, c.nHeads, c.headDim)
	src := b * c.maxSeq * row
	copy(k.Data, c.k.Data[src:src+upto*row])
	copy(v.Data, c.v.Data[src:src+upto*row])
	return k, v
}
