package nn

import (
	"cipherllama/core/ckkswrapper"
	"cipherllama/tensor"

	"golang.org/x/exp/rand"
)

// TransformerBlock composes pre-norm attention and feed-forward sublayers
// with residual connections.
type TransformerBlock struct {
	LayerID int

	Attention     *Attention
	FeedForward   *FeedForward
	AttentionNorm *RMSNorm
	FFNNorm       *RMSNorm
}

// NewTransformerBlock builds one decoder block sharing the session's
// encryption context.
func NewTransformerBlock(layerID int, args ModelArgs, heCtx *ckkswrapper.HeContext) *TransformerBlock {
	return &TransformerBlock{
		LayerID:       layerID,
		Attention:     NewAttention(args, heCtx),
		FeedForward:   NewFeedForward(args.Dim, 4*args.Dim, args.MultipleOf),
		AttentionNorm: NewRMSNorm(args.Dim, args.NormEps),
		FFNNorm:       NewRMSNorm(args.Dim, args.NormEps),
	}
}

// InitRandom seeds the block's projections from src.
func (b *TransformerBlock) InitRandom(src rand.Source) {
	b.Attention.InitRandom(src)
	b.FeedForward.InitRandom(src)
}

// Forward computes h = x + Attn(Norm(x)); out = h + FFN(Norm(h)).
func (b *TransformerBlock) Forward(x *tensor.Tensor, startPos int, freqs [][]complex128, mask *tensor.Tensor) (*tensor.Tensor, error) {
	normed, err := b.AttentionNorm.Forward(x)
	if err != nil {
		return nil, err
	}
	attnOut, err := b.Attention.Forward(normed, startPos, freqs, mask)
	if err != nil {
		return nil, err
	}
	h, err := tensor.Add(x, attnOut)
	if err != nil {
		return nil, err
	}

	normed, err = b.FFNNorm.Forward(h)
	if err != nil {
		return nil, err
	}
	ffnOut, err := b.FeedForward.Forward(normed)
	if err != nil {
		return nil, err
	}
	return tensor.Add(h, ffnOut)
}
