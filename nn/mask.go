package nn

import (
	"math"

	"cipherllama/tensor"
)

// CausalMask builds the additive attention mask for seqlen query positions
// attending over a startPos-long cached prefix plus themselves. Entry (i, j)
// is -Inf whenever key position j lies strictly in the future of query
// position startPos+i, zero otherwise.
func CausalMask(seqlen, startPos int) *tensor.Tensor {
	mask := tensor.New(seqlen, startPos+seqlen)
	negInf := math.Inf(-1)
	for i := 0; i < seqlen; i++ {
		for j := startPos + i + 1; j < startPos+seqlen; j++ {
			mask.Data[i*(startPos+seqlen)+j] = negInf
		}
	}
	return mask
}
