package nn

import "fmt"

// ModelArgs is the model configuration supplied by the caller. It is fixed at
// construction time.
type ModelArgs struct {
	Dim        int
	NLayers    int
	NHeads     int
	VocabSize  int
	MultipleOf int // SwiGLU hidden width is rounded up to a multiple of this
	NormEps    float64

	MaxBatchSize int
	MaxSeqLen    int
}

// DefaultModelArgs mirrors the reference configuration.
func DefaultModelArgs() ModelArgs {
	return ModelArgs{
		Dim:          512,
		NLayers:      8,
		NHeads:       8,
		VocabSize:    -1, // set by the caller
		MultipleOf:   256,
		NormEps:      1e-5,
		MaxBatchSize: 32,
		MaxSeqLen:    1024,
	}
}

// HeadDim returns the per-head feature width.
func (a ModelArgs) HeadDim() int { return a.Dim / a.NHeads }

// Validate rejects configurations the model cannot run with.
func (a ModelArgs) Validate() error {
	if a.Dim <= 0 || a.NLayers <= 0 || a.NHeads <= 0 {
		return fmt.Errorf("dim, n_layers and n_heads must be positive, got %d/%d/%d", a.Dim, a.NLayers, a.NHeads)
	}
	if a.Dim%a.NHeads != 0 {
		return fmt.Errorf("dim %d not divisible by n_heads %d", a.Dim, a.NHeads)
	}
	if a.HeadDim()%2 != 0 {
		return fmt.Errorf("head dimension %d must be even for rotary pairs", a.HeadDim())
	}
	if a.VocabSize <= 0 {
		return fmt.Errorf("vocab size must be positive, got %d", a.VocabSize)
	}
	if a.MultipleOf <= 0 {
		return fmt.Errorf("multiple_of must be positive, got %d", a.MultipleOf)
	}
	if a.MaxBatchSize <= 0 || a.MaxSeqLen <= 0 {
		return fmt.Errorf("max batch size and max sequence length must be positive, got %d/%d", a.MaxBatchSize, a.MaxSeqLen)
	}
	return nil
}
