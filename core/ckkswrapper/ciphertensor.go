package ckkswrapper

import (
	"fmt"

	"cipherllama/tensor"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// CipherTensor is an encrypted real-valued array. The ciphertext is opaque;
// the shape rides alongside it and is validated by every operation. A
// CipherTensor supports addition, elementwise multiplication by plaintext,
// and layout-only reshape. Nonlinear operations and decryption require the
// HeContext holding the secret key.
type CipherTensor struct {
	Ct    *rlwe.Ciphertext
	Shape []int
}

// Size returns the number of encrypted elements.
func (c *CipherTensor) Size() int {
	total := 1
	for _, d := range c.Shape {
		total *= d
	}
	return total
}

// Reshape reinterprets the encrypted buffer under a new shape without
// touching the ciphertext. The element count must be preserved.
func (c *CipherTensor) Reshape(shape ...int) error {
	total := 1
	for _, d := range shape {
		total *= d
	}
	if total != c.Size() {
		return fmt.Errorf("%w: cannot view %v as %v", ErrShapeMismatch, c.Shape, shape)
	}
	c.Shape = append([]int(nil), shape...)
	return nil
}

// EncryptTensor encodes and encrypts t into a fresh max-level ciphertext.
// The whole tensor is packed into a single ciphertext, so its size must not
// exceed the parameter set's slot count.
func (h *HeContext) EncryptTensor(t *tensor.Tensor) (*CipherTensor, error) {
	size := t.Size()
	if size > h.Params.MaxSlots() {
		return nil, fmt.Errorf("%w: tensor %v has %d elements, parameters provide %d slots",
			ErrShapeMismatch, t.Shape, size, h.Params.MaxSlots())
	}
	pt := ckks.NewPlaintext(h.Params, h.Params.MaxLevel())
	if err := h.Encoder.Encode(t.Data, pt); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	ct, err := h.Encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return &CipherTensor{Ct: ct, Shape: append([]int(nil), t.Shape...)}, nil
}

// DecryptTensor decrypts c and reinterprets the flat slot buffer according to
// the shape carried with the ciphertext.
func (h *HeContext) DecryptTensor(c *CipherTensor) (*tensor.Tensor, error) {
	pt := h.Decryptor.DecryptNew(c.Ct)
	values := make([]float64, h.Params.MaxSlots())
	if err := h.Encoder.Decode(pt, values); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out := tensor.New(c.Shape...)
	copy(out.Data, values[:out.Size()])
	return out, nil
}

// Add returns a+b. Both operands must carry the same shape.
func (k *ServerKit) Add(a, b *CipherTensor) (*CipherTensor, error) {
	if !sameShape(a.Shape, b.Shape) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, a.Shape, b.Shape)
	}
	ct, err := k.Evaluator.AddNew(a.Ct, b.Ct)
	if err != nil {
		return nil, err
	}
	return &CipherTensor{Ct: ct, Shape: append([]int(nil), a.Shape...)}, nil
}

// MulPlain returns the elementwise product of a with a plaintext vector of
// the same flattened length. Consumes one level; the operand is refreshed
// first when its ladder is exhausted.
func (k *ServerKit) MulPlain(h *HeContext, a *CipherTensor, v []float64) (*CipherTensor, error) {
	if len(v) != a.Size() {
		return nil, fmt.Errorf("%w: ciphertext %v vs plaintext vector of length %d",
			ErrShapeMismatch, a.Shape, len(v))
	}
	ct := a.Ct
	if NeedsRefresh(ct, 1) {
		var err error
		if ct, err = h.Refresh(ct); err != nil {
			return nil, err
		}
	}
	out, err := k.Evaluator.MulRelinNew(ct, v)
	if err != nil {
		return nil, err
	}
	if err := k.Evaluator.Rescale(out, out); err != nil {
		return nil, err
	}
	return &CipherTensor{Ct: out, Shape: append([]int(nil), a.Shape...)}, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
