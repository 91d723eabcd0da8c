package ckkswrapper

import (
	"errors"
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// ErrShapeMismatch is returned whenever a ciphertext's or tensor's declared
// shape disagrees with an operation's expectation. Shape errors are programmer
// errors, not transient conditions: there is no retry path.
var ErrShapeMismatch = errors.New("shape mismatch")

// HeContext holds CKKS parameters and key material. It is built once per
// decoding session (key generation is the expensive part) and is read-only
// afterwards, so one context can be shared by every attention layer and by
// concurrently decoding sequences.
//
// Decrypted values are approximate: CKKS trades exactness for homomorphic
// arithmetic, and callers must compare results with a tolerance proportional
// to the inverse of the default scale rather than expecting bit equality.
type HeContext struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Encryptor *rlwe.Encryptor
	Decryptor *rlwe.Decryptor

	kgen *rlwe.KeyGenerator
	sk   *rlwe.SecretKey
	rlk  *rlwe.RelinearizationKey
}

// ServerKit bundles an evaluator with the rotation keys a layer asked for.
type ServerKit struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Evaluator *ckks.Evaluator
}

// DefaultParametersLiteral is the parameter set used when no explicit
// parameters are supplied: ring degree 2^13 with a shallow modulus ladder.
// The bridge re-encrypts after every projection, so the ladder only needs to
// absorb a single plaintext multiplication at a time.
func DefaultParametersLiteral() ckks.ParametersLiteral {
	return ckks.ParametersLiteral{
		LogN:            13,
		LogQ:            []int{55, 45, 45, 45},
		LogP:            []int{61},
		LogDefaultScale: 45,
	}
}

// NewHeContext builds a context from DefaultParametersLiteral.
func NewHeContext() *HeContext {
	params, err := ckks.NewParametersFromLiteral(DefaultParametersLiteral())
	if err != nil {
		panic(fmt.Sprintf("ckkswrapper: default parameters rejected: %v", err))
	}
	return NewHeContextWithParams(params)
}

// NewHeContextWithLogN builds a context with the default modulus ladder at a
// custom ring degree.
func NewHeContextWithLogN(logN int) *HeContext {
	lit := DefaultParametersLiteral()
	lit.LogN = logN
	params, err := ckks.NewParametersFromLiteral(lit)
	if err != nil {
		panic(fmt.Sprintf("ckkswrapper: parameters for logN=%d rejected: %v", logN, err))
	}
	return NewHeContextWithParams(params)
}

// NewHeContextWithParams generates all key material for the given parameters.
func NewHeContextWithParams(params ckks.Parameters) *HeContext {
	kgen := ckks.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()
	pk := kgen.GenPublicKeyNew(sk)
	rlk := kgen.GenRelinearizationKeyNew(sk)

	return &HeContext{
		Params:    params,
		Encoder:   ckks.NewEncoder(params),
		Encryptor: ckks.NewEncryptor(params, pk),
		Decryptor: rlwe.NewDecryptor(params, sk),
		kgen:      kgen,
		sk:        sk,
		rlk:       rlk,
	}
}

// GenServerKit builds an evaluator holding the relinearization key plus
// Galois keys for the requested rotation steps.
func (h *HeContext) GenServerKit(rots []int) *ServerKit {
	evk := rlwe.NewMemEvaluationKeySet(h.rlk)
	if len(rots) > 0 {
		galEls := h.Params.GaloisElements(rots)
		evk = rlwe.NewMemEvaluationKeySet(h.rlk, h.kgen.GenGaloisKeysNew(galEls, h.sk)...)
	}
	return &ServerKit{
		Params:    h.Params,
		Encoder:   ckks.NewEncoder(h.Params),
		Evaluator: ckks.NewEvaluator(h.Params, evk),
	}
}

// GetWorkerEvaluator returns a shallow copy safe for use on another goroutine.
func (k *ServerKit) GetWorkerEvaluator() *ckks.Evaluator {
	return k.Evaluator.ShallowCopy()
}
