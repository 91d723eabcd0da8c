package ckkswrapper

import (
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// Refresh restores a ciphertext to the maximum level by decrypting and
// re-encrypting. This stands in for real bootstrapping: the context holds the
// secret key anyway, since decode is part of the projection bridge.
//
// The refreshed ciphertext has the maximum level and default scale.
func (h *HeContext) Refresh(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	pt := h.Decryptor.DecryptNew(ct)

	values := make([]complex128, h.Params.MaxSlots())
	if err := h.Encoder.Decode(pt, values); err != nil {
		return nil, err
	}

	newPt := ckks.NewPlaintext(h.Params, h.Params.MaxLevel())
	if err := h.Encoder.Encode(values, newPt); err != nil {
		return nil, err
	}

	return h.Encryptor.EncryptNew(newPt)
}

// NeedsRefresh returns true if the ciphertext level is at or below the
// threshold. Default threshold is 1 level remaining.
func NeedsRefresh(ct *rlwe.Ciphertext, threshold int) bool {
	if threshold <= 0 {
		threshold = 1
	}
	return ct.Level() <= threshold
}
