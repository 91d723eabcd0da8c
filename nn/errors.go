package nn

import (
	"errors"

	"cipherllama/core/ckkswrapper"
)

// ErrShapeMismatch aliases the ciphertext-side sentinel so callers have a
// single identity to test against, whichever side of the encrypt boundary
// the violation happened on.
var ErrShapeMismatch = ckkswrapper.ErrShapeMismatch

// ErrCapacityExceeded is returned when a forward call would write past the
// KV cache's allocated sequence length or batch capacity. The cache is left
// untouched.
var ErrCapacityExceeded = errors.New("capacity exceeded")
