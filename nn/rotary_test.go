package nn

import (
	"math"
	"reflect"
	"testing"

	"cipherllama/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotaryTableDeterministic(t *testing.T) {
	a := NewRotaryTable(8, 16, DefaultRotaryBase)
	b := NewRotaryTable(8, 16, DefaultRotaryBase)
	if !reflect.DeepEqual(a.freqs, b.freqs) {
		t.Fatal("rebuilding the table with identical parameters must be bit-identical")
	}
}

func TestRotaryTableAngles(t *testing.T) {
	rt := NewRotaryTable(4, 8, DefaultRotaryBase)

	// position 0 is the identity rotation at every frequency
	assert.Equal(t, complex(1, 0), rt.freqs[0][0])
	assert.Equal(t, complex(1, 0), rt.freqs[0][1])

	// position p, frequency i: angle p / base^(2i/dim)
	assert.InDelta(t, math.Cos(1), real(rt.freqs[1][0]), 1e-15)
	assert.InDelta(t, math.Sin(1), imag(rt.freqs[1][0]), 1e-15)
	angle := 2.0 / math.Pow(DefaultRotaryBase, 2.0/4.0)
	assert.InDelta(t, math.Cos(angle), real(rt.freqs[2][1]), 1e-15)
	assert.InDelta(t, math.Sin(angle), imag(rt.freqs[2][1]), 1e-15)
}

func TestRotarySliceBounds(t *testing.T) {
	rt := NewRotaryTable(4, 8, DefaultRotaryBase)

	freqs, err := rt.Slice(2, 5)
	require.NoError(t, err)
	assert.Len(t, freqs, 3)

	_, err = rt.Slice(6, 9)
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestApplyRotaryUnitVector(t *testing.T) {
	rt := NewRotaryTable(2, 4, DefaultRotaryBase)

	// single head, head_dim 2, positions 0 and 1: (1, 0) rotated by the
	// position angle must land on (cos θ, sin θ); position 0 is identity
	q := tensor.New(2, 1, 2)
	q.Data[0], q.Data[1] = 1, 0
	q.Data[2], q.Data[3] = 1, 0
	k := q.Copy()

	freqs, err := rt.Slice(0, 2)
	require.NoError(t, err)
	qr, kr, err := ApplyRotary(q, k, freqs)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, qr.Data[0], 1e-15)
	assert.InDelta(t, 0.0, qr.Data[1], 1e-15)
	assert.InDelta(t, math.Cos(1), qr.Data[2], 1e-15)
	assert.InDelta(t, math.Sin(1), qr.Data[3], 1e-15)
	assert.InDelta(t, math.Cos(1), kr.Data[2], 1e-15)
	assert.InDelta(t, math.Sin(1), kr.Data[3], 1e-15)
}

func TestApplyRotaryPreservesNorm(t *testing.T) {
	rt := NewRotaryTable(4, 8, DefaultRotaryBase)
	q := tensor.New(3, 2, 4)
	for i := range q.Data {
		q.Data[i] = float64(i%5) - 2
	}
	k := q.Copy()

	freqs, err := rt.Slice(3, 6)
	require.NoError(t, err)
	qr, _, err := ApplyRotary(q, k, freqs)
	require.NoError(t, err)

	// a pure rotation preserves the norm of every adjacent pair
	for i := 0; i+1 < len(q.Data); i += 2 {
		before := math.Hypot(q.Data[i], q.Data[i+1])
		after := math.Hypot(qr.Data[i], qr.Data[i+1])
		assert.InDelta(t, before, after, 1e-12)
	}
}

func TestApplyRotaryShapeChecks(t *testing.T) {
	rt := NewRotaryTable(4, 8, DefaultRotaryBase)
	freqs, err := rt.Slice(0, 2)
	require.NoError(t, err)

	q := tensor.New(3, 2, 4) // 3 positions vs 2 rotary rows
	_, _, err = ApplyRotary(q, q.Copy(), freqs)
	require.ErrorIs(t, err, ErrShapeMismatch)

	q = tensor.New(2, 2, 6) // head_dim 6 vs rotary width 4
	_, _, err = ApplyRotary(q, q.Copy(), freqs)
	require.ErrorIs(t, err, ErrShapeMismatch)
}
