package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reduceInput(t *testing.T) *Volume[float64] {
	// Three batch items of two features each.
	return vol(t, []float64{1, -2, 3, 4, -5, 6}, 2, 1, 1, 3)
}

func TestReduce(t *testing.T) {
	tests := []struct {
		op   ReduceOp
		want []float64
	}{
		{ReduceAdd, []float64{-1, 7, 1}},
		{ReduceMax, []float64{1, 4, 6}},
		{ReduceMin, []float64{-2, 3, -5}},
		{ReduceNorm1, []float64{3, 7, 11}},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			out := zeros[float64](t, 1, 1, 1, 3)
			require.NoError(t, reduceInput(t).Reduce(out, tt.op))
			assert.Equal(t, tt.want, values(t, out))
		})
	}
}

func TestReduce_NotSupported(t *testing.T) {
	for _, op := range []ReduceOp{ReduceMul, ReduceAMax, ReduceAvg, ReduceNorm2} {
		out := zeros[float64](t, 1, 1, 1, 3)
		assert.ErrorIs(t, reduceInput(t).Reduce(out, op), ErrNotSupported, op.String())
	}
}

func TestSum_PerFeatureAcrossBatch(t *testing.T) {
	out := zeros[float64](t, 2, 1, 1, 1)
	require.NoError(t, reduceInput(t).Sum(out))
	assert.Equal(t, []float64{-1, 8}, values(t, out))

	assert.ErrorIs(t, reduceInput(t).Sum(zeros[float64](t, 3, 1, 1, 1)), ErrDimension)
}

func TestSum_SingleItem(t *testing.T) {
	in := vol(t, []float32{1, 2, 3, 4}, 4)
	out := zeros[float32](t, 1)

	require.NoError(t, in.Sum(out))
	assert.Equal(t, float32(10), out.Get(0))
}

func TestReduce_ResultTooSmall(t *testing.T) {
	assert.ErrorIs(t, reduceInput(t).Max(zeros[float64](t, 1, 1, 1, 2)), ErrDimension)
}
