package biquad

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDCConvergence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := rapid.Float64Range(-32768, 32767).Draw(t, "c")
		f := New(44100, 4400, 0.6)

		var y float64
		for i := 0; i < 2000; i++ {
			y = f.Step(c)
		}
		assert.InDelta(t, c, y, 1.0, "biquad should converge to constant input within 1 LSB")
	})
}

func TestSilenceStaysZero(t *testing.T) {
	f := New(44100, 4400, 0.6)
	for i := 0; i < 100; i++ {
		y := f.Step(0)
		require.Zero(t, y)
	}
}

func TestResetClearsState(t *testing.T) {
	f := New(44100, 4400, 0.6)
	for i := 0; i < 50; i++ {
		f.Step(1000)
	}
	f.Reset()
	y := f.Step(0)
	assert.Equal(t, 0.0, y)
}

func TestCoefficientsFinite(t *testing.T) {
	f := New(44100, 4400, 0.6)
	assert.False(t, math.IsNaN(f.b0) || math.IsInf(f.b0, 0))
	assert.False(t, math.IsNaN(f.a1) || math.IsInf(f.a1, 0))
}
