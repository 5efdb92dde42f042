package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSilenceInSilenceOut(t *testing.T) {
	r := New(49716, 44100, 22050)
	src := func() (int16, bool) { return 0, true }
	for i := 0; i < 500; i++ {
		out, ok := r.Next(src)
		require.True(t, ok)
		assert.Zero(t, out)
	}
}

func TestUnderflowPropagates(t *testing.T) {
	r := New(49716, 44100, 22050)
	calls := 0
	src := func() (int16, bool) {
		calls++
		return 0, false
	}
	_, ok := r.Next(src)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, calls, 1)
}

func TestOutputAlwaysInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New(49716, 44100, 22050)
		n := rapid.IntRange(1, 200).Draw(t, "n")
		samples := rapid.SliceOfN(rapid.Int16Range(-32768, 32767), n, n).Draw(t, "samples")
		idx := 0
		src := func() (int16, bool) {
			if idx >= len(samples) {
				return 0, false
			}
			s := samples[idx]
			idx++
			return s, true
		}
		for i := 0; i < n; i++ {
			out, ok := r.Next(src)
			if !ok {
				break
			}
			assert.GreaterOrEqual(t, out, int16(-32768))
			assert.LessOrEqual(t, out, int16(32767))
		}
	})
}
