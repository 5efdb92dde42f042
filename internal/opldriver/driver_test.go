package opldriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrocoderamen/doomsynth/internal/oplchip"
)

func TestGenerateSilentChipProducesSilence(t *testing.T) {
	chip := oplchip.NewSoftware(49716)
	d := New(chip, 44100, 4096, nil)

	out := make([]int16, 1024) // 512 frames
	require.NoError(t, d.Generate(out))
	for _, s := range out {
		assert.Zero(t, s)
	}
}

func TestGenerateRejectsOversizeRequest(t *testing.T) {
	chip := oplchip.NewSoftware(49716)
	d := New(chip, 44100, 64, nil) // tiny native buffer

	out := make([]int16, 2*4096) // far more frames than the buffer was sized for
	err := d.Generate(out)
	assert.ErrorIs(t, err, ErrBufferOverflow)
}

func TestGenerateProducesEvenLengthOutput(t *testing.T) {
	chip := oplchip.NewSoftware(49716)
	d := New(chip, 44100, 4096, nil)

	out := make([]int16, 256)
	require.NoError(t, d.Generate(out))
	assert.Len(t, out, 256)
}

func TestRepeatedGenerateCallsAdvanceTickCounterMonotonically(t *testing.T) {
	chip := oplchip.NewSoftware(49716)
	d := New(chip, 44100, 4096, nil)

	out := make([]int16, 512)
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Generate(out))
	}
	assert.GreaterOrEqual(t, d.tickCounter, 0)
	assert.LessOrEqual(t, d.tickCounter, samplesPerTick)
}
