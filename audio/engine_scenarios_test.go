package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrocoderamen/doomsynth/internal/logging"
	"github.com/retrocoderamen/doomsynth/internal/lump"
	"github.com/retrocoderamen/doomsynth/internal/sfx"
)

func newScenarioEngine(t *testing.T, cfg Config, provider *lump.Static) *Engine {
	t.Helper()
	e, err := InitSound(cfg, provider, logging.Nop())
	require.NoError(t, err)
	e.SetChannels()
	return e
}

func squareWaveLump(n int) []byte {
	raw := make([]byte, 8+n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			raw[8+i] = 0
		} else {
			raw[8+i] = 255
		}
	}
	return raw
}

// buildMusScore assembles a minimal well-formed MUS file: a 16-byte header
// (no instrument patches, score immediately follows) wrapping body.
func buildMusScore(body []byte) []byte {
	const headerSize = 16
	buf := make([]byte, headerSize)
	copy(buf[0:4], "MUS\x1A")
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(body)))
	binary.LittleEndian.PutUint16(buf[6:8], headerSize)
	binary.LittleEndian.PutUint16(buf[8:10], 16)
	binary.LittleEndian.PutUint16(buf[10:12], 0)
	return append(buf, body...)
}

// Scenario 1 (spec §8): silence in, silence out.
func TestScenarioSilenceYieldsZeroedBuffer(t *testing.T) {
	provider := lump.NewStatic()
	e := newScenarioEngine(t, Config{MaxFrames: 1024, AllowFallbackBank: true}, provider)

	out := make([]int16, 1024) // 512 frames
	e.Callback(out)
	for _, s := range out {
		assert.Zero(t, s)
	}
}

// Scenario 2 (spec §8): a static square-wave sfx stays within int16 bounds
// and goes inactive after exactly length*4 output samples.
func TestScenarioStaticSfxBecomesInactiveAfterLengthTimesFour(t *testing.T) {
	provider := lump.NewStatic()
	e := newScenarioEngine(t, Config{MaxFrames: 4096, AllowFallbackBank: true}, provider)

	const id sfx.SoundID = 1
	// n is a multiple of the default ChunkSize (128), so cache padding does
	// not lengthen the sample past n.
	const n = 128
	provider.SetSfxLump("dsfoo", squareWaveLump(n))
	require.True(t, e.LoadSfxLump(provider, id, "dsfoo"))

	h, err := e.StartSound(id, 127, 128, 128) // pitch=128 => no resample shift
	require.NoError(t, err)
	require.True(t, e.SoundIsPlaying(h))

	out := make([]int16, (n*4+8)*2)
	e.Callback(out)
	for _, s := range out {
		assert.GreaterOrEqual(t, int32(s), int32(-32768))
		assert.LessOrEqual(t, int32(s), int32(32767))
	}
	assert.False(t, e.SoundIsPlaying(h))
}

// Scenario 3 (spec §8): the 9th StartSound reuses the oldest slot; its
// handle's high bits exceed the first handle's by exactly 8*NumChannels
// (eight allocations between them, each advancing the sequence by
// NumChannels).
func TestScenarioNinthStartSoundReusesOldestSlot(t *testing.T) {
	provider := lump.NewStatic()
	e := newScenarioEngine(t, Config{MaxFrames: 1024, AllowFallbackBank: true}, provider)

	const id sfx.SoundID = 1
	provider.SetSfxLump("dsfoo", squareWaveLump(1<<20))
	require.True(t, e.LoadSfxLump(provider, id, "dsfoo"))

	var first sfx.Handle
	for i := 0; i < sfx.NumChannels; i++ {
		h, err := e.StartSound(id, 100, 128, 128)
		require.NoError(t, err)
		if i == 0 {
			first = h
		}
	}

	ninth, err := e.StartSound(id, 100, 128, 128)
	require.NoError(t, err)
	assert.Equal(t, uint32(first)+uint32(sfx.NumChannels*sfx.NumChannels), uint32(ninth))
}

// Scenario 4 (spec §8): starting a dedup'd sound twice leaves only the
// second handle active; the first goes stale.
func TestScenarioChainsawDedupLeavesOnlySecondHandleActive(t *testing.T) {
	provider := lump.NewStatic()
	e := newScenarioEngine(t, Config{MaxFrames: 1024, AllowFallbackBank: true, DedupIDs: []sfx.SoundID{7}}, provider)

	provider.SetSfxLump("dssawup", squareWaveLump(1<<20))
	require.True(t, e.LoadSfxLump(provider, 7, "dssawup"))

	first, err := e.StartSound(7, 100, 128, 128)
	require.NoError(t, err)
	second, err := e.StartSound(7, 100, 128, 128)
	require.NoError(t, err)

	assert.False(t, e.SoundIsPlaying(first))
	assert.True(t, e.SoundIsPlaying(second))
}

// Scenario 5 (spec §8): with music volume forced to 0, a running song
// contributes nothing to the mix (verified here with no sfx running, so
// the whole buffer must be silent).
func TestScenarioMusicVolumeZeroSuppressesMusic(t *testing.T) {
	provider := lump.NewStatic()
	e := newScenarioEngine(t, Config{MaxFrames: 4096, AllowFallbackBank: true}, provider)

	body := []byte{
		0x10, 0xBC, 0x7F, // note-on ch0, note 60, velocity 127 (not last)
		0xA0, 0x40, // pitch wheel ch0, value 64 (last, delay follows)
		0x0A, // delay = 10 ticks
		0x60, // end of score
	}
	score, err := e.RegisterSong(buildMusScore(body))
	require.NoError(t, err)

	e.SetMusicVolume(0)
	e.PlaySong(score, false)

	out := make([]int16, 4096)
	e.Callback(out)
	for _, s := range out {
		assert.Zero(t, s)
	}
}

// Scenario 6 (spec §8): pitch_wheel(64) on a note-60 channel bends it down
// one semitone (note 59); the exact register-level check lives alongside
// the voice allocator. Here we exercise the same score end-to-end through
// Engine and require it to play cleanly within int16 bounds.
func TestScenarioPitchWheelPlaysWithoutFault(t *testing.T) {
	provider := lump.NewStatic()
	e := newScenarioEngine(t, Config{MaxFrames: 4096, AllowFallbackBank: true}, provider)

	body := []byte{
		0x10, 0xBC, 0x7F, // note-on ch0, note 60, velocity 127 (not last)
		0xA0, 0x40, // pitch wheel ch0, value 64 => bend -64 (one semitone down)
		0x0A, // delay = 10 ticks
		0x60, // end of score
	}
	score, err := e.RegisterSong(buildMusScore(body))
	require.NoError(t, err)

	e.SetMusicVolume(80)
	e.PlaySong(score, true)
	require.True(t, e.QrySongPlaying())

	out := make([]int16, 4096)
	for i := 0; i < 4; i++ {
		e.Callback(out)
		for _, s := range out {
			assert.GreaterOrEqual(t, int32(s), int32(-32768))
			assert.LessOrEqual(t, int32(s), int32(32767))
		}
	}
	assert.True(t, e.QrySongPlaying())
}
