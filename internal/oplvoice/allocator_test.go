package oplvoice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrocoderamen/doomsynth/internal/logging"
	"github.com/retrocoderamen/doomsynth/internal/notetable"
	"github.com/retrocoderamen/doomsynth/internal/op2"
	"github.com/retrocoderamen/doomsynth/internal/oplchip"
)

type fakeChip struct {
	writes []fakeWrite
}

type fakeWrite struct {
	bank int
	reg  uint8
	val  uint8
}

func (f *fakeChip) WriteReg(bank int, reg uint8, value uint8) {
	f.writes = append(f.writes, fakeWrite{bank, reg, value})
}

func (f *fakeChip) Generate() (int16, int16) { return 0, 0 }

func (f *fakeChip) lastValueFor(bank int, reg uint8) (uint8, bool) {
	for i := len(f.writes) - 1; i >= 0; i-- {
		w := f.writes[i]
		if w.bank == bank && w.reg == reg {
			return w.val, true
		}
	}
	return 0, false
}

func testVoice() *op2.Voice {
	return &op2.Voice{
		ModChar: 0x01, ModAttack: 0xF0, ModSustain: 0x00, ModWaveSel: 0x00, ModScale: 0x00, ModLevel: 0x00,
		Feedback: 0x00,
		CarChar:  0x01, CarAttack: 0xF0, CarSustain: 0x00, CarWaveSel: 0x00, CarScale: 0x00, CarLevel: 0x00,
	}
}

func basicReq(ch, note int) KeyOnRequest {
	return KeyOnRequest{
		MusChannel:      ch,
		VoiceSlot:       0,
		MidiNote:        note,
		NoteOffset:      0,
		InstrumentIndex: 1,
		Voice:           testVoice(),
		Velocity:        100,
	}
}

var _ oplchip.Chip = (*fakeChip)(nil)

func TestKeyOnAllocatesFreeVoice(t *testing.T) {
	chip := &fakeChip{}
	a := New(chip, logging.Nop())

	idx, ok := a.KeyOn(basicReq(0, 60))
	require.True(t, ok)
	assert.GreaterOrEqual(t, idx, 0)
	assert.Less(t, idx, NumVoices)
	assert.False(t, a.voices[idx].Free)
}

func TestKeyOnFillsAllVoicesThenDropsOnTheNineteenth(t *testing.T) {
	chip := &fakeChip{}
	a := New(chip, logging.Nop())

	for i := 0; i < NumVoices; i++ {
		req := basicReq(0, 40+i)
		req.InstrumentIndex = i // force distinct instrument loads, no reuse
		_, ok := a.KeyOn(req)
		require.True(t, ok, "voice %d should have allocated", i)
	}

	req := basicReq(0, 99)
	req.InstrumentIndex = 99
	_, ok := a.KeyOn(req)
	assert.False(t, ok, "19th simultaneous note with no free voices should be dropped")
}

func TestKeyOffFreesVoiceForReuse(t *testing.T) {
	chip := &fakeChip{}
	a := New(chip, logging.Nop())

	idx, ok := a.KeyOn(basicReq(0, 60))
	require.True(t, ok)

	a.KeyOffNote(0, 60)
	assert.True(t, a.voices[idx].Free)
}

func TestRetriggerSameNoteReusesSameVoice(t *testing.T) {
	chip := &fakeChip{}
	a := New(chip, logging.Nop())

	idx1, ok := a.KeyOn(basicReq(0, 60))
	require.True(t, ok)
	idx2, ok := a.KeyOn(basicReq(0, 60))
	require.True(t, ok)

	assert.Equal(t, idx1, idx2)
}

func TestKeyOnWritesFrequencyRegisters(t *testing.T) {
	chip := &fakeChip{}
	a := New(chip, logging.Nop())

	idx, ok := a.KeyOn(basicReq(0, 60))
	require.True(t, ok)

	bank, regCh := bankAndReg(idx)
	_, hasLo := chip.lastValueFor(bank, 0xA0+regCh)
	hiVal, hasHi := chip.lastValueFor(bank, 0xB0+regCh)
	assert.True(t, hasLo)
	assert.True(t, hasHi)
	assert.NotZero(t, hiVal&0x20, "key-on bit should be set")
}

func TestAllNotesOffFreesOnlyThatChannel(t *testing.T) {
	chip := &fakeChip{}
	a := New(chip, logging.Nop())

	idx0, ok := a.KeyOn(basicReq(0, 60))
	require.True(t, ok)
	idx1, ok := a.KeyOn(basicReq(1, 64))
	require.True(t, ok)

	a.AllNotesOff(0)

	assert.True(t, a.voices[idx0].Free)
	assert.False(t, a.voices[idx1].Free)
}

func TestPitchBendZeroLeavesFrequencyUnchanged(t *testing.T) {
	chip := &fakeChip{}
	a := New(chip, logging.Nop())

	idx, ok := a.KeyOn(basicReq(0, 60))
	require.True(t, ok)
	before := a.voices[idx].LastHWFreqCmd

	a.PitchBend(0, 0)
	assert.Equal(t, before, a.voices[idx].LastHWFreqCmd)
}

func TestPitchBendDownOneSemitoneMatchesLowerNote(t *testing.T) {
	chip := &fakeChip{}
	a := New(chip, logging.Nop())

	idx, ok := a.KeyOn(basicReq(0, 60))
	require.True(t, ok)

	a.PitchBend(0, -64) // -64/64 = -1 semitone, per spec §8 scenario 6

	bentBlock, bentFnum, _ := notetable.DecodeNoteCmd(a.voices[idx].LastHWFreqCmd)
	wantBlock, wantFnum, _ := notetable.DecodeNoteCmd(notetable.NoteCmds[59])
	assert.Equal(t, wantBlock, bentBlock)
	assert.InDelta(t, wantFnum, bentFnum, 1)
}

func TestUpdateChannelVolumeClampsToSixtyThree(t *testing.T) {
	chip := &fakeChip{}
	a := New(chip, logging.Nop())

	idx, ok := a.KeyOn(basicReq(0, 60))
	require.True(t, ok)

	a.UpdateChannelVolume(0, 1000, 1000, 1000)
	bank, regCh := bankAndReg(idx)
	val, has := chip.lastValueFor(bank, 0x40+carrierSlot(regCh))
	require.True(t, has)
	assert.Equal(t, uint8(63), val&0x3F)
}
