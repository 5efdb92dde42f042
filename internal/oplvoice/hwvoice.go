// Package oplvoice implements the 18-voice OPL3 hardware voice allocator
// (spec §4.4): mapping MUS notes onto OPL3's 18 physical voices, priority
// voice selection, instrument (re)programming, and volume/pitch-bend
// register updates.
package oplvoice

import (
	"github.com/retrocoderamen/doomsynth/internal/notetable"
	"github.com/retrocoderamen/doomsynth/internal/op2"
)

// NumVoices is the OPL3 hardware voice count (spec §3).
const NumVoices = 18

// HWVoice mirrors spec §3's "Mus hardware voice" entry.
type HWVoice struct {
	Free bool

	KeyOnSeq        uint64
	ReleaseDeadline int64 // mus_time + 4 at key-off; never read for allocation (spec §9 Open Question 3).

	MusChannel         int
	PlayingMidiNote    int // combined note+offset index used for the original hw_cmd lookup
	VoiceSlot          int // 0 = primary, 1 = double-voice secondary
	InstrumentIndex    int
	InstrumentSelector int // InstrumentIndex | (VoiceSlot<<8), per the Design Notes bit-8 tag

	NoteAttDB     int
	LastHWFreqCmd notetable.NoteCmd

	KSL1, KSL2    uint8
	FeedbackByte  uint8
	Additive      bool
	FineTuneCents int

	// ModLevel/CarLevel are the instrument patch's own operator output
	// levels (op2.Voice.ModLevel/CarLevel), loaded once per loadInstrument
	// and combined with the dynamic attenuation term on every
	// programAttenuation call, never overwritten by it (spec.md:102).
	ModLevel, CarLevel uint8
}

func freeVoice() HWVoice {
	return HWVoice{Free: true, MusChannel: -1, PlayingMidiNote: -1, InstrumentSelector: -1}
}

// KeyOnRequest is everything the allocator needs to key on one note onto
// one hardware voice (spec §4.3/§4.4).
type KeyOnRequest struct {
	MusChannel      int
	VoiceSlot       int // 0 primary, 1 double-voice secondary
	MidiNote        int // requested note, before instrument offset
	NoteOffset      int // instrument.Voice[slot].NoteOffset, or 0 for fixed-note instruments
	FineTuneCents   int // (instrument.FineTune/2)-64 on the double-voice secondary only, else 0
	InstrumentIndex int
	Voice           *op2.Voice
	Velocity        uint8 // raw MIDI velocity/last_velocity, 0..127
	MainAttDB       int
	ChannelAttDB    int
	PanAttDB        int
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func bankAndReg(hwVoice int) (bank int, regCh uint8) {
	if hwVoice < 9 {
		return 0, uint8(hwVoice)
	}
	return 1, uint8(hwVoice - 9)
}

func modulatorSlot(regCh uint8) uint8 { return regCh * 2 }
func carrierSlot(regCh uint8) uint8   { return regCh*2 + 1 }
