// Package notetable holds the precomputed lookup tables shared by the OPL
// voice allocator: the note-frequency table (spec §6), the attenuation
// curves (spec §6, §9 Open Question 1), and the block/fnum encoding
// helpers used for both initial key-on frequency and pitch-bend re-encode
// (spec §4.4).
package notetable

import "math"

const (
	// NativeRate is the OPL3 chip's native sample-generation rate, used as
	// the "internal sample rate" term in the fnum encode formula.
	NativeRate = 49716.0

	// MaxFnum is the largest value the 10-bit fnum field can hold.
	MaxFnum = 1023

	// UsableNoteMax bounds the note-frequency table: entries for MIDI
	// notes above this are zero (no key-on issued), per spec §6.
	UsableNoteMax = 100
)

// NoteCmd encodes an OPL3 A0|B0 register pair as
// (1<<13) | (block<<10) | fnum, per spec §6. A zero value means "no
// key-on" (outside the OPL3's usable range).
type NoteCmd = uint16

// NoteCmds is the 128-entry note-frequency table (spec §6).
var NoteCmds [128]NoteCmd

func init() {
	for n := 0; n < 128; n++ {
		NoteCmds[n] = computeNoteCmd(n)
	}
}

func computeNoteCmd(midiNote int) NoteCmd {
	if midiNote < 0 || midiNote > UsableNoteMax {
		return 0
	}
	freq := midiNoteToHz(midiNote)
	block, fnum := EncodeFreq(freq)
	return encodeNoteCmd(block, fnum)
}

func midiNoteToHz(note int) float64 {
	return MidiNoteToHz(note)
}

// MidiNoteToHz converts a MIDI note number to Hz using equal temperament
// against A4=440Hz, used to seed NoteCmds at init.
func MidiNoteToHz(note int) float64 {
	return 440.0 * math.Pow(2, (float64(note)-69.0)/12.0)
}

// MidiNoteToHzFrac is MidiNoteToHz for a fractional note number.
func MidiNoteToHzFrac(note float64) float64 {
	return 440.0 * math.Pow(2, (note-69.0)/12.0)
}

// EncodeFreq picks the smallest OPL3 block (0..7) whose fnum fits in
// [0, MaxFnum] for the given frequency in Hz, per the standard
// Fnum = Freq * 2^(20-Block) / NativeRate relation. If no block keeps
// fnum in range (frequency too high), it clamps to block 7 / fnum 1023.
func EncodeFreq(freqHz float64) (block, fnum int) {
	if freqHz <= 0 {
		return 0, 0
	}
	for b := 0; b < 8; b++ {
		f := freqHz * math.Pow(2, float64(20-b)) / NativeRate
		rounded := int(math.Round(f))
		if rounded <= MaxFnum {
			if rounded < 0 {
				rounded = 0
			}
			return b, rounded
		}
	}
	return 7, MaxFnum
}

func encodeNoteCmd(block, fnum int) NoteCmd {
	return NoteCmd((1 << 13) | ((block & 0x07) << 10) | (fnum & 0x3FF))
}

// EncodeNoteCmd is encodeNoteCmd, exported for callers outside this package
// that need to build a NoteCmd from an already-computed block/fnum pair.
func EncodeNoteCmd(block, fnum int) NoteCmd {
	return encodeNoteCmd(block, fnum)
}

// DecodeNoteCmd splits a NoteCmd back into (block, fnum, keyOn).
func DecodeNoteCmd(cmd NoteCmd) (block, fnum int, keyOn bool) {
	keyOn = cmd&(1<<13) != 0
	block = int((cmd >> 10) & 0x07)
	fnum = int(cmd & 0x3FF)
	return
}

// AttLogSquare approximates clamp(-40*log10(v/100)/0.75, -7, 96) for
// v in [0,127], the only attenuation table wired into any code path
// (spec §9 Open Question 1).
var AttLogSquare [128]int8

func init() {
	for v := 0; v < 128; v++ {
		AttLogSquare[v] = computeAttLogSquare(v)
	}
}

func computeAttLogSquare(v int) int8 {
	if v <= 0 {
		return 96
	}
	db := -40.0 * math.Log10(float64(v)/100.0) / 0.75
	if db < -7 {
		db = -7
	}
	if db > 96 {
		db = 96
	}
	return int8(math.Round(db))
}

// attLogCube is the predecessor attenuation curve found in
// original_source/thirdparty/musplayer.c's earlier note-velocity path.
// Spec §9 Open Question 1 resolves that the final design uses
// AttLogSquare everywhere; attLogCube is preserved for the historical
// record only and is never read by any other package.
var attLogCube [128]int8

func init() {
	for v := 0; v < 128; v++ {
		if v <= 0 {
			attLogCube[v] = 96
			continue
		}
		db := -40.0 * math.Log10(math.Pow(float64(v)/100.0, 3)) / 0.75
		if db < -7 {
			db = -7
		}
		if db > 96 {
			db = 96
		}
		attLogCube[v] = int8(math.Round(db))
	}
}
