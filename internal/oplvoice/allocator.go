package oplvoice

import (
	"github.com/retrocoderamen/doomsynth/internal/logging"
	"github.com/retrocoderamen/doomsynth/internal/notetable"
	"github.com/retrocoderamen/doomsynth/internal/oplchip"
)

// Allocator owns the 18 OPL3 hardware voices and implements the
// priority-ranked voice-stealing rule from spec §4.4.
type Allocator struct {
	chip    oplchip.Chip
	voices  [NumVoices]HWVoice
	nextSeq uint64
	musTime int64
	log     *logging.Logger
}

// New builds an Allocator writing to chip.
func New(chip oplchip.Chip, log *logging.Logger) *Allocator {
	a := &Allocator{chip: chip, log: log}
	a.Reset()
	return a
}

// Reset clears every hardware voice (spec §3 "Lifecycles": hw voices are
// cleared on start, with no note and no instrument loaded).
func (a *Allocator) Reset() {
	for i := range a.voices {
		a.voices[i] = freeVoice()
	}
	a.nextSeq = 0
}

// SetTime records the player's current tick count, used for ReleaseDeadline
// bookkeeping (spec §3; not consulted by KeyOn, per Open Question 3).
func (a *Allocator) SetTime(musTime int64) {
	a.musTime = musTime
}

// Voices exposes the hardware voice table read-only, for tests and for
// AllNotesOff/AllSoundOff style global queries.
func (a *Allocator) Voices() [NumVoices]HWVoice {
	return a.voices
}

// selectVoice implements spec §4.4's priority order, returning the chosen
// hardware voice index, or ok=false if the note should be dropped.
func (a *Allocator) selectVoice(req KeyOnRequest, instrumentSelector int) (int, bool) {
	// Priority 1: a voice already playing this exact (channel, note, slot)
	// — double-trigger replace.
	for i := range a.voices {
		v := &a.voices[i]
		if !v.Free && v.MusChannel == req.MusChannel && v.PlayingMidiNote == req.MidiNote+req.NoteOffset && v.VoiceSlot == req.VoiceSlot {
			return i, true
		}
	}

	// Priority 2: oldest free voice whose last-loaded instrument selector
	// matches (avoids reprogramming instrument registers).
	best := -1
	for i := range a.voices {
		v := &a.voices[i]
		if !v.Free || v.InstrumentSelector != instrumentSelector {
			continue
		}
		if best == -1 || v.KeyOnSeq < a.voices[best].KeyOnSeq {
			best = i
		}
	}
	if best != -1 {
		return best, true
	}

	// Priority 3: oldest free voice, any instrument.
	for i := range a.voices {
		v := &a.voices[i]
		if !v.Free {
			continue
		}
		if best == -1 || v.KeyOnSeq < a.voices[best].KeyOnSeq {
			best = i
		}
	}
	if best != -1 {
		return best, true
	}

	// Priority 4: drop the note. We never steal an active voice by default.
	return -1, false
}

// KeyOn allocates a hardware voice for req and keys it on, returning the
// chosen voice index. ok is false when the note was dropped (priority 4).
func (a *Allocator) KeyOn(req KeyOnRequest) (int, bool) {
	instrumentSelector := req.InstrumentIndex | (req.VoiceSlot << 8)

	idx, ok := a.selectVoice(req, instrumentSelector)
	if !ok {
		if a.log != nil {
			a.log.Warnf(logging.ComponentOPL, "no free hw voice for mus channel %d note %d, dropping", req.MusChannel, req.MidiNote)
		}
		return -1, false
	}

	v := &a.voices[idx]
	if !v.Free {
		a.keyOffVoice(idx)
	}

	bank, regCh := bankAndReg(idx)

	if v.InstrumentSelector != instrumentSelector {
		a.loadInstrument(idx, req.Voice)
		v.InstrumentSelector = instrumentSelector
		v.InstrumentIndex = req.InstrumentIndex
	}

	v.Free = false
	v.KeyOnSeq = a.nextSeq
	a.nextSeq++
	v.MusChannel = req.MusChannel
	v.VoiceSlot = req.VoiceSlot
	v.PlayingMidiNote = clamp(req.MidiNote+req.NoteOffset, 0, 127)
	v.FineTuneCents = req.FineTuneCents
	v.NoteAttDB = int(attenuationFor(req.Velocity))
	v.ReleaseDeadline = 0

	total := clamp(req.MainAttDB+v.NoteAttDB+req.ChannelAttDB+req.PanAttDB, 0, 63)
	a.programAttenuation(idx, total)

	cmd := notetable.NoteCmds[v.PlayingMidiNote]
	combined := notetable.NoteCmd(int(cmd) + v.FineTuneCents)
	v.LastHWFreqCmd = combined
	writeFreqCmd(a.chip, bank, regCh, combined)

	return idx, true
}

func attenuationFor(velocity uint8) int8 {
	if velocity > 127 {
		velocity = 127
	}
	return notetable.AttLogSquare[velocity]
}

// KeyOffNote releases every hw voice currently playing (musChannel, note)
// regardless of VoiceSlot — a double-voice note's two voices release
// together (Design Notes).
func (a *Allocator) KeyOffNote(musChannel, note int) {
	for i := range a.voices {
		v := &a.voices[i]
		if v.Free || v.MusChannel != musChannel {
			continue
		}
		if v.PlayingMidiNote == note {
			a.keyOffVoice(i)
		}
	}
}

func (a *Allocator) keyOffVoice(idx int) {
	v := &a.voices[idx]
	bank, regCh := bankAndReg(idx)
	cleared := v.LastHWFreqCmd &^ (1 << 13)
	writeFreqCmd(a.chip, bank, regCh, cleared)
	v.LastHWFreqCmd = cleared
	v.ReleaseDeadline = a.musTime + 4
	v.Free = true
}

// AllNotesOff key-offs every voice owned by musChannel.
func (a *Allocator) AllNotesOff(musChannel int) {
	for i := range a.voices {
		v := &a.voices[i]
		if !v.Free && v.MusChannel == musChannel {
			a.keyOffVoice(i)
		}
	}
}

// AllSoundOff is AllNotesOff; this allocator has no separate
// sound-vs-note distinction (no release-tail synthesis to cut short).
func (a *Allocator) AllSoundOff(musChannel int) {
	a.AllNotesOff(musChannel)
}

// UpdateChannelVolume recomputes attenuation for every hw voice owned by
// musChannel from the current channel/main/pan attenuation terms
// (spec §4.4 "Volume updates"); NoteAttDB stays fixed from key-on time.
func (a *Allocator) UpdateChannelVolume(musChannel, mainAttDB, channelAttDB, panAttDB int) {
	for i := range a.voices {
		v := &a.voices[i]
		if v.Free || v.MusChannel != musChannel {
			continue
		}
		total := clamp(mainAttDB+v.NoteAttDB+channelAttDB+panAttDB, 0, 63)
		a.programAttenuation(i, total)
	}
}

// PitchBend re-encodes the frequency of every hw voice owned by musChannel
// for a bend in [-128,127], 64 units per semitone (spec §4.4). The bend is
// linear interpolation in absolute-frequency space between the voice's base
// note and its upper/lower neighbour in notetable.NoteCmds, matching
// LittleMUS's bend_pitch — not a continuous exponential Hz curve.
func (a *Allocator) PitchBend(musChannel int, bend int8) {
	if bend == 0 {
		return
	}
	for i := range a.voices {
		v := &a.voices[i]
		if v.Free || v.MusChannel != musChannel {
			continue
		}
		cmd := bendFreqCmd(v.PlayingMidiNote, int(bend), v.FineTuneCents)
		v.LastHWFreqCmd = cmd
		bank, regCh := bankAndReg(i)
		writeFreqCmd(a.chip, bank, regCh, cmd)
	}
}

// bendFreqCmd computes the bent frequency command for baseNote, linearly
// interpolating in absolute-frequency space between baseNote's table entry
// and the entry one semitone away in the bend's direction, as
// LittleMUS/musplayer.c's bend_pitch does. bend is in [-128,127], 64 units
// per semitone; fineTune is added to every table lookup before decoding.
func bendFreqCmd(baseNote, bend, fineTune int) notetable.NoteCmd {
	note := baseNote
	var freq int
	if bend > 0 {
		note++
		if bend > 64 {
			bend -= 64
			freq = absoluteFreq(int(notetable.NoteCmds[clamp(note, 0, 127)]) + fineTune)
			note++
		} else {
			freq = absoluteFreq(int(notetable.NoteCmds[clamp(baseNote, 0, 127)]) + fineTune)
		}
		next := int(notetable.NoteCmds[clamp(note, 0, 127)]) + fineTune
		nextScale := (next >> 10) & 0x07
		higher := (next & 0x3FF) << nextScale
		freq += ((higher - freq) * bend) >> 6
		return reencodeFreq(freq, nextScale)
	}

	bend = -bend
	note--
	if bend > 64 {
		bend -= 64
		freq = absoluteFreq(int(notetable.NoteCmds[clamp(note, 0, 127)]) + fineTune)
		note--
	} else {
		freq = absoluteFreq(int(notetable.NoteCmds[clamp(baseNote, 0, 127)]) + fineTune)
	}
	next := int(notetable.NoteCmds[clamp(note, 0, 127)]) + fineTune
	nextScale := (next >> 10) & 0x07
	lower := (next & 0x3FF) << nextScale
	freq -= ((freq - lower) * bend) >> 6
	return reencodeFreq(freq, nextScale)
}

// absoluteFreq decodes a NoteCmd-shaped value into its absolute-frequency
// representation, (fnum&1023)<<block.
func absoluteFreq(cmd int) int {
	scale := (cmd >> 10) & 0x07
	return (cmd & 0x3FF) << scale
}

// reencodeFreq re-scales an absolute frequency back to a keyed-on NoteCmd at
// the given block, clamping fnum to the 10-bit range.
func reencodeFreq(freq, scale int) notetable.NoteCmd {
	fnum := freq >> scale
	if fnum > notetable.MaxFnum {
		fnum = notetable.MaxFnum
	}
	if fnum < 0 {
		fnum = 0
	}
	return notetable.NoteCmd((1 << 13) | ((scale & 0x07) << 10) | fnum)
}

func writeFreqCmd(chip oplchip.Chip, bank int, regCh uint8, cmd notetable.NoteCmd) {
	block, fnum, keyOn := notetable.DecodeNoteCmd(cmd)
	lo := uint8(fnum & 0xFF)
	hi := uint8((fnum >> 8) & 0x03)
	b0 := hi | uint8(block&0x07)<<2
	if keyOn {
		b0 |= 0x20
	}
	chip.WriteReg(bank, 0xA0+regCh, lo)
	chip.WriteReg(bank, 0xB0+regCh, b0)
}

// programAttenuation combines the instrument's own per-operator output
// level (v.CarLevel/v.ModLevel, set by loadInstrument) with the dynamic
// attenuation term, independently clamped per operator, and writes both
// level registers unconditionally. The modulator only adds totalAttDB in
// additive (feedback) mode; the carrier always does. Matches
// musplayer.c's update_volume/key_on (spec.md:102).
func (a *Allocator) programAttenuation(idx int, totalAttDB int) {
	v := &a.voices[idx]
	bank, regCh := bankAndReg(idx)

	carLvl := uint8(clamp(int(v.CarLevel)+totalAttDB, 0, 63))
	a.chip.WriteReg(bank, 0x40+carrierSlot(regCh), (v.KSL2<<6)|(carLvl&0x3F))

	modAtt := int(v.ModLevel)
	if v.Additive {
		modAtt += totalAttDB
	}
	modLvl := uint8(clamp(modAtt, 0, 63))
	a.chip.WriteReg(bank, 0x40+modulatorSlot(regCh), (v.KSL1<<6)|(modLvl&0x3F))
}
