// Package mus decodes and plays id Software's MUS score format (spec §4.3,
// §6), driving an internal/oplvoice.Allocator exactly as the OPL3 voice
// allocator expects: note-on/off, pitch-bend, and per-channel volume
// updates, on a 140Hz tick clock.
package mus

import (
	"encoding/binary"
	"errors"

	"github.com/retrocoderamen/doomsynth/internal/logging"
	"github.com/retrocoderamen/doomsynth/internal/notetable"
	"github.com/retrocoderamen/doomsynth/internal/op2"
	"github.com/retrocoderamen/doomsynth/internal/oplvoice"
)

const (
	headerMagic   = "MUS\x1A"
	headerSize    = 16
	numChannels   = 16
	percussionCh  = 15
	percussionLo  = 35
	percussionHi  = 81
	defaultVolume = 127
)

// ErrBadMagic is returned when the score does not start with "MUS\x1A".
var ErrBadMagic = errors.New("mus: bad header magic")

// ErrScoreOutOfRange is returned when scoreStart/scoreLen fall outside the
// supplied byte slice; the original C reader trusts the WAD and can read
// past the lump, we do not (spec §4.3 note on original_source's bounds
// checks).
var ErrScoreOutOfRange = errors.New("mus: score range out of bounds")

// Score is a decoded MUS header plus its score body.
type Score struct {
	data        []byte
	scoreStart  int
	scoreLen    int
	priChannels int
	secChannels int
}

// Load parses a raw MUS lump.
func Load(data []byte) (*Score, error) {
	if len(data) < headerSize || string(data[:4]) != headerMagic {
		return nil, ErrBadMagic
	}
	scoreLen := int(int16(binary.LittleEndian.Uint16(data[4:6])))
	scoreStart := int(int16(binary.LittleEndian.Uint16(data[6:8])))
	priChannels := int(int16(binary.LittleEndian.Uint16(data[8:10])))
	secChannels := int(int16(binary.LittleEndian.Uint16(data[10:12])))

	if scoreStart < 0 || scoreLen < 0 || scoreStart+scoreLen > len(data) {
		return nil, ErrScoreOutOfRange
	}

	return &Score{
		data:        data,
		scoreStart:  scoreStart,
		scoreLen:    scoreLen,
		priChannels: priChannels,
		secChannels: secChannels,
	}, nil
}

type channelState struct {
	instrument   int
	lastVelocity uint8
	volume       int
	expression   int
	pan          int
}

func freshChannel() channelState {
	return channelState{lastVelocity: 64, volume: defaultVolume, expression: defaultVolume, pan: 64}
}

// Player drives one score against one voice allocator and one instrument
// bank. It is owned exclusively by the audio thread once started (spec §5);
// there is no internal locking.
type Player struct {
	score *Score
	pos   int

	channels [numChannels]channelState

	voices *oplvoice.Allocator
	bank   *op2.Bank
	log    *logging.Logger

	looping      bool
	playing      bool
	pendingDelay int64
	musTime      int64
	mainAttDB    int
	paused       bool
}

// NewPlayer builds a Player for score, driving voices and resolving
// instruments from bank. score may be nil; Reset supplies one later.
func NewPlayer(score *Score, bank *op2.Bank, voices *oplvoice.Allocator, log *logging.Logger) *Player {
	return &Player{score: score, bank: bank, voices: voices, log: log}
}

// Start resets the player to the beginning of its currently-assigned
// score. A nil score leaves the player stopped.
func (p *Player) Start(loop bool) {
	if p.score == nil {
		p.playing = false
		return
	}
	p.pos = p.score.scoreStart
	p.looping = loop
	p.playing = true
	p.pendingDelay = 0
	p.musTime = 0
	p.paused = false
	p.voices.Reset()
	for i := range p.channels {
		p.channels[i] = freshChannel()
	}
}

// Reset assigns a new score and starts it, for reuse across song changes
// without allocating a new Player (spec §5 "zero allocation" posture
// extended to song switches, which happen rarely but still run on the
// audio thread via audio.Engine.Callback's song-pointer comparison).
func (p *Player) Reset(score *Score, loop bool) {
	p.score = score
	p.Start(loop)
}

// SetPaused suspends (or resumes) tick processing; notes already sounding
// keep ringing but the score does not advance while paused.
func (p *Player) SetPaused(v bool) {
	p.paused = v
}

// Stop key-offs every note and marks the player stopped.
func (p *Player) Stop() {
	for ch := 0; ch < numChannels; ch++ {
		p.voices.AllNotesOff(ch)
	}
	p.playing = false
}

// Playing reports whether the score has not yet reached a non-looping
// end-of-score.
func (p *Player) Playing() bool {
	return p.playing
}

// SetMainVolume sets the main (music) volume attenuation term combined
// into every voice's programmed level (spec §4.4 "main_att").
func (p *Player) SetMainVolume(v int) {
	p.mainAttDB = int(notetable.AttLogSquare[clampByte(v)])
}

// Update advances the score by nTicks 140Hz ticks, per spec §4.5's tick
// loop: consume pending delay first, then execute events until the next
// non-zero delay, repeating until nTicks are exhausted or the score ends.
// A system_ctrl event (type 3) reads exactly one data byte; score variants
// that give it a second byte misparse.
func (p *Player) Update(nTicks int) bool {
	if p.paused {
		return p.playing
	}
	for nTicks > 0 {
		if !p.playing {
			return false
		}
		if p.pendingDelay > 0 {
			consume := p.pendingDelay
			if int64(nTicks) < consume {
				consume = int64(nTicks)
			}
			p.pendingDelay -= consume
			nTicks -= int(consume)
			p.musTime += consume
			p.voices.SetTime(p.musTime)
			continue
		}
		p.runEventGroup()
	}
	return p.playing
}

func (p *Player) readByte() uint8 {
	if p.pos >= p.score.scoreStart+p.score.scoreLen || p.pos >= len(p.score.data) {
		p.playing = false
		return 0x60 // synthesize end_of_score if we run off the end
	}
	b := p.score.data[p.pos]
	p.pos++
	return b
}

func (p *Player) runEventGroup() {
	for {
		b := p.readByte()
		if !p.playing {
			return
		}
		last := b&0x80 != 0
		eventType := (b >> 4) & 0x07
		ch := int(b & 0x0F)

		switch eventType {
		case 0:
			p.handleRelease(ch)
		case 1:
			p.handleNoteOn(ch)
		case 2:
			p.handlePitchWheel(ch)
		case 3:
			p.handleSystemCtrl(ch)
		case 4:
			p.handleController(ch)
		case 5:
			// end_of_measure: no payload, no action.
		case 6:
			p.handleEndOfScore()
			return
		case 7:
			p.readByte() // unused event: one stray byte, discarded (spec §9 Open Question)
		}

		if last {
			p.pendingDelay = p.readVarDelay()
			return
		}
	}
}

func (p *Player) readVarDelay() int64 {
	var delay int64
	for {
		b := p.readByte()
		delay = (delay << 7) | int64(b&0x7F)
		if b&0x80 == 0 {
			break
		}
	}
	return delay
}

func (p *Player) handleEndOfScore() {
	if p.looping {
		p.pos = p.score.scoreStart
		p.musTime = 0
		return
	}
	p.Stop()
}

func (p *Player) handleRelease(ch int) {
	note := int(p.readByte() & 0x7F)
	p.voices.KeyOffNote(ch, note)
}

func (p *Player) resolveInstrument(ch int) *op2.Instrument {
	idx := p.channels[ch].instrument
	if p.bank == nil || idx < 0 || idx >= len(p.bank.Instruments) {
		if p.log != nil {
			p.log.Warnf(logging.ComponentMusic, "channel %d: instrument index %d out of range, using 0", ch, idx)
		}
		idx = 0
	}
	if p.bank == nil {
		return nil
	}
	return &p.bank.Instruments[idx]
}

func (p *Player) handleNoteOn(ch int) {
	b := p.readByte()
	note := int(b & 0x7F)
	if b&0x80 != 0 {
		p.channels[ch].lastVelocity = p.readByte() & 0x7F
	}
	velocity := p.channels[ch].lastVelocity

	instIdx := p.channels[ch].instrument
	inst := p.resolveInstrument(ch)

	if ch == percussionCh {
		if note < percussionLo || note > percussionHi {
			if p.log != nil {
				p.log.Warnf(logging.ComponentMusic, "percussion note %d out of range, skipping", note)
			}
			return
		}
		instIdx = 128 - percussionLo + note
		if p.bank != nil && instIdx >= 0 && instIdx < len(p.bank.Instruments) {
			inst = &p.bank.Instruments[instIdx]
		} else {
			inst = nil
		}
	}

	midiNote, offset := resolveNoteAndOffset(inst, note)
	p.keyOnVoice(ch, instIdx, inst, 0, midiNote, offset, velocity)

	if inst != nil && inst.DoubleVoice() {
		fineTune := int(inst.FineTune)/2 - 64
		p.keyOnVoiceTuned(ch, instIdx, inst, 1, midiNote, int(inst.Voice[1].NoteOffset), velocity, fineTune)
	}
}

// resolveNoteAndOffset implements spec §4.3's fixed-note vs. normal note
// resolution, shared by melodic and percussion note_on handling.
func resolveNoteAndOffset(inst *op2.Instrument, requestedNote int) (midiNote int, offset int) {
	if inst != nil && inst.FixedNote() {
		return int(inst.NoteNumber), 0
	}
	if inst != nil {
		return requestedNote, int(inst.Voice[0].NoteOffset)
	}
	return requestedNote, 0
}

func (p *Player) keyOnVoice(ch, instIdx int, inst *op2.Instrument, slot, midiNote, offset int, velocity uint8) {
	p.keyOnVoiceTuned(ch, instIdx, inst, slot, midiNote, offset, velocity, 0)
}

func (p *Player) keyOnVoiceTuned(ch, instIdx int, inst *op2.Instrument, slot, midiNote, offset int, velocity uint8, fineTune int) {
	var voice *op2.Voice
	if inst != nil {
		voice = &inst.Voice[slot]
	}

	req := oplvoice.KeyOnRequest{
		MusChannel:      ch,
		VoiceSlot:       slot,
		MidiNote:        midiNote,
		NoteOffset:      offset,
		FineTuneCents:   fineTune,
		InstrumentIndex: instIdx,
		Voice:           voice,
		Velocity:        velocity,
		MainAttDB:       p.mainAttDB,
		ChannelAttDB:    p.channelAttDB(ch),
		PanAttDB:        p.panAttDB(ch),
	}
	p.voices.KeyOn(req)
}

func (p *Player) channelAttDB(ch int) int {
	c := &p.channels[ch]
	return int(notetable.AttLogSquare[clampByte(c.volume)]) + int(notetable.AttLogSquare[clampByte(c.expression)])
}

// panAttDB approximates the 6dB centre-pan compensation from spec §4.4,
// tapering to zero as pan moves toward either extreme.
func (p *Player) panAttDB(ch int) int {
	pan := p.channels[ch].pan
	centreDistance := pan - 64
	if centreDistance < 0 {
		centreDistance = -centreDistance
	}
	att := 6 - (centreDistance*6)/64
	if att < 0 {
		att = 0
	}
	return att
}

func (p *Player) handlePitchWheel(ch int) {
	value := p.readByte()
	bend := int8(int(value) - 128)
	p.voices.PitchBend(ch, bend)
}

func (p *Player) handleSystemCtrl(ch int) {
	ctrl := p.readByte()
	p.applySystemController(ch, ctrl)
}

func (p *Player) handleController(ch int) {
	ctrl := p.readByte()
	value := p.readByte()

	switch ctrl & 0x7F {
	case 0:
		p.channels[ch].instrument = int(value)
	case 1:
		// bank-select: ignored, no multi-bank GM support.
	case 2:
		// modulation: no LFO modelled.
	case 3:
		p.channels[ch].volume = int(value)
		p.voices.UpdateChannelVolume(ch, p.mainAttDB, p.channelAttDB(ch), p.panAttDB(ch))
	case 4:
		p.channels[ch].pan = int(value)
		p.voices.UpdateChannelVolume(ch, p.mainAttDB, p.channelAttDB(ch), p.panAttDB(ch))
	case 5:
		p.channels[ch].expression = int(value)
		p.voices.UpdateChannelVolume(ch, p.mainAttDB, p.channelAttDB(ch), p.panAttDB(ch))
	case 6, 7:
		// reverb/chorus depth: no effects bus in this subsystem.
	case 8, 9:
		// sustain/soft pedal: no sustain-tail modelling.
	default:
		// controllers 10..14 are system-mode and only apply via
		// system_ctrl, never via this event (spec §4.3).
	}
}

func (p *Player) applySystemController(ch int, ctrl uint8) {
	switch ctrl {
	case 10:
		p.voices.AllSoundOff(ch)
	case 11:
		p.voices.AllNotesOff(ch)
	case 12, 13:
		// mono/poly mode: this allocator has no per-channel polyphony cap.
	case 14:
		p.channels[ch] = freshChannel()
		p.voices.AllNotesOff(ch)
	default:
		if p.log != nil {
			p.log.Warnf(logging.ComponentMusic, "unknown system controller %d on channel %d", ctrl, ch)
		}
	}
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return v
}
