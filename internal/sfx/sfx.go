// Package sfx implements the polyphonic SFX mixer core (spec §4.6, §3):
// eight sample-playback voices with pitch stepping and stereo panning,
// plus the data cache and lookup tables (§4.7, §6) that back them.
package sfx

import (
	"errors"
	"sync"

	"github.com/retrocoderamen/doomsynth/internal/biquad"
	"github.com/retrocoderamen/doomsynth/internal/logging"
)

// SoundID identifies a sound lump; the WAD reader assigns these and is out
// of scope for this module (spec §1).
type SoundID int

// Handle is the opaque 32-bit sound-instance identifier returned by
// StartSound (spec §3 "Handle").
type Handle uint32

const (
	// NumChannels is NUM_CHANNELS from spec §3.
	NumChannels = 8

	// slotBits is log2(NumChannels), the width of the slot field packed
	// into the low bits of a Handle.
	slotBits = 3
	slotMask = (1 << slotBits) - 1

	// stepFracBits is 16 (fixed-point fraction) + SFX_STEP_SHIFT=2 (raw
	// samples are recorded at 1/4 the output rate), per spec §3.
	stepFracBits = 18
	stepFracMask = (1 << stepFracBits) - 1
)

// ErrPanFormula is the one fatal error this package can produce: the
// left/right volume split escaped [0,127] (spec §7 "Fatal config error").
var ErrPanFormula = errors.New("sfx: pan split escaped [0,127]")

type voice struct {
	data     []byte
	pos      int
	step     uint32
	remBits  uint32
	startTic int64
	handle   Handle
	sfxID    SoundID
	leftVol  int
	rightVol int
	free     bool
}

// Mixer owns the eight SFX voices, the shared volume/step lookup tables,
// the two per-stereo-side biquads, and the sample cache. All fields
// touched by both the control thread and the audio callback are guarded
// by mu (spec §5).
type Mixer struct {
	mu sync.Mutex

	channels [NumChannels]voice
	nextSeq  uint32

	cache     *Cache
	volLookup [128 * 256]int32
	stepTable [256]uint32

	biquadL, biquadR *biquad.Biquad

	dedupIDs map[SoundID]bool
	pistolID SoundID

	ticCounter int64
	log        *logging.Logger
}

// New builds a Mixer. sampleRate/cutoffHz/q parametrize the two biquads
// (spec §4.1: f_c=4400Hz, Q=0.6, sr=44100 in the reference engine).
// pistolID is the sound substituted for a missing lump (spec §7).
func New(cache *Cache, sampleRate, cutoffHz, q float64, pistolID SoundID, log *logging.Logger) *Mixer {
	m := &Mixer{
		cache:     cache,
		volLookup: BuildVolumeTable(),
		stepTable: BuildStepTable(),
		biquadL:   biquad.New(sampleRate, cutoffHz, q),
		biquadR:   biquad.New(sampleRate, cutoffHz, q),
		dedupIDs:  make(map[SoundID]bool),
		pistolID:  pistolID,
		log:       log,
	}
	for i := range m.channels {
		m.channels[i].free = true
	}
	return m
}

// SetDedupIDs marks sound ids that may have only one active voice at a
// time (spec §4.6 "chainsaw, saw-idle, ..."); starting one frees any
// existing voice already playing the same id before allocating.
func (m *Mixer) SetDedupIDs(ids ...SoundID) {
	m.dedupIDs = make(map[SoundID]bool, len(ids))
	for _, id := range ids {
		m.dedupIDs[id] = true
	}
}

// Reset frees every voice, discarding anything currently playing, without
// touching the cache or lookup tables (spec §4.7 "SetChannels" reinit).
func (m *Mixer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.channels {
		m.channels[i] = voice{free: true}
	}
}

func slotOf(h Handle) int {
	return int(h) & slotMask
}

func (m *Mixer) allocHandle(slot int) Handle {
	h := Handle(m.nextSeq) | Handle(slot)
	m.nextSeq += NumChannels
	return h
}

// StartSound allocates a voice for id at the given volume [0,127],
// separation [0,254], and pitch [0,255], returning its handle. Missing
// sounds fall back to pistolID (spec §7); a pan-split fault is the one
// error this call can return.
func (m *Mixer) StartSound(id SoundID, volume, separation, pitch int) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.cache.Get(id)
	if !ok {
		if m.log != nil {
			m.log.Warnf(logging.ComponentSfx, "missing sfx lump %d, substituting pistol", id)
		}
		entry, ok = m.cache.Get(m.pistolID)
		if !ok {
			return 0, nil
		}
	}

	leftVol, rightVol, err := PanSplit(volume, separation)
	if err != nil {
		return 0, err
	}

	if m.dedupIDs[id] {
		for i := range m.channels {
			if !m.channels[i].free && m.channels[i].sfxID == id {
				m.channels[i].free = true
			}
		}
	}

	slot := m.selectSlot()
	m.ticCounter++

	v := &m.channels[slot]
	v.data = entry.Data
	v.pos = 0
	v.remBits = 0
	v.step = m.stepTable[clampByte(pitch)]
	v.startTic = m.ticCounter
	v.sfxID = id
	v.leftVol = leftVol
	v.rightVol = rightVol
	v.free = false
	v.handle = m.allocHandle(slot)

	return v.handle, nil
}

// selectSlot scans for a free voice first; failing that, steals the voice
// with the oldest startTic (spec §4.6 "Voice selection on start").
func (m *Mixer) selectSlot() int {
	for i := range m.channels {
		if m.channels[i].free {
			return i
		}
	}
	oldest := 0
	for i := 1; i < NumChannels; i++ {
		if m.channels[i].startTic < m.channels[oldest].startTic {
			oldest = i
		}
	}
	return oldest
}

// StopSound releases the voice at h's slot if its stored handle still
// matches (spec §4.7).
func (m *Mixer) StopSound(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := slotOf(h)
	v := &m.channels[slot]
	if v.free || v.handle != h {
		return false
	}
	v.free = true
	return true
}

// SoundIsPlaying reports whether h's slot is still playing h.
func (m *Mixer) SoundIsPlaying(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := slotOf(h)
	v := &m.channels[slot]
	return !v.free && v.handle == h
}

// UpdateSoundParams rewrites volume/separation/pitch for h's voice in
// place, without resetting its sample position (spec §4.7).
func (m *Mixer) UpdateSoundParams(h Handle, volume, separation, pitch int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := slotOf(h)
	v := &m.channels[slot]
	if v.free || v.handle != h {
		return false, nil
	}
	leftVol, rightVol, err := PanSplit(volume, separation)
	if err != nil {
		return false, err
	}
	v.leftVol = leftVol
	v.rightVol = rightVol
	v.step = m.stepTable[clampByte(pitch)]
	return true, nil
}

// Mix advances every active voice by nframes samples, writing the
// pre-clamp, post-biquad SFX contribution into left/right (both must have
// length ≥ nframes). Music is not added here — that is internal/mixer's
// job (spec §4.6/§4.8 boundary): this is exactly [C7]'s responsibility.
func (m *Mixer) Mix(nframes int, left, right []int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for s := 0; s < nframes; s++ {
		var dl, dr int32
		for i := range m.channels {
			v := &m.channels[i]
			if v.free {
				continue
			}
			sample := v.data[v.pos]
			dl += m.volLookup[v.leftVol*256+int(sample)]
			dr += m.volLookup[v.rightVol*256+int(sample)]

			v.remBits += v.step
			v.pos += int(v.remBits >> stepFracBits)
			v.remBits &= stepFracMask

			if v.pos >= len(v.data) {
				v.free = true
			}
		}
		left[s] = int32(m.biquadL.Step(float64(dl)))
		right[s] = int32(m.biquadR.Step(float64(dr)))
	}
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
