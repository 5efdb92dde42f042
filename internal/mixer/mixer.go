// Package mixer implements the audio callback orchestrator (spec §2,
// §4.6's final stage): combine the SFX mixer's output with the music
// chunk from the OPL driver, clamp to int16, and write interleaved stereo
// samples.
package mixer

import (
	"sync/atomic"

	"github.com/retrocoderamen/doomsynth/internal/logging"
	"github.com/retrocoderamen/doomsynth/internal/opldriver"
	"github.com/retrocoderamen/doomsynth/internal/sfx"
)

const musicVolumeMax = 127

// Orchestrator is the top-level audio-thread value: it owns the SFX
// mixer and the OPL driver, and exposes the mixing Callback that
// audio.Engine.Callback delegates to after handling song changes.
type Orchestrator struct {
	sfxMixer *sfx.Mixer
	music    *opldriver.Driver

	// pendingMainAtt is written by the control thread via SetMusicVolume
	// and applied to the player only from the audio thread, inside
	// Callback — the player itself has no internal locking (spec §5:
	// "owned exclusively by the audio thread once started").
	pendingMainAtt int32

	scratchL, scratchR []int32
	musicBuf           []int16

	log *logging.Logger
}

// New builds an Orchestrator. maxFrames bounds the largest Callback call
// this orchestrator will ever service; all scratch buffers are allocated
// once, here (spec §5 "zero allocation" in the callback).
func New(sfxMixer *sfx.Mixer, music *opldriver.Driver, maxFrames int, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		sfxMixer:       sfxMixer,
		music:          music,
		pendingMainAtt: musicVolumeMax,
		scratchL:       make([]int32, maxFrames),
		scratchR:       make([]int32, maxFrames),
		musicBuf:       make([]int16, maxFrames*2),
		log:            log,
	}
}

// SetMusicVolume applies spec §4.7's v=((v+2)^2)>>7 curve and stores the
// result as a main-attenuation index into notetable.AttLogSquare, with a
// release/acquire atomic store (spec §5 "shared music state"); v=0 yields
// maximal attenuation (silence), matching spec §8 scenario 5.
func (o *Orchestrator) SetMusicVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > musicVolumeMax {
		v = musicVolumeMax
	}
	scaled := ((v + 2) * (v + 2)) >> 7
	atomic.StoreInt32(&o.pendingMainAtt, int32(scaled))
}

// Callback fills out (len(out) must be even) with interleaved stereo
// int16 samples: SFX voices mixed and biquad-filtered, plus the music
// chunk from the OPL driver, clamped to int16 (spec §4.6). It never
// returns an error; an OPL buffer overflow degrades to silent music for
// that call (spec §7).
func (o *Orchestrator) Callback(out []int16) {
	nframes := len(out) / 2
	if nframes > len(o.scratchL) {
		// Defensive: a caller requesting more than maxFrames gets
		// silence rather than an out-of-bounds scratch write.
		for i := range out {
			out[i] = 0
		}
		if o.log != nil {
			o.log.Errorf(logging.ComponentMixer, "callback requested %d frames, exceeds configured max %d", nframes, len(o.scratchL))
		}
		return
	}

	o.music.SetMainVolume(int(atomic.LoadInt32(&o.pendingMainAtt)))

	musicBuf := o.musicBuf[:nframes*2]
	if err := o.music.Generate(musicBuf); err != nil {
		if o.log != nil {
			o.log.Warnf(logging.ComponentMixer, "music generate failed, substituting silence: %v", err)
		}
		for i := range musicBuf {
			musicBuf[i] = 0
		}
	}

	left := o.scratchL[:nframes]
	right := o.scratchR[:nframes]
	o.sfxMixer.Mix(nframes, left, right)

	for i := 0; i < nframes; i++ {
		out[2*i] = clampInt16(left[i] + int32(musicBuf[2*i]))
		out[2*i+1] = clampInt16(right[i] + int32(musicBuf[2*i+1]))
	}
}

func clampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
