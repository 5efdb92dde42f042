// Package opldriver interleaves MUS tick processing with OPL3 sample
// generation (spec §4.5): ticks must land between the native samples that
// bracket their tick boundary, or chords smear. It also resamples the
// chip's native rate down to the mixer's output rate.
package opldriver

import (
	"errors"
	"math"

	"github.com/retrocoderamen/doomsynth/internal/logging"
	"github.com/retrocoderamen/doomsynth/internal/mus"
	"github.com/retrocoderamen/doomsynth/internal/notetable"
	"github.com/retrocoderamen/doomsynth/internal/oplchip"
	"github.com/retrocoderamen/doomsynth/internal/resample"
)

const (
	// tickRate is the MUS score's fixed tick rate.
	tickRate = 140.0

	// samplesPerTick is NativeRate/tickRate, rounded, as spec.md states
	// directly (49716/140 ≈ 355).
	samplesPerTick = 355

	// oplExtraSamples is the headroom the resampler's re-entrant pull may
	// need beyond the nominal frame count (spec §4.5).
	oplExtraSamples = 1

	// maxReentrantFrames bounds how many extra one-frame top-ups Generate
	// will perform per call before giving up (guards against a runaway
	// loop if the rate ratio is pathological).
	maxReentrantFrames = 8
)

// ErrBufferOverflow is returned when the requested output frame count
// would need more native samples than the driver's scratch buffer holds
// (spec §7 "Buffer overflow").
var ErrBufferOverflow = errors.New("opldriver: requested frame count exceeds native buffer capacity")

// Driver owns the OPL3 chip, the MUS player driving it, and the two
// per-channel resamplers converting native-rate frames to output-rate
// frames.
type Driver struct {
	chip   oplchip.Chip
	player *mus.Player
	log    *logging.Logger

	outRate float64
	ratio   float64

	tickCounter int
	native      [][2]int16
	nativeLen   int

	left, right *resample.Resampler

	playing bool
}

// New builds a Driver. maxOutFrames bounds the largest Generate(nframes)
// call the caller will ever make; the native scratch buffer is sized from
// it once, up front (spec §5 "all buffers ... allocated once at init").
func New(chip oplchip.Chip, outRate float64, maxOutFrames int, log *logging.Logger) *Driver {
	ratio := notetable.NativeRate / outRate
	capacity := int(math.Ceil(float64(maxOutFrames)*ratio)) + oplExtraSamples + maxReentrantFrames

	return &Driver{
		chip:        chip,
		log:         log,
		outRate:     outRate,
		ratio:       ratio,
		tickCounter: samplesPerTick,
		native:      make([][2]int16, capacity),
		left:        resample.New(notetable.NativeRate, outRate, outRate/2),
		right:       resample.New(notetable.NativeRate, outRate, outRate/2),
	}
}

// SetPlayer attaches (or detaches, with nil) the score being played. The
// driver still generates chip audio with no player attached — the chip
// just never receives new register writes.
func (d *Driver) SetPlayer(p *mus.Player) {
	d.player = p
	d.playing = p != nil
}

// Playing reports whether the attached player has not reached a
// non-looping end-of-score.
func (d *Driver) Playing() bool {
	return d.player != nil && d.player.Playing()
}

// SetMainVolume forwards a main-attenuation value (spec §4.7
// "I_SetMusicVolume") to the attached player; a no-op with no player.
func (d *Driver) SetMainVolume(v int) {
	if d.player != nil {
		d.player.SetMainVolume(v)
	}
}

// appendNative grows the current call's native buffer up to upTo valid
// frames, ticking the player at exactly the sample positions that bracket
// each 140Hz tick boundary.
func (d *Driver) appendNative(upTo int) error {
	if upTo > cap(d.native) {
		return ErrBufferOverflow
	}
	for d.nativeLen < upTo {
		if d.tickCounter == 0 {
			if d.player != nil && d.player.Playing() {
				d.playing = d.player.Update(1)
			}
			d.tickCounter = samplesPerTick
		}
		l, r := d.chip.Generate()
		d.native[d.nativeLen] = [2]int16{l, r}
		d.nativeLen++
		d.tickCounter--
	}
	return nil
}

func (d *Driver) channelSource(cursor *int, right bool) resample.Source {
	return func() (int16, bool) {
		if *cursor >= d.nativeLen {
			extra := 0
			for *cursor >= d.nativeLen {
				if extra >= maxReentrantFrames {
					return 0, false
				}
				if err := d.appendNative(d.nativeLen + 1); err != nil {
					return 0, false
				}
				extra++
			}
		}
		frame := d.native[*cursor]
		*cursor++
		if right {
			return frame[1], true
		}
		return frame[0], true
	}
}

// Generate fills out (len(out) must be even, nframes = len(out)/2) with
// interleaved stereo int16 samples at the driver's output rate. Returns
// ErrBufferOverflow if nframes exceeds what the native scratch buffer was
// sized for at construction (spec §7); the caller should substitute
// silence on error, never propagate it to the audio device.
func (d *Driver) Generate(out []int16) error {
	nframes := len(out) / 2
	need := int(math.Ceil(float64(nframes)*d.ratio)) + oplExtraSamples

	d.nativeLen = 0
	if err := d.appendNative(need); err != nil {
		if d.log != nil {
			d.log.Errorf(logging.ComponentOPL, "native buffer overflow: need %d frames, capacity %d", need, cap(d.native))
		}
		return err
	}

	cursorL, cursorR := 0, 0
	srcL := d.channelSource(&cursorL, false)
	srcR := d.channelSource(&cursorR, true)

	for i := 0; i < nframes; i++ {
		l, ok := d.left.Next(srcL)
		if !ok {
			l = 0
		}
		r, ok := d.right.Next(srcR)
		if !ok {
			r = 0
		}
		out[2*i] = l
		out[2*i+1] = r
	}
	return nil
}
