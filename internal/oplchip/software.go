package oplchip

import "math"

// Software is a reference Chip good enough to exercise the OPL driver's
// interleaving logic and produce audibly distinct tones per register
// state. It is not a claim of bit-accurate OPL3 emulation (spec.md's
// Non-goals exclude exact DMX reproduction) — it plays the same role the
// teacher's internal/apu/fm_opm.go OPM-lite engine plays for its own
// register file: a sine-table FM core addressed through a plain register
// map, generalized from 8 fixed voices/one bank to OPL3's 18 voices
// across two 0x100-wide banks.
const (
	numChannels  = 18
	sineTableLen = 1024
	sineShift    = 32 - 10
)

var sineTable = func() [sineTableLen]int16 {
	var t [sineTableLen]int16
	for i := range t {
		phase := 2 * math.Pi * float64(i) / float64(sineTableLen)
		t[i] = int16(math.Round(math.Sin(phase) * 32767.0))
	}
	return t
}()

func sineLookup(phase uint32) int16 {
	idx := (phase >> sineShift) & (sineTableLen - 1)
	return sineTable[idx]
}

type operator struct {
	char  uint8 // tremolo/vibrato/sustain/ksr/multiple (reg 0x20 group)
	ksl   uint8 // key-scale level (top 2 bits of reg 0x40 group)
	level uint8 // output level (low 6 bits of reg 0x40 group)
	ad    uint8 // attack/decay (reg 0x60 group)
	sr    uint8 // sustain/release (reg 0x80 group)
	wave  uint8 // waveform select (reg 0xE0 group)

	phase uint32
	inc   uint32
}

type voice struct {
	mod, car operator

	fnum   uint16
	block  uint8
	keyOn  bool
	feedback uint8
	connection uint8 // bit0: 0=FM, 1=additive
	panLeft, panRight bool

	lastMod int16
}

// Software implements Chip with an OPL3-shaped register map.
type Software struct {
	voices     [numChannels]voice
	sampleRate uint32
}

// NewSoftware builds a Software chip generating at the OPL3 native rate.
func NewSoftware(sampleRate uint32) *Software {
	return &Software{sampleRate: sampleRate}
}

// operatorRegRange maps a register byte to its group base (0x20/0x40/0x60/
// 0x80/0xE0) and linear operator slot (0..17 within a bank, channel*2+op).
// This is this package's own simplified addressing, not real OPL3 slot
// layout (which interleaves operators with gaps) — the chip and the voice
// allocator agree on it as one internal contract, same as any other detail
// of this reference implementation (spec.md's Non-goals exclude bit-exact
// OPL3 register-map reproduction).
func operatorRegRange(reg uint8) (base uint8, slot int, ok bool) {
	for _, base := range []uint8{0x20, 0x40, 0x60, 0x80, 0xE0} {
		if reg >= base && reg <= base+17 {
			return base, int(reg - base), true
		}
	}
	return 0, 0, false
}

// WriteReg implements Chip.
func (s *Software) WriteReg(bank int, reg uint8, value uint8) {
	if bank < 0 || bank > 1 {
		return
	}
	chOffset := bank * 9

	switch {
	case reg >= 0xA0 && reg <= 0xA8:
		ch := chOffset + int(reg-0xA0)
		v := &s.voices[ch]
		v.fnum = (v.fnum &^ 0xFF) | uint16(value)
		s.recompute(ch)
	case reg >= 0xB0 && reg <= 0xB8:
		ch := chOffset + int(reg-0xB0)
		v := &s.voices[ch]
		wasOn := v.keyOn
		v.fnum = (v.fnum &^ 0x300) | (uint16(value&0x03) << 8)
		v.block = (value >> 2) & 0x07
		v.keyOn = value&0x20 != 0
		if v.keyOn && !wasOn {
			v.mod.phase, v.car.phase, v.lastMod = 0, 0, 0
		}
		s.recompute(ch)
	case reg >= 0xC0 && reg <= 0xC8:
		ch := chOffset + int(reg-0xC0)
		v := &s.voices[ch]
		v.feedback = (value >> 1) & 0x07
		v.connection = value & 0x01
		v.panLeft = value&0x20 != 0
		v.panRight = value&0x10 != 0
	default:
		s.writeOperatorReg(chOffset, reg, value)
	}
}

func (s *Software) writeOperatorReg(chOffset int, reg uint8, value uint8) {
	base, slotIdx, ok := operatorRegRange(reg)
	if !ok {
		return
	}
	ch := chOffset + slotIdx/2
	if ch >= numChannels {
		return
	}
	isModulator := slotIdx%2 == 0
	v := &s.voices[ch]
	op := &v.mod
	if !isModulator {
		op = &v.car
	}
	switch base {
	case 0x20:
		op.char = value
	case 0x40:
		op.ksl = (value >> 6) & 0x03
		op.level = value & 0x3F
	case 0x60:
		op.ad = value
	case 0x80:
		op.sr = value
	case 0xE0:
		op.wave = value & 0x07
	}
	s.recompute(ch)
}

func (s *Software) recompute(ch int) {
	if ch < 0 || ch >= numChannels {
		return
	}
	v := &s.voices[ch]
	if s.sampleRate == 0 {
		return
	}
	freq := fnumToHz(v.fnum, v.block)
	base := hzToPhaseInc(freq, s.sampleRate)
	modMul := multiple(v.mod.char & 0x0F)
	carMul := multiple(v.car.char & 0x0F)
	v.mod.inc = scaleInc(base, modMul)
	v.car.inc = scaleInc(base, carMul)
}

func multiple(bits uint8) float64 {
	table := [16]float64{0.5, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 10, 12, 12, 15, 15}
	return table[bits&0x0F]
}

func fnumToHz(fnum uint16, block uint8) float64 {
	// Inverse of notetable.EncodeFreq's Fnum = Freq*2^(20-Block)/NativeRate.
	return float64(fnum) * 49716.0 / math.Pow(2, float64(20-int(block)))
}

func hzToPhaseInc(hz float64, sampleRate uint32) uint32 {
	if hz <= 0 || sampleRate == 0 {
		return 0
	}
	inc := hz * 4294967296.0 / float64(sampleRate)
	if inc >= 4294967295.0 {
		return 0xFFFFFFFF
	}
	return uint32(inc)
}

func scaleInc(base uint32, ratio float64) uint32 {
	v := float64(base) * ratio
	if v >= 4294967295.0 {
		return 0xFFFFFFFF
	}
	return uint32(v)
}

func levelToLinear(level uint8) int32 {
	// level: 0 = loudest, 63 = silent (6dB/step OPL convention, approximated).
	if level >= 63 {
		return 0
	}
	return int32(63-level) * 4 // 4..252
}

// Generate implements Chip: mixes all active voices into one stereo sample.
func (s *Software) Generate() (int16, int16) {
	var left, right int32
	active := 0
	for i := range s.voices {
		v := &s.voices[i]
		if !v.keyOn {
			continue
		}
		active++

		modRaw := sineLookup(v.mod.phase)
		modLevel := levelToLinear(v.mod.level)
		modOut := int32(modRaw) * modLevel / 255

		feedbackTerm := int32(v.lastMod) * int32(v.feedback) / 8
		phaseOffset := uint32((modOut + feedbackTerm) << 3)

		var carrierPhase uint32
		if v.connection == 0 {
			// FM: modulator phase-modulates the carrier.
			carrierPhase = v.car.phase + phaseOffset
		} else {
			// Additive: carrier runs free, modulator output is summed directly.
			carrierPhase = v.car.phase
		}
		carRaw := sineLookup(carrierPhase)
		carLevel := levelToLinear(v.car.level)
		sample := int32(carRaw) * carLevel / 255

		if v.connection != 0 {
			sample += modOut
		}

		v.lastMod = int16(modOut)
		v.mod.phase += v.mod.inc
		v.car.phase += v.car.inc

		if v.panLeft {
			left += sample
		}
		if v.panRight {
			right += sample
		}
	}

	if active > 1 {
		left = left * 2 / int32(active+1)
		right = right * 2 / int32(active+1)
	}

	return clamp16(left), clamp16(right)
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
