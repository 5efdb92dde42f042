package oplvoice

import "github.com/retrocoderamen/doomsynth/internal/op2"

// loadInstrument programs every operator register for hw voice idx from an
// OP2 instrument voice record, muting both operators first so no
// intermediate register state is briefly audible (spec §4.4 "Instrument
// loading"). It records KSL/feedback/connection and the instrument's own
// ModLevel/CarLevel on the HWVoice; the level registers themselves are left
// to the programAttenuation call that always follows in KeyOn.
func (a *Allocator) loadInstrument(idx int, v *op2.Voice) {
	hv := &a.voices[idx]
	bank, regCh := bankAndReg(idx)
	mod := modulatorSlot(regCh)
	car := carrierSlot(regCh)

	a.chip.WriteReg(bank, 0x40+mod, 0x3F)
	a.chip.WriteReg(bank, 0x40+car, 0x3F)

	if v == nil {
		hv.KSL1, hv.KSL2 = 0, 0
		hv.FeedbackByte = 0
		hv.Additive = false
		hv.ModLevel, hv.CarLevel = 0x3F, 0x3F
		a.chip.WriteReg(bank, 0xC0+regCh, 0x30)
		return
	}

	a.chip.WriteReg(bank, 0x20+mod, v.ModChar)
	a.chip.WriteReg(bank, 0x20+car, v.CarChar)
	a.chip.WriteReg(bank, 0x60+mod, v.ModAttack)
	a.chip.WriteReg(bank, 0x60+car, v.CarAttack)
	a.chip.WriteReg(bank, 0x80+mod, v.ModSustain)
	a.chip.WriteReg(bank, 0x80+car, v.CarSustain)
	a.chip.WriteReg(bank, 0xE0+mod, v.ModWaveSel)
	a.chip.WriteReg(bank, 0xE0+car, v.CarWaveSel)

	hv.KSL1 = (v.ModScale >> 6) & 0x03
	hv.KSL2 = (v.CarScale >> 6) & 0x03
	hv.FeedbackByte = v.Feedback
	hv.Additive = v.Feedback&0x01 != 0

	connByte := (v.Feedback & 0x0E) | 0x30
	if hv.Additive {
		connByte |= 0x01
	}
	a.chip.WriteReg(bank, 0xC0+regCh, connByte)

	// Instrument-authored operator levels are recorded here, not written to
	// the level registers yet: KeyOn always calls programAttenuation right
	// after loadInstrument, which combines these with the dynamic
	// attenuation term and performs the real register write (spec.md:102).
	hv.ModLevel = v.ModLevel & 0x3F
	hv.CarLevel = v.CarLevel & 0x3F
}
