package oplchip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func keyOnSimpleTone(c *Software, ch int, bank int, regCh uint8) {
	// Carrier operator (slot 1 of the channel): full level, multiple=1.
	c.WriteReg(bank, 0x20+regCh*2+1, 0x01)
	c.WriteReg(bank, 0x40+regCh*2+1, 0x00)
	// Modulator silent so the tone is a pure carrier sine.
	c.WriteReg(bank, 0x40+regCh*2, 0x3F)
	c.WriteReg(bank, 0xC0+regCh, 0x30|0x02) // both outputs, feedback 1, FM connection (bit 0 clear)
	c.WriteReg(bank, 0xA0+regCh, 0x00)
	c.WriteReg(bank, 0xB0+regCh, 0x20|0x15) // key-on, mid fnum/block
}

func TestSilentChipProducesSilence(t *testing.T) {
	c := NewSoftware(49716)
	for i := 0; i < 100; i++ {
		l, r := c.Generate()
		assert.Zero(t, l)
		assert.Zero(t, r)
	}
}

func TestKeyOnProducesNonZeroSamples(t *testing.T) {
	c := NewSoftware(49716)
	keyOnSimpleTone(c, 0, 0, 0)

	nonZero := false
	for i := 0; i < 200; i++ {
		l, r := c.Generate()
		if l != 0 || r != 0 {
			nonZero = true
		}
	}
	assert.True(t, nonZero, "keyed-on voice should eventually produce audio")
}

func TestBanksAreIndependent(t *testing.T) {
	c := NewSoftware(49716)
	keyOnSimpleTone(c, 0, 0, 0)
	// Bank 1 channel 0 was never keyed on.
	c.WriteReg(1, 0xB0, 0x00)

	var anyBank1 bool
	_ = anyBank1
	for i := 0; i < 50; i++ {
		c.Generate()
	}
	assert.False(t, c.voices[9].keyOn)
	assert.True(t, c.voices[0].keyOn)
}

func TestOutOfRangeRegistersIgnored(t *testing.T) {
	c := NewSoftware(49716)
	assert.NotPanics(t, func() {
		c.WriteReg(5, 0x20, 1)
		c.WriteReg(0, 0xFF, 1)
	})
}
