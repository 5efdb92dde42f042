package sfx

import "math"

// BuildVolumeTable constructs the 128×256 signed volume-with-sign lookup
// table (spec §4.6): vol_lookup[i*256+j] = (((i*i)>>7)*(j-128)*256)/127,
// which simultaneously converts unsigned 8-bit samples to signed and
// applies an x² volume curve.
func BuildVolumeTable() [128 * 256]int32 {
	var table [128 * 256]int32
	for i := 0; i < 128; i++ {
		for j := 0; j < 256; j++ {
			v := (((i * i) >> 7) * (j - 128) * 256) / 127
			table[i*256+j] = int32(v)
		}
	}
	return table
}

// BuildStepTable constructs the 256-entry pitch-to-fixed-point-step table
// (spec §4.6/§4.7): steptable[i+128] = round(pow(2, i/64) * 65536) for
// i in [-128,127]. pitch=128 (i=0) yields step=65536, i.e. no pitch shift.
func BuildStepTable() [256]uint32 {
	var table [256]uint32
	for i := -128; i < 128; i++ {
		v := math.Round(math.Pow(2, float64(i)/64.0) * 65536.0)
		table[i+128] = uint32(v)
	}
	return table
}

// PanSplit computes left/right volume from a DOOM-style volume∈[0,127]
// and separation∈[0,254] (spec §4.6). Both results must land in [0,127];
// escaping that range is the one fatal error in this subsystem (spec §7).
func PanSplit(volume, separation int) (left, right int, err error) {
	sep := separation + 1
	left = volume - (volume*sep*sep)>>16
	sep -= 257
	right = volume - (volume*sep*sep)>>16

	if left < 0 || left > 127 || right < 0 || right > 127 {
		return 0, 0, ErrPanFormula
	}
	return left, right, nil
}
