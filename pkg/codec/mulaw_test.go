package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTripAllBytes(t *testing.T) {
	for b := 0; b < 256; b++ {
		got := LinearToMuLaw(MuLawToLinear(byte(b)))
		assert.Equalf(t, byte(b), got, "round trip mismatch for byte %d", b)
	}
}

// quantStep returns the mu-law quantization step size for a sample's segment,
// mirroring the companding curve's monotonically widening steps per octave.
// The bias matches G.711's standard 0x84 segment bias.
func quantStep(s int16) int {
	const bias = 0x84
	abs := int(s)
	if abs < 0 {
		abs = -abs
	}
	step := 8
	for seg := abs + bias; seg > 0xFF; seg >>= 1 {
		step <<= 1
	}
	return step
}

func TestEncodeDecodeBound(t *testing.T) {
	samples := []int16{0, 1, -1, 50, -50, 1000, -1000, 8000, -8000, 16000, -16000, 32000, -32000, 32767, -32768}
	for _, s := range samples {
		decoded := MuLawToLinear(LinearToMuLaw(s))
		diff := int(decoded) - int(s)
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqualf(t, diff, quantStep(s), "sample %d decoded to %d, diff exceeds quant step", s, decoded)
	}
}

func TestDecodeBufferEncodeBuffer(t *testing.T) {
	pcmu := make([]byte, 256)
	for i := range pcmu {
		pcmu[i] = byte(i)
	}
	samples := DecodeBuffer(pcmu)
	assert.Equal(t, len(pcmu), len(samples))

	back := EncodeBuffer(samples)
	assert.Equal(t, pcmu, back)
}

func TestMuLawOutputRange(t *testing.T) {
	for b := 0; b < 256; b++ {
		v := MuLawToLinear(byte(b))
		assert.LessOrEqual(t, v, int16(32124))
		assert.GreaterOrEqual(t, v, int16(-32124))
	}
}
