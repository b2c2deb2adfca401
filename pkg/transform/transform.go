// Package transform composes the codec and dsp primitives into the two
// directional audio pipelines the bridge relay applies to binary frames:
// narrow-band PCMU at 8 kHz on the client side and wide-band linear PCM16 at
// 48 kHz on the upstream side.
package transform

import (
	"encoding/binary"
	"fmt"

	"github.com/flowvox/voicebridge/pkg/codec"
	"github.com/flowvox/voicebridge/pkg/dsp"
)

const (
	// NarrowbandRate is the client-facing PCMU sample rate.
	NarrowbandRate = 8000
	// WidebandRate is the upstream-facing PCM16 sample rate.
	WidebandRate = 48000
)

// Direction carries the per-direction smoother tail across chunks of the
// same session. Callers own exactly one Direction per direction per session
// and must never share it across sessions or goroutines.
type Direction struct {
	smoother *dsp.Smoother
}

// NewDirection creates a fresh direction state with a zero tail, matching a
// newly started session.
func NewDirection() *Direction {
	return &Direction{smoother: dsp.NewSmoother(dsp.DefaultSmootherAlpha)}
}

// Tail returns the current smoother tail sample.
func (d *Direction) Tail() float64 {
	return d.smoother.Tail()
}

// ClientToUpstream decodes an 8 kHz PCMU frame from the client, runs it
// through the noise gate, soft limiter, and smoother, resamples it to 48 kHz,
// and serializes it as little-endian PCM16 for the upstream agent.
func (d *Direction) ClientToUpstream(pcmu []byte) []byte {
	if len(pcmu) == 0 {
		return nil
	}
	samples := codec.DecodeBuffer(pcmu)
	dsp.Gate(samples, dsp.DefaultGateThreshold)
	dsp.Limit(samples, dsp.DefaultLimiterCeiling)
	d.smoother.Process(samples)

	wide := dsp.Resample(samples, NarrowbandRate, WidebandRate)
	return encodePCM16LE(wide)
}

// UpstreamToClient decodes a 48 kHz PCM16-LE frame from the upstream agent,
// runs it through the same quality chain, resamples it to 8 kHz, and
// encodes it as PCMU for the client. Returns an error if the frame has an
// odd byte length (malformed PCM16).
func (d *Direction) UpstreamToClient(pcm16 []byte) ([]byte, error) {
	if len(pcm16) == 0 {
		return nil, nil
	}
	if len(pcm16)%2 != 0 {
		return nil, fmt.Errorf("transform: odd-length PCM16 frame (%d bytes)", len(pcm16))
	}

	samples := decodePCM16LE(pcm16)
	dsp.Gate(samples, dsp.DefaultGateThreshold)
	dsp.Limit(samples, dsp.DefaultLimiterCeiling)
	d.smoother.Process(samples)

	narrow := dsp.Resample(samples, WidebandRate, NarrowbandRate)
	return codec.EncodeBuffer(narrow), nil
}

// IsUniformlySilent reports whether a PCMU byte slice is non-empty and every
// byte is identical — the relay suppresses these frames rather than
// forwarding audible-silence padding to the client.
func IsUniformlySilent(pcmu []byte) bool {
	if len(pcmu) == 0 {
		return false
	}
	first := pcmu[0]
	for _, b := range pcmu[1:] {
		if b != first {
			return false
		}
	}
	return true
}

func decodePCM16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func encodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
