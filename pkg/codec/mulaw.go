// Package codec adapts the G.711 mu-law (PCMU) companding used to bridge
// narrow-band telephony audio and wide-band linear PCM onto
// github.com/zaf/g711, the mu-law/a-law codec library already present in the
// example pack (iamprashant-voice-ai). This package only shapes its
// buffer-oriented API to the bridge's call sites; it builds no tables of its
// own.
package codec

import "github.com/zaf/g711"

// MuLawToLinear decodes a single PCMU byte to a signed 16-bit PCM sample.
func MuLawToLinear(b byte) int16 {
	return g711.DecodeUlaw([]byte{b})[0]
}

// LinearToMuLaw encodes a signed 16-bit PCM sample to a PCMU byte.
func LinearToMuLaw(sample int16) byte {
	return g711.EncodeUlaw([]int16{sample})[0]
}

// DecodeBuffer decodes a PCMU byte stream into signed 16-bit PCM samples.
func DecodeBuffer(pcmu []byte) []int16 {
	return g711.DecodeUlaw(pcmu)
}

// EncodeBuffer encodes signed 16-bit PCM samples into a PCMU byte stream.
func EncodeBuffer(samples []int16) []byte {
	return g711.EncodeUlaw(samples)
}
