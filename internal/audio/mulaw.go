package audio

import (
	"fmt"
	"math"
)

// TelephonySampleRate is the fixed rate of the live channel (G.711, mono).
const TelephonySampleRate = 8000

// DecodeMulaw converts G.711 PCMU (μ-law) bytes to linear PCM samples.
// One input byte yields one sample.
func DecodeMulaw(pcmuData []byte) ([]int16, error) {
	if len(pcmuData) == 0 {
		return nil, fmt.Errorf("empty PCMU data")
	}

	samples := make([]int16, len(pcmuData))
	for i, b := range pcmuData {
		samples[i] = mulawToLinear(b)
	}
	return samples, nil
}

// EncodeMulaw converts linear PCM samples to G.711 PCMU (μ-law) bytes
func EncodeMulaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToMulaw(s)
	}
	return out
}

// SamplesToBytes encodes samples as 16-bit little-endian PCM
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToSamples decodes 16-bit little-endian PCM. A trailing odd byte is an error.
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// linearToMulaw converts a 14-bit range linear sample to 8-bit μ-law.
// Magnitudes above 8159 are clipped.
func linearToMulaw(sample int16) byte {
	const (
		clip = 8159
		bias = 0x21
	)

	var sign byte
	magnitude := int32(sample)
	if sample < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > clip {
		magnitude = clip
	}
	magnitude += bias

	// segment = position of the highest set bit above bit 5
	var segment byte
	for temp := magnitude >> 6; temp > 0 && segment < 7; temp >>= 1 {
		segment++
	}

	mantissa := byte((magnitude >> (segment + 1)) & 0x0F)
	return ^(sign | (segment << 4) | mantissa)
}

// mulawToLinear converts an 8-bit μ-law sample back to linear PCM
func mulawToLinear(mulawByte byte) int16 {
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	// (mantissa << 1 + 33) << segment, minus the bias
	magnitude := (mantissa << (segment + 1)) + (int32(33) << segment) - 33

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// PeakFrameRMS splits samples into frames of frameSize and returns the
// highest per-frame RMS. A trailing partial frame is included.
func PeakFrameRMS(samples []int16, frameSize int) float64 {
	if frameSize <= 0 {
		return CalculateRMS(samples)
	}
	peak := 0.0
	for start := 0; start < len(samples); start += frameSize {
		end := start + frameSize
		if end > len(samples) {
			end = len(samples)
		}
		if rms := CalculateRMS(samples[start:end]); rms > peak {
			peak = rms
		}
	}
	return peak
}
