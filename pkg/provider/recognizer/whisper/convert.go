package whisper

import (
	"encoding/binary"
	"math"
)

// pcmToFloat32Mono converts 16-bit signed little-endian mono PCM audio to
// float32 samples normalised to [-1.0, 1.0], as whisper.cpp's Process
// expects. The input length must be even; any trailing odd byte is
// silently ignored.
func pcmToFloat32Mono(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// rms returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer, normalized to [0,1]. Returns 0 for buffers
// shorter than one sample.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
