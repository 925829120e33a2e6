package whisper

import "github.com/MrWong99/loquax/pkg/audio"

// pcmToFloat32 converts 16-bit little-endian PCM to float32 samples in
// [-1.0, 1.0], the input format whisper.cpp expects. A trailing odd byte
// is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	ints := audio.BytesToSamples(pcm)
	out := make([]float32, len(ints))
	for i, s := range ints {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// pcmToFloat32Mono down-mixes interleaved multi-channel PCM to mono
// float32 by averaging the channels of each frame. With one channel it is
// equivalent to pcmToFloat32.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}
	ints := audio.BytesToSamples(pcm)
	frames := len(ints) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(ints[i*channels+ch]) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
