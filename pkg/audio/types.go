package audio

import "time"

// Frame represents a single fixed-size frame of microphone audio flowing
// through the pipeline. Frames are the atomic unit of audio transport:
// captured from the input stream, measured by the volume estimator, and
// accumulated into the active turn buffer.
type Frame struct {
	// Samples holds signed 16-bit PCM samples. Sample rate and channel count
	// are determined by the capture config.
	Samples []int16

	// SampleRate in Hz (e.g., 16000 for STT-optimised capture).
	SampleRate int

	// Channels: 1 for mono (the normal capture path), 2 for stereo devices.
	Channels int

	// Timestamp marks when this frame was captured.
	Timestamp time.Time
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// Bytes returns the frame's samples as little-endian int16 PCM, the wire
// format expected by STT providers.
func (f Frame) Bytes() []byte {
	return SamplesToBytes(f.Samples)
}

// SamplesToBytes converts int16 samples to little-endian PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// BytesToSamples converts little-endian PCM bytes to int16 samples.
// A trailing odd byte is dropped.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}
