package audio

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// ConvertSamples converts samples from the given source format to the target
// format. If the formats already match, the input slice is returned unchanged
// (zero allocation). Conversion order: downmix first, then resample, so a
// stereo source is never resampled per channel needlessly.
//
// Only mono and stereo layouts are supported; other channel counts are
// returned as-is after resampling.
func ConvertSamples(samples []int16, src, dst Format) []int16 {
	if src == dst {
		return samples
	}

	cur := samples
	channels := src.Channels

	if channels == 2 && dst.Channels == 1 {
		cur = StereoToMono(cur)
		channels = 1
	}

	if src.SampleRate != dst.SampleRate && channels == 1 {
		cur = ResampleMono(cur, src.SampleRate, dst.SampleRate)
	}

	if channels == 1 && dst.Channels == 2 {
		cur = MonoToStereo(cur)
	}

	return cur
}

// StereoToMono averages L+R per stereo frame to produce mono output.
// Uses int32 arithmetic to prevent overflow.
func StereoToMono(samples []int16) []int16 {
	frames := len(samples) / 2
	out := make([]int16, frames)
	for i := range frames {
		out[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
	}
	return out
}

// MonoToStereo duplicates each mono sample into a stereo L+R pair.
func MonoToStereo(samples []int16) []int16 {
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// ResampleMono resamples mono samples from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate (or either rate is invalid), the input
// is returned unchanged.
func ResampleMono(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}

		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
