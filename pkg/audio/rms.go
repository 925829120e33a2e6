package audio

import "math"

// RMS computes the root-mean-square loudness of a frame of signed 16-bit
// samples. It is the volume proxy used by the turn detector: the mean of the
// squared sample magnitudes, then the square root.
//
// The squares are accumulated in float64 so the extreme sample range
// (including -32768, whose square overflows int16 arithmetic) cannot
// overflow, and an empty or all-zero frame yields 0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	mean := sum / float64(len(samples))
	if mean < 0 {
		mean = 0
	}
	return math.Sqrt(mean)
}
