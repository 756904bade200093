package audio

import "time"

// Resample converts mono PCM samples from one rate to another using linear
// interpolation. It returns the input unchanged when the rates match.
func Resample(samples []int, fromRate, toRate int) []int {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return nil
	}

	out := make([]int, outLen)
	ratio := float64(fromRate) / float64(toRate)

	for i := range out {
		pos := float64(i) * ratio

		left := int(pos)
		if left >= len(samples)-1 {
			out[i] = samples[len(samples)-1]

			continue
		}

		frac := pos - float64(left)
		out[i] = int(float64(samples[left])*(1-frac) + float64(samples[left+1])*frac)
	}

	return out
}

// silenceFrames returns the number of zero samples representing d at the
// given sample rate.
func silenceFrames(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}

	return int(int64(sampleRate) * d.Milliseconds() / 1000)
}
