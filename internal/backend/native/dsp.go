package native

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// bandpassFilter applies an FFT brick-wall band-pass plus optional notch at
// lineFreq harmonics to one channel. highpass/lowpass of 0 disable that edge.
func bandpassFilter(x []float64, fs, highpass, lowpass float64, notch bool, lineFreq float64) []float64 {
	n := len(x)
	if n == 0 || fs <= 0 {
		return x
	}
	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, x)

	binHz := fs / float64(n)
	for i := range coeff {
		f := float64(i) * binHz
		keep := true
		if highpass > 0 && f < highpass && i != 0 {
			keep = false
		}
		if i == 0 && highpass > 0 {
			keep = false // remove DC along with the high-pass edge
		}
		if lowpass > 0 && f > lowpass {
			keep = false
		}
		if notch && lineFreq > 0 {
			for h := lineFreq; h <= fs/2; h += lineFreq {
				if math.Abs(f-h) < 1.0 {
					keep = false
					break
				}
			}
		}
		if !keep {
			coeff[i] = 0
		}
	}

	out := fft.Sequence(nil, coeff)
	scale := 1 / float64(n)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// welchPSD estimates power spectral density with non-overlapping windows of
// windowLen samples (Hann tapered). Returns bin frequencies and mean power.
func welchPSD(x []float64, fs float64, windowLen int) (freqs, power []float64) {
	if windowLen <= 1 || len(x) < windowLen || fs <= 0 {
		return nil, nil
	}
	fft := fourier.NewFFT(windowLen)
	nBins := windowLen/2 + 1
	power = make([]float64, nBins)
	window := hann(windowLen)

	segments := 0
	buf := make([]float64, windowLen)
	for off := 0; off+windowLen <= len(x); off += windowLen {
		for i := 0; i < windowLen; i++ {
			buf[i] = x[off+i] * window[i]
		}
		coeff := fft.Coefficients(nil, buf)
		for i := 0; i < nBins && i < len(coeff); i++ {
			m := cmplx.Abs(coeff[i])
			power[i] += m * m
		}
		segments++
	}
	if segments == 0 {
		return nil, nil
	}

	norm := 1 / (float64(segments) * float64(windowLen) * fs)
	freqs = make([]float64, nBins)
	binHz := fs / float64(windowLen)
	for i := range power {
		power[i] *= norm
		freqs[i] = float64(i) * binHz
	}
	return freqs, power
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// decimate resamples x from fs to target by integer decimation. Returns the
// input unchanged when target is 0, not lower than fs, or not a divisor.
func decimate(x []float64, fs, target float64) ([]float64, float64) {
	if target <= 0 || target >= fs {
		return x, fs
	}
	step := int(math.Round(fs / target))
	if step < 2 {
		return x, fs
	}
	out := make([]float64, 0, len(x)/step+1)
	for i := 0; i < len(x); i += step {
		out = append(out, x[i])
	}
	return out, fs / float64(step)
}
