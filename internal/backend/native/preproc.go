package native

import (
	"bytes"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"neuropipe/internal/backend"
)

// runPreproc filters every imported recording (band-pass + line-frequency
// notch), optionally decimates, and screens for cardiac/blink contamination.
// Outputs one filtered recording per input plus a metrics table.
func (e *Engine) runPreproc(req backend.StageRequest) ([]backend.Artifact, []string, error) {
	inputs, names, err := seriesInputs(req.Inputs)
	if err != nil {
		return nil, nil, err
	}

	highpass := paramFloat(req.Params, "highpass", 0.3)
	lowpass := paramFloat(req.Params, "lowpass", 100)
	notch := paramBool(req.Params, "notch", true)
	resample := paramFloat(req.Params, "resample", 0)
	lineFreq := float64(paramInt(req.Params, "line_freq", 60))

	var artifacts []backend.Artifact
	var warnings []string
	var metrics bytes.Buffer
	fmt.Fprintln(&metrics, "recording\tchannel\trms_before\trms_after\tcardiac_suspect\tblink_suspect")

	for idx, in := range inputs {
		out := &series{
			SampleRate: in.SampleRate,
			Channels:   in.Channels,
			Samples:    make([][]float64, len(in.Samples)),
			Origin:     in.Origin,
		}
		for ch := range in.Samples {
			filtered := bandpassFilter(in.Samples[ch], in.SampleRate, highpass, lowpass, notch, lineFreq)
			filtered, out.SampleRate = decimate(filtered, in.SampleRate, resample)
			out.Samples[ch] = filtered

			cardiac := paramBool(req.Params, "detect_cardiac", true) && suspectPeriodic(filtered, out.SampleRate, 0.8, 1.5)
			blink := paramBool(req.Params, "detect_blink", true) && suspectPeriodic(filtered, out.SampleRate, 0.1, 0.5)
			chName := fmt.Sprintf("ch%d", ch)
			if ch < len(in.Channels) {
				chName = in.Channels[ch]
			}
			fmt.Fprintf(&metrics, "%s\t%s\t%.6g\t%.6g\t%t\t%t\n",
				names[idx], chName, rms(in.Samples[ch]), rms(filtered), cardiac, blink)
			if cardiac || blink {
				warnings = append(warnings, fmt.Sprintf("%s/%s: physiological artifact suspected", names[idx], chName))
			}
		}
		data, err := encodeSeries(out)
		if err != nil {
			return nil, nil, err
		}
		artifacts = append(artifacts, backend.Artifact{
			Name:     names[idx],
			Kind:     backend.KindRecording,
			Ext:      ".dat",
			Data:     data,
			Upstream: []string{names[idx]},
		})
	}

	if len(inputs) > 0 {
		artifacts = append(artifacts, backend.Artifact{
			Name: "preproc-metrics",
			Kind: backend.KindMetrics,
			Ext:  ".tsv",
			Data: metrics.Bytes(),
		})
	}
	return artifacts, warnings, nil
}

// suspectPeriodic flags a channel whose dominant zero-crossing rate falls in
// [minHz, maxHz], a crude screen for cardiac/ocular periodicity.
func suspectPeriodic(x []float64, fs, minHz, maxHz float64) bool {
	if len(x) < 2 || fs <= 0 {
		return false
	}
	mean := stat.Mean(x, nil)
	crossings := 0
	for i := 1; i < len(x); i++ {
		if (x[i-1]-mean)*(x[i]-mean) < 0 {
			crossings++
		}
	}
	rate := float64(crossings) / 2 / (float64(len(x)) / fs)
	return rate >= minHz && rate <= maxHz
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}
