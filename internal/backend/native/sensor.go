package native

import (
	"bytes"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"neuropipe/internal/backend"
)

// runSensor computes sensor-space measures from the filtered recordings:
// per-channel Welch PSD, a channel covariance matrix, and a PSD figure.
func (e *Engine) runSensor(req backend.StageRequest) ([]backend.Artifact, []string, error) {
	inputs, names, err := seriesInputs(req.Inputs)
	if err != nil {
		return nil, nil, err
	}

	windowSec := paramFloat(req.Params, "psd_window_sec", 4)

	var artifacts []backend.Artifact
	var warnings []string

	for idx, in := range inputs {
		windowLen := int(windowSec * in.SampleRate)
		psd, freqs, skipped := channelPSDs(in, windowLen)
		if psd == nil {
			warnings = append(warnings, fmt.Sprintf("%s: too short for a %gs PSD window, skipped", names[idx], windowSec))
			continue
		}
		if skipped > 0 {
			warnings = append(warnings, fmt.Sprintf("%s: %d channels too short for PSD", names[idx], skipped))
		}

		artifacts = append(artifacts, backend.Artifact{
			Name:     names[idx] + "-psd",
			Kind:     backend.KindPSD,
			Ext:      ".tsv",
			Data:     psdTable(in, freqs, psd),
			Upstream: []string{names[idx]},
		})

		if cov := covarianceTable(in); cov != nil {
			artifacts = append(artifacts, backend.Artifact{
				Name:     names[idx] + "-cov",
				Kind:     backend.KindCovariance,
				Ext:      ".tsv",
				Data:     cov,
				Upstream: []string{names[idx]},
			})
		}

		if fig, err := psdFigure(freqs, psd); err == nil {
			artifacts = append(artifacts, backend.Artifact{
				Name:     names[idx] + "-psd",
				Kind:     backend.KindFigure,
				Ext:      ".png",
				Data:     fig,
				Upstream: []string{names[idx]},
			})
		} else {
			warnings = append(warnings, fmt.Sprintf("%s: psd figure: %v", names[idx], err))
		}
	}
	return artifacts, warnings, nil
}

// channelPSDs returns per-channel PSDs, shared bin frequencies, and the
// count of channels too short to estimate.
func channelPSDs(in *series, windowLen int) (psd [][]float64, freqs []float64, skipped int) {
	for _, ch := range in.Samples {
		f, p := welchPSD(ch, in.SampleRate, windowLen)
		if p == nil {
			skipped++
			continue
		}
		if freqs == nil {
			freqs = f
		}
		psd = append(psd, p)
	}
	return psd, freqs, skipped
}

func psdTable(in *series, freqs []float64, psd [][]float64) []byte {
	var buf bytes.Buffer
	buf.WriteString("freq_hz")
	for ch := range psd {
		name := fmt.Sprintf("ch%d", ch)
		if ch < len(in.Channels) {
			name = in.Channels[ch]
		}
		fmt.Fprintf(&buf, "\t%s", name)
	}
	buf.WriteByte('\n')
	for i, f := range freqs {
		fmt.Fprintf(&buf, "%.4f", f)
		for _, p := range psd {
			fmt.Fprintf(&buf, "\t%.6e", p[i])
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// covarianceTable computes the channel covariance matrix over time samples.
func covarianceTable(in *series) []byte {
	nCh := len(in.Samples)
	if nCh == 0 || len(in.Samples[0]) == 0 {
		return nil
	}
	nT := len(in.Samples[0])
	for _, ch := range in.Samples {
		if len(ch) < nT {
			nT = len(ch)
		}
	}

	// stat.CovarianceMatrix wants observations in rows: time × channels.
	obs := mat.NewDense(nT, nCh, nil)
	for t := 0; t < nT; t++ {
		for ch := 0; ch < nCh; ch++ {
			obs.Set(t, ch, in.Samples[ch][t])
		}
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, obs, nil)

	var buf bytes.Buffer
	for i := 0; i < nCh; i++ {
		for j := 0; j < nCh; j++ {
			if j > 0 {
				buf.WriteByte('\t')
			}
			fmt.Fprintf(&buf, "%.6e", cov.At(i, j))
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// psdFigure renders mean PSD across channels as a PNG.
func psdFigure(freqs []float64, psd [][]float64) ([]byte, error) {
	p := plot.New()
	p.Title.Text = "Power spectral density"
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Power"

	pts := make(plotter.XYs, len(freqs))
	for i, f := range freqs {
		var mean float64
		for _, ch := range psd {
			mean += ch[i]
		}
		pts[i].X = f
		pts[i].Y = mean / float64(len(psd))
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	p.Add(line)

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
