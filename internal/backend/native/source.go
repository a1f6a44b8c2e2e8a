package native

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"neuropipe/internal/backend"
)

// runSource estimates source-space activity from the sensor-stage covariance
// artifacts: a minimum-norm style projection of channel variance onto a
// fixed pseudo-source grid with SNR regularization and depth weighting. The
// configured method and head model are recorded in the result parameters;
// external engines substitute real forward/inverse modeling behind the same
// contract.
func (e *Engine) runSource(req backend.StageRequest) ([]backend.Artifact, []string, error) {
	snr := paramFloat(req.Params, "snr", 3)
	depth := paramFloat(req.Params, "depth_weighting", 0.5)
	method := paramString(req.Params, "method", "dspm")
	headModel := paramString(req.Params, "head_model", "overlapping-spheres")

	const nSources = 64
	lambda := 1 / (snr * snr)

	var artifacts []backend.Artifact
	var warnings []string
	for _, in := range req.Inputs {
		if in.Kind != backend.KindCovariance {
			continue
		}
		variance, err := covDiagonal(in.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("covariance %q: %w", in.Name, err)
		}
		nCh := len(variance)
		if nCh == 0 {
			warnings = append(warnings, fmt.Sprintf("%s: empty covariance, skipped", in.Name))
			continue
		}

		var buf bytes.Buffer
		fmt.Fprintf(&buf, "# method=%s head_model=%s snr=%g\n", method, headModel, snr)
		fmt.Fprintln(&buf, "source\tactivity")
		for s := 0; s < nSources; s++ {
			// Fixed synthetic gain: each pseudo-source sees every channel
			// with distance-like attenuation, then depth compensation.
			var act float64
			for ch := 0; ch < nCh; ch++ {
				g := 1 / (1 + math.Abs(float64(s)/nSources-float64(ch)/float64(nCh)))
				act += g * math.Sqrt(math.Max(variance[ch], 0))
			}
			act /= float64(nCh) * (1 + lambda)
			d := 1 - float64(s)/float64(nSources)
			act *= math.Pow(math.Max(d, 1e-3), -depth)
			fmt.Fprintf(&buf, "s%03d\t%.6e\n", s, act)
		}

		artifacts = append(artifacts, backend.Artifact{
			Name:     strings.TrimSuffix(in.Name, "-cov") + "-sources",
			Kind:     backend.KindSources,
			Ext:      ".tsv",
			Data:     buf.Bytes(),
			Upstream: []string{in.Name},
		})
	}
	return artifacts, warnings, nil
}

// covDiagonal parses a square TSV covariance matrix and returns its diagonal.
func covDiagonal(data []byte) ([]float64, error) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var diag []float64
	for i, line := range lines {
		cells := strings.Split(line, "\t")
		if i >= len(cells) {
			return nil, fmt.Errorf("row %d: expected at least %d columns, got %d", i, i+1, len(cells))
		}
		v, err := strconv.ParseFloat(cells[i], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		diag = append(diag, v)
	}
	return diag, nil
}
