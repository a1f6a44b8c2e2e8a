package native

import (
	"fmt"
	"path/filepath"
	"strings"

	"neuropipe/internal/backend"
	"neuropipe/internal/reader"
)

// runImport decodes every discovered recording of the unit into an in-memory
// series artifact. Metadata-only recordings (formats the bundled readers
// cannot decode) produce a warning instead of an artifact; a unit whose
// recordings are all metadata-only therefore yields an empty result, which
// the controller treats as a downstream skip, not a failure.
func (e *Engine) runImport(req backend.StageRequest) ([]backend.Artifact, []string, error) {
	var artifacts []backend.Artifact
	var warnings []string

	for _, f := range req.Unit.Files {
		rec, err := reader.Read(f.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("import %q: %w", f.Path, err)
		}
		if len(rec.Samples) == 0 {
			warnings = append(warnings,
				fmt.Sprintf("no in-tree decoder for %s (%s): imported as metadata only", filepath.Base(f.Path), rec.Format))
			continue
		}
		data, err := encodeSeries(&series{
			SampleRate: rec.SampleRate,
			Channels:   rec.ChannelNames,
			Samples:    rec.Samples,
			Origin:     f.Path,
		})
		if err != nil {
			return nil, nil, err
		}
		artifacts = append(artifacts, backend.Artifact{
			Name: artifactName(f.Path),
			Kind: backend.KindRecording,
			Ext:  ".dat",
			Data: data,
		})
	}
	return artifacts, warnings, nil
}

// artifactName derives a stable logical name from a recording path.
func artifactName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base
}
