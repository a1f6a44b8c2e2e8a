package derivatives

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"neuropipe/internal/backend"
	"neuropipe/internal/bids"
)

// Load reads back the persisted artifacts of one (unit, stage) from their
// deterministic locations, reconstructing them from the provenance sidecars.
// Used when a later stage is run on its own and must consume an earlier
// run's outputs. Returns an empty slice when nothing was ever written.
func (w *Writer) Load(unit bids.Unit, stage backend.Stage) ([]backend.Artifact, error) {
	label := stageLabels[stage]

	dirs := map[string]bool{}
	for _, kind := range []backend.ContentKind{backend.KindRecording, backend.KindPSD, backend.KindCovariance, backend.KindSources, backend.KindMetrics, backend.KindFigure} {
		dirs[w.UnitDir(unit, stage, kind)] = true
	}

	var artifacts []backend.Artifact
	for dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, &WriteError{Path: dir, Err: err}
		}
		for _, e := range entries {
			name := e.Name()
			if !strings.HasSuffix(name, "_"+label+".json") {
				continue
			}
			scData, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return nil, &WriteError{Path: filepath.Join(dir, name), Err: err}
			}
			var sc Sidecar
			if err := json.Unmarshal(scData, &sc); err != nil {
				continue // not one of ours
			}
			if sc.Unit != unit.Key() || sc.Stage != string(stage) {
				continue
			}
			primary := filepath.Join(dir, sc.PrimaryFile)
			data, err := os.ReadFile(primary)
			if err != nil {
				return nil, &WriteError{Path: primary, Err: err}
			}
			artifacts = append(artifacts, backend.Artifact{
				Name: sc.ArtifactName,
				Kind: backend.ContentKind(sc.Kind),
				Ext:  filepath.Ext(sc.PrimaryFile),
				Data: data,
			})
		}
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}
