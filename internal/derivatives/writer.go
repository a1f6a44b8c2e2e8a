// Package derivatives persists stage outputs into the BIDS derivatives tree
// with deterministic paths and one JSON provenance sidecar per artifact.
package derivatives

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"neuropipe/internal/backend"
	"neuropipe/internal/bids"
)

// PipelineName is the derivatives sub-tree this pipeline owns.
const PipelineName = "neuropipe"

// stageLabels is the trailing filename entity per stage.
var stageLabels = map[backend.Stage]string{
	backend.StageImport:  "proc-import",
	backend.StagePreproc: "proc-pipeline",
	backend.StageSensor:  "space-sensor",
	backend.StageSource:  "space-source",
}

// Label returns the analysis-level label for a stage.
func Label(stage backend.Stage) string { return stageLabels[stage] }

// WriteError is a unit-scoped I/O failure persisting an artifact.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write %s: %v", e.Path, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Generator identifies one piece of generating software in sidecars.
type Generator struct {
	Name    string `json:"Name"`
	Version string `json:"Version"`
}

// Sidecar is the provenance record co-located with every artifact.
type Sidecar struct {
	ArtifactName      string         `json:"ArtifactName"`
	Kind              string         `json:"Kind"`
	PrimaryFile       string         `json:"PrimaryFile"`
	Stage             string         `json:"Stage"`
	Unit              string         `json:"Unit"`
	Label             string         `json:"Label"`
	GeneratedBy       []Generator    `json:"GeneratedBy"`
	Parameters        map[string]any `json:"Parameters"`
	ConfigFingerprint string         `json:"ConfigFingerprint"`
	RunID             string         `json:"RunID"`
	CreatedAt         string         `json:"CreatedAt"`
	Upstream          []string       `json:"Upstream,omitempty"`
}

// Writer persists artifacts under <root>/derivatives/neuropipe/. Path
// computation is a pure function of unit identity, stage, and artifact name,
// so re-runs overwrite in place.
type Writer struct {
	root        string // output root
	runID       string
	fingerprint string
	generators  []Generator
}

// NewWriter returns a Writer rooted at outputRoot.
func NewWriter(outputRoot, runID, configFingerprint string, generators ...Generator) *Writer {
	return &Writer{
		root:        outputRoot,
		runID:       runID,
		fingerprint: configFingerprint,
		generators:  generators,
	}
}

// PipelineDir is <root>/derivatives/neuropipe.
func (w *Writer) PipelineDir() string {
	return filepath.Join(w.root, "derivatives", PipelineName)
}

// UnitDir computes the canonical directory for one artifact kind of a unit.
// Import/preproc artifacts live under the modality folder, sensor and source
// results under their analysis folders, figures under figures/.
func (w *Writer) UnitDir(unit bids.Unit, stage backend.Stage, kind backend.ContentKind) string {
	parts := []string{w.PipelineDir(), unit.Participant}
	if unit.Session != "" {
		parts = append(parts, unit.Session)
	}
	switch {
	case kind == backend.KindFigure:
		parts = append(parts, "figures")
	case stage == backend.StageSensor:
		parts = append(parts, "sensor")
	case stage == backend.StageSource:
		parts = append(parts, "source")
	default:
		parts = append(parts, string(unit.Modality))
	}
	return filepath.Join(parts...)
}

// Basename computes the canonical filename stem:
// <participant>[_<session>][_task-T][_run-R]_desc-<name>_<label>.
func (w *Writer) Basename(unit bids.Unit, stage backend.Stage, artifactName string) string {
	parts := []string{unit.Participant}
	if unit.Session != "" {
		parts = append(parts, unit.Session)
	}
	if t := unit.Task(); t != "" {
		parts = append(parts, "task-"+t)
	}
	if r := unit.Run(); r != "" {
		parts = append(parts, "run-"+r)
	}
	parts = append(parts, "desc-"+slug(artifactName), stageLabels[stage])
	return strings.Join(parts, "_")
}

// ArtifactID is the stable identifier recorded in sidecars and the ledger.
func ArtifactID(unit bids.Unit, stage backend.Stage, artifactName string) string {
	return unit.Key() + "/" + string(stage) + "/" + slug(artifactName)
}

// Write persists every artifact of a stage result plus its provenance
// sidecar. Identical inputs always land at identical paths; existing files
// are replaced, never versioned.
func (w *Writer) Write(unit bids.Unit, res *backend.StageResult) ([]string, error) {
	var paths []string
	for _, a := range res.Artifacts {
		dir := w.UnitDir(unit, res.Stage, a.Kind)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, &WriteError{Path: dir, Err: err}
		}
		base := w.Basename(unit, res.Stage, a.Name)
		primary := filepath.Join(dir, base+a.Ext)

		if err := w.writePrimary(primary, a); err != nil {
			return paths, err
		}
		paths = append(paths, primary)

		upstream := make([]string, 0, len(a.Upstream))
		for _, u := range a.Upstream {
			upstream = append(upstream, unit.Key()+"/"+u)
		}
		sc := Sidecar{
			ArtifactName:      a.Name,
			Kind:              string(a.Kind),
			PrimaryFile:       base + a.Ext,
			Stage:             string(res.Stage),
			Unit:              unit.Key(),
			Label:             stageLabels[res.Stage],
			GeneratedBy:       w.generators,
			Parameters:        res.Params,
			ConfigFingerprint: w.fingerprint,
			RunID:             w.runID,
			CreatedAt:         time.Now().UTC().Format(time.RFC3339),
			Upstream:          upstream,
		}
		scPath := filepath.Join(dir, base+".json")
		data, err := json.MarshalIndent(sc, "", "  ")
		if err != nil {
			return paths, &WriteError{Path: scPath, Err: err}
		}
		if err := atomicWrite(scPath, data); err != nil {
			return paths, err
		}
		paths = append(paths, scPath)
	}
	return paths, nil
}

func (w *Writer) writePrimary(path string, a backend.Artifact) error {
	if a.SourcePath != "" {
		return atomicCopy(path, a.SourcePath)
	}
	return atomicWrite(path, a.Data)
}

// atomicWrite replaces path via a temp file in the same directory.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &WriteError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

func atomicCopy(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return &WriteError{Path: dst, Err: err}
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp*")
	if err != nil {
		return &WriteError{Path: dst, Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return &WriteError{Path: dst, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Path: dst, Err: err}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return &WriteError{Path: dst, Err: err}
	}
	return nil
}

// slug lowercases a logical name and strips everything outside [a-z0-9]
// so it is safe inside a BIDS desc- entity.
func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "artifact"
	}
	return b.String()
}
