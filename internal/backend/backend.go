// Package backend defines the contract between the pipeline controller and
// the numerical analysis engine. Implementations are swappable; the bundled
// native engine lives in backend/native.
package backend

import (
	"context"
	"fmt"
	"time"

	"neuropipe/internal/bids"
)

// Stage is one ordered pipeline step.
type Stage string

const (
	StageImport  Stage = "import"
	StagePreproc Stage = "preproc"
	StageSensor  Stage = "sensor"
	StageSource  Stage = "source"
)

// Order is the fixed stage sequence; each stage consumes the previous
// stage's artifacts.
var Order = []Stage{StageImport, StagePreproc, StageSensor, StageSource}

// ContentKind classifies an artifact payload for derivatives routing.
type ContentKind string

const (
	KindRecording  ContentKind = "recording"
	KindMetrics    ContentKind = "metrics"
	KindPSD        ContentKind = "psd"
	KindCovariance ContentKind = "covariance"
	KindSources    ContentKind = "sources"
	KindFigure     ContentKind = "figure"
)

// Artifact is one named, typed stage output. Either Data holds the payload
// in memory or SourcePath points at an existing file.
type Artifact struct {
	Name       string      // logical name, unique within a StageResult
	Kind       ContentKind
	Ext        string      // on-disk extension including the dot, never ".json"
	Data       []byte
	SourcePath string
	Upstream   []string // identifiers of consumed upstream artifacts
}

// StageRequest is one controller call: run Stage for Unit with the exact
// parameters from the effective configuration and the predecessor artifacts.
type StageRequest struct {
	Stage  Stage
	Unit   bids.Unit
	Params map[string]any
	Inputs []Artifact
}

// StageResult is what one stage produced for one unit.
type StageResult struct {
	Stage      Stage
	Artifacts  []Artifact
	Params     map[string]any // parameters actually used
	Warnings   []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Session is the explicit engine-session handle passed into every backend
// call. Never a process-wide singleton: independent units and tests run
// against independent sessions.
type Session struct {
	ID      string
	Engine  string
	WorkDir string
}

// NewSession creates a session handle scoped to one unit's scratch dir.
func NewSession(id, engine, workDir string) *Session {
	return &Session{ID: id, Engine: engine, WorkDir: workDir}
}

// Backend runs one analysis stage. RunStage must wrap every internal failure
// in an AnalysisError and never swallow it; retry and continuation policy
// belong to the controller.
type Backend interface {
	Name() string
	Version() string
	RunStage(ctx context.Context, sess *Session, req StageRequest) (*StageResult, error)
}

// AnalysisError is a stage-scoped backend failure.
type AnalysisError struct {
	Stage Stage
	Unit  string
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed at stage %s for %s: %v", e.Stage, e.Unit, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
