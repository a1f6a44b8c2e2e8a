// Package native is the bundled Analysis Backend: a pure-Go engine covering
// the pipeline's stage contract with basic spectral numerics. It exists so
// the pipeline runs end to end without an external toolbox; heavier engines
// implement backend.Backend and replace it wholesale.
package native

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"neuropipe/internal/backend"
)

// Version is the engine version recorded in provenance sidecars.
const Version = "0.3.0"

// Engine implements backend.Backend.
type Engine struct{}

// New returns the native engine.
func New() *Engine { return &Engine{} }

func (e *Engine) Name() string    { return "native" }
func (e *Engine) Version() string { return Version }

// RunStage dispatches one stage call. Every failure comes back wrapped in an
// AnalysisError carrying the stage and unit identity.
func (e *Engine) RunStage(ctx context.Context, sess *backend.Session, req backend.StageRequest) (*backend.StageResult, error) {
	if sess == nil {
		return nil, &backend.AnalysisError{Stage: req.Stage, Unit: req.Unit.Key(), Err: fmt.Errorf("nil session handle")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &backend.AnalysisError{Stage: req.Stage, Unit: req.Unit.Key(), Err: err}
	}

	started := time.Now().UTC()
	var (
		artifacts []backend.Artifact
		warnings  []string
		err       error
	)
	switch req.Stage {
	case backend.StageImport:
		artifacts, warnings, err = e.runImport(req)
	case backend.StagePreproc:
		artifacts, warnings, err = e.runPreproc(req)
	case backend.StageSensor:
		artifacts, warnings, err = e.runSensor(req)
	case backend.StageSource:
		artifacts, warnings, err = e.runSource(req)
	default:
		err = fmt.Errorf("unknown stage %q", req.Stage)
	}
	if err != nil {
		return nil, &backend.AnalysisError{Stage: req.Stage, Unit: req.Unit.Key(), Err: err}
	}

	return &backend.StageResult{
		Stage:      req.Stage,
		Artifacts:  artifacts,
		Params:     req.Params,
		Warnings:   warnings,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}, nil
}

// series is the inter-stage channel-data payload, serialized into .dat
// artifacts as JSON.
type series struct {
	SampleRate float64     `json:"sample_rate"`
	Channels   []string    `json:"channels"`
	Samples    [][]float64 `json:"samples"`
	Origin     string      `json:"origin"` // source recording path
}

func encodeSeries(s *series) ([]byte, error) {
	return json.Marshal(s)
}

func decodeSeries(data []byte) (*series, error) {
	var s series
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode series payload: %w", err)
	}
	return &s, nil
}

// seriesInputs decodes every recording-kind input artifact.
func seriesInputs(inputs []backend.Artifact) ([]*series, []string, error) {
	var out []*series
	var names []string
	for _, a := range inputs {
		if a.Kind != backend.KindRecording {
			continue
		}
		s, err := decodeSeries(a.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("input %q: %w", a.Name, err)
		}
		out = append(out, s)
		names = append(names, a.Name)
	}
	return out, names, nil
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func paramInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func paramBool(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func paramString(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return def
}
