package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"neuropipe/internal/backend"
	"neuropipe/internal/bids"
	"neuropipe/internal/config"
	"neuropipe/internal/derivatives"
)

// Controller executes the requested stage sequence for single units, in
// strict pipeline order with each stage consuming its predecessor's result.
type Controller struct {
	Backend backend.Backend
	Writer  *derivatives.Writer
	Cfg     *config.Effective
	WorkDir string // scratch root for engine sessions
	Log     *slog.Logger
}

// RunUnit drives one unit through stages. The stage slice must be a
// contiguous suffix-free selection produced by Step.Stages: either the full
// order or a single stage. RunUnit never returns an error; every failure is
// folded into the Outcome so the supervisor can continue with other units.
func (c *Controller) RunUnit(ctx context.Context, unit bids.Unit, stages []backend.Stage) Outcome {
	out := Outcome{Unit: unit, Started: time.Now().UTC()}
	log := c.Log.With("unit", unit.Key())

	prev, failed := c.loadPredecessor(unit, stages[0], &out, log)
	if failed {
		out.Finished = time.Now().UTC()
		return out
	}

	sess := backend.NewSession(unit.Key(), c.Backend.Name(),
		filepath.Join(c.WorkDir, strings.ReplaceAll(unit.Key(), "/", "_")))

	for i, stage := range stages {
		state := stageState(stage)
		log.Info("stage start", "stage", stage, "state", state.String())

		// Transition guard: past the first executed stage, an empty
		// predecessor result degrades to a warned skip, never an abort.
		if stage != backend.StageImport && len(prev) == 0 && i > 0 {
			warn := "empty result from previous stage; continuing with no inputs"
			out.Warnings = append(out.Warnings, string(stage)+": "+warn)
			log.Warn(warn, "stage", stage)
		}

		req := backend.StageRequest{
			Stage:  stage,
			Unit:   unit,
			Params: c.stageParams(stage),
			Inputs: prev,
		}
		res, err := c.Backend.RunStage(ctx, sess, req)
		if err != nil {
			c.fail(&out, stage, i == 0, err.Error(), log)
			return out
		}

		if _, err := c.Writer.Write(unit, res); err != nil {
			c.fail(&out, stage, i == 0, err.Error(), log)
			return out
		}

		out.Warnings = append(out.Warnings, res.Warnings...)
		if len(res.Artifacts) == 0 {
			log.Warn("stage produced no artifacts", "stage", stage)
		}
		log.Info("stage done", "stage", stage, "artifacts", len(res.Artifacts))
		prev = res.Artifacts
	}

	out.Status = Succeeded
	out.State = StateDone
	out.Finished = time.Now().UTC()
	log.Info("unit done", "warnings", len(out.Warnings))
	return out
}

// loadPredecessor fetches on-disk inputs when the run starts at a stage
// after import. Absence of the predecessor's artifacts is a
// MissingDependencyError: single-stage runs cannot invent their inputs.
func (c *Controller) loadPredecessor(unit bids.Unit, first backend.Stage, out *Outcome, log *slog.Logger) ([]backend.Artifact, bool) {
	pred, ok := Predecessor(first)
	if !ok {
		return nil, false
	}
	arts, err := c.Writer.Load(unit, pred)
	if err != nil {
		c.fail(out, first, true, err.Error(), log)
		return nil, true
	}
	if len(arts) == 0 {
		mde := &MissingDependencyError{Stage: pred, Artifact: derivatives.Label(pred)}
		c.fail(out, first, true, mde.Error(), log)
		return nil, true
	}
	return arts, false
}

// stageParams merges the general section under the stage section, so stage
// calls see shared parameters like line_freq.
func (c *Controller) stageParams(stage backend.Stage) map[string]any {
	params := c.Cfg.Section("general")
	for k, v := range c.Cfg.Section(string(stage)) {
		params[k] = v
	}
	return params
}

func (c *Controller) fail(out *Outcome, stage backend.Stage, first bool, cause string, log *slog.Logger) {
	out.Status = PartiallyFailed
	if first {
		out.Status = Failed
	}
	out.State = StateFailed
	out.FailedStage = stage
	out.Cause = cause
	out.Finished = time.Now().UTC()
	log.Error("unit failed", "stage", stage, "cause", cause)
}
