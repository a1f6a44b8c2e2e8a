package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"neuropipe/internal/backend"
)

// fakeBackend is a scripted backend for controller and supervisor tests.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []backend.StageRequest
	failAt   backend.Stage // return AnalysisError at this stage
	failUnit string        // restrict failAt to this unit key ("" = all units)
	emptyAt  backend.Stage // return a zero-artifact result at this stage
	panicAt backend.Stage
	block   bool // block until ctx is done, then fail with ctx.Err()
}

func (f *fakeBackend) Name() string    { return "fake" }
func (f *fakeBackend) Version() string { return "0" }

func (f *fakeBackend) RunStage(ctx context.Context, sess *backend.Session, req backend.StageRequest) (*backend.StageResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.panicAt == req.Stage {
		panic("scripted panic")
	}
	if f.block {
		<-ctx.Done()
		return nil, &backend.AnalysisError{Stage: req.Stage, Unit: req.Unit.Key(), Err: ctx.Err()}
	}
	if f.failAt == req.Stage && (f.failUnit == "" || f.failUnit == req.Unit.Key()) {
		return nil, &backend.AnalysisError{Stage: req.Stage, Unit: req.Unit.Key(), Err: fmt.Errorf("scripted failure")}
	}

	res := &backend.StageResult{
		Stage:      req.Stage,
		Params:     req.Params,
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if f.emptyAt != req.Stage {
		res.Artifacts = []backend.Artifact{{
			Name: "out-" + string(req.Stage),
			Kind: stageKind(req.Stage),
			Ext:  ".dat",
			Data: []byte(string(req.Stage) + " payload"),
		}}
	}
	return res, nil
}

func stageKind(s backend.Stage) backend.ContentKind {
	switch s {
	case backend.StageSensor:
		return backend.KindCovariance
	case backend.StageSource:
		return backend.KindSources
	default:
		return backend.KindRecording
	}
}

// stagesCalled returns the stage sequence observed for one unit key.
func (f *fakeBackend) stagesCalled(unitKey string) []backend.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []backend.Stage
	for _, c := range f.calls {
		if c.Unit.Key() == unitKey {
			out = append(out, c.Stage)
		}
	}
	return out
}

func (f *fakeBackend) inputsAt(stage backend.Stage) []backend.Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Stage == stage {
			return c.Inputs
		}
	}
	return nil
}
