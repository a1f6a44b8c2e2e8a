package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"neuropipe/internal/backend"
	"neuropipe/internal/bids"
	"neuropipe/internal/config"
	"neuropipe/internal/derivatives"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testController(t *testing.T, fb *fakeBackend) (*Controller, *derivatives.Writer) {
	t.Helper()
	eff, err := config.Resolve(config.Default(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	w := derivatives.NewWriter(t.TempDir(), "run-t", eff.Fingerprint(),
		derivatives.Generator{Name: "neuropipe", Version: "test"})
	return &Controller{
		Backend: fb,
		Writer:  w,
		Cfg:     eff,
		WorkDir: t.TempDir(),
		Log:     discard(),
	}, w
}

func megUnit(sub string) bids.Unit {
	return bids.Unit{
		Participant: sub,
		Modality:    bids.MEG,
		Files:       []bids.RecordingFile{{Path: "/data/" + sub + "_meg.fif"}},
	}
}

func TestRunUnit_AllStagesSucceed(t *testing.T) {
	fb := &fakeBackend{}
	c, w := testController(t, fb)
	unit := megUnit("sub-01")

	out := c.RunUnit(context.Background(), unit, backend.Order)

	if out.Status != Succeeded {
		t.Fatalf("status: got %s, cause %q", out.Status, out.Cause)
	}
	if out.State != StateDone {
		t.Errorf("state: got %s, want Done", out.State)
	}
	got := fb.stagesCalled(unit.Key())
	if len(got) != 4 || got[0] != backend.StageImport || got[3] != backend.StageSource {
		t.Errorf("stage order: %v", got)
	}

	// Each stage after import consumed the predecessor's artifacts.
	if in := fb.inputsAt(backend.StagePreproc); len(in) != 1 || in[0].Name != "out-import" {
		t.Errorf("preproc inputs: %v", in)
	}
	if in := fb.inputsAt(backend.StageSource); len(in) != 1 || in[0].Name != "out-sensor" {
		t.Errorf("source inputs: %v", in)
	}

	// Every stage persisted its artifact.
	for _, stage := range backend.Order {
		arts, err := w.Load(unit, stage)
		if err != nil {
			t.Fatal(err)
		}
		if len(arts) != 1 {
			t.Errorf("stage %s: %d persisted artifacts, want 1", stage, len(arts))
		}
	}
}

func TestRunUnit_FailureStopsLaterStages(t *testing.T) {
	fb := &fakeBackend{failAt: backend.StagePreproc}
	c, w := testController(t, fb)
	unit := megUnit("sub-01")

	out := c.RunUnit(context.Background(), unit, backend.Order)

	if out.Status != PartiallyFailed {
		t.Fatalf("status: got %s", out.Status)
	}
	if out.FailedStage != backend.StagePreproc {
		t.Errorf("failed stage: got %s", out.FailedStage)
	}
	if out.State != StateFailed {
		t.Errorf("state: got %s", out.State)
	}

	got := fb.stagesCalled(unit.Key())
	if len(got) != 2 {
		t.Errorf("sensor/source must not run after preproc failure: %v", got)
	}

	// Dependency invariant: nothing downstream of the failed stage on disk.
	for _, stage := range []backend.Stage{backend.StageSensor, backend.StageSource} {
		arts, err := w.Load(unit, stage)
		if err != nil {
			t.Fatal(err)
		}
		if len(arts) != 0 {
			t.Errorf("stage %s has artifacts despite upstream failure", stage)
		}
	}
}

func TestRunUnit_FirstStageFailureIsFailed(t *testing.T) {
	fb := &fakeBackend{failAt: backend.StageImport}
	c, _ := testController(t, fb)

	out := c.RunUnit(context.Background(), megUnit("sub-01"), backend.Order)
	if out.Status != Failed {
		t.Errorf("failure at the first stage should be Failed, got %s", out.Status)
	}
}

func TestRunUnit_EmptyResultDegradesToWarning(t *testing.T) {
	fb := &fakeBackend{emptyAt: backend.StagePreproc}
	c, _ := testController(t, fb)
	unit := megUnit("sub-01")

	out := c.RunUnit(context.Background(), unit, backend.Order)

	if out.Status != Succeeded {
		t.Fatalf("empty predecessor is a skip, not a failure: %s (%s)", out.Status, out.Cause)
	}
	found := false
	for _, warn := range out.Warnings {
		if strings.Contains(warn, "empty result") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected empty-result warning, got %v", out.Warnings)
	}
	// Sensor still ran, with zero inputs.
	if got := fb.stagesCalled(unit.Key()); len(got) != 4 {
		t.Errorf("downstream stages must still run: %v", got)
	}
	if in := fb.inputsAt(backend.StageSensor); len(in) != 0 {
		t.Errorf("sensor inputs should be empty: %v", in)
	}
}

func TestRunUnit_SingleStageMissingDependency(t *testing.T) {
	fb := &fakeBackend{}
	c, w := testController(t, fb)
	unit := megUnit("sub-01")

	out := c.RunUnit(context.Background(), unit, []backend.Stage{backend.StageSource})

	if out.Status != Failed {
		t.Fatalf("status: got %s", out.Status)
	}
	if !strings.Contains(out.Cause, "missing dependency") || !strings.Contains(out.Cause, "sensor") {
		t.Errorf("cause should name the missing stage: %q", out.Cause)
	}
	if got := fb.stagesCalled(unit.Key()); len(got) != 0 {
		t.Errorf("backend must not be called: %v", got)
	}
	arts, _ := w.Load(unit, backend.StageSource)
	if len(arts) != 0 {
		t.Errorf("no source output may be written")
	}
}

func TestRunUnit_SingleStageWithDepsOnDisk(t *testing.T) {
	fb := &fakeBackend{}
	c, w := testController(t, fb)
	unit := megUnit("sub-01")

	// Simulate an earlier sensor run.
	_, err := w.Write(unit, &backend.StageResult{
		Stage: backend.StageSensor,
		Artifacts: []backend.Artifact{{
			Name: "rec0-cov", Kind: backend.KindCovariance, Ext: ".tsv", Data: []byte("1\n"),
		}},
		Params:     map[string]any{},
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	out := c.RunUnit(context.Background(), unit, []backend.Stage{backend.StageSource})
	if out.Status != Succeeded {
		t.Fatalf("status: %s (%s)", out.Status, out.Cause)
	}
	if in := fb.inputsAt(backend.StageSource); len(in) != 1 || in[0].Name != "rec0-cov" {
		t.Errorf("source should consume the on-disk sensor artifact: %v", in)
	}
}

func TestStageParams_MergesGeneral(t *testing.T) {
	fb := &fakeBackend{}
	c, _ := testController(t, fb)

	params := c.stageParams(backend.StagePreproc)
	if params["line_freq"] != 60 {
		t.Errorf("general line_freq missing: %v", params)
	}
	if params["highpass"] != 0.3 {
		t.Errorf("stage key missing: %v", params)
	}
}
