package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuropipe/internal/backend"
	"neuropipe/internal/bids"
	"neuropipe/internal/pipeline"
)

func TestLedger_RunRoundTrip(t *testing.T) {
	led, err := OpenMemory()
	require.NoError(t, err)
	defer led.Close()

	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, led.BeginRun(RunRecord{
		ID: "run-1", Dataset: "TestSet", Step: "all",
		ConfigFingerprint: "fp", Started: started,
	}))
	require.NoError(t, led.FinishRun("run-1", started.Add(time.Minute), 2, 1, 0))

	runs, err := led.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	r := runs[0]
	assert.Equal(t, "run-1", r.ID)
	assert.Equal(t, "TestSet", r.Dataset)
	assert.Equal(t, 2, r.Succeeded)
	assert.Equal(t, 1, r.Partial)
	assert.True(t, r.Started.Equal(started), "started: got %s, want %s", r.Started, started)
}

func TestLedger_RecordOutcome(t *testing.T) {
	led, err := OpenMemory()
	require.NoError(t, err)
	defer led.Close()

	require.NoError(t, led.BeginRun(RunRecord{ID: "run-1", Dataset: "d", Step: "all", Started: time.Now()}))

	now := time.Now().UTC()
	o := pipeline.Outcome{
		Unit:        bids.Unit{Participant: "sub-01", Modality: bids.MEG},
		Status:      pipeline.PartiallyFailed,
		FailedStage: backend.StagePreproc,
		Cause:       "scripted failure",
		Warnings:    []string{"w1", "w2"},
		Started:     now,
		Finished:    now.Add(3 * time.Second),
	}
	require.NoError(t, led.RecordOutcome("run-1", o))
	// Re-recording the same unit replaces, not duplicates.
	require.NoError(t, led.RecordOutcome("run-1", o))

	outcomes, err := led.Outcomes("run-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	got := outcomes[0]
	assert.Equal(t, "sub-01/meg", got.Unit)
	assert.Equal(t, "PartiallyFailed", got.Status)
	assert.Equal(t, "preproc", got.FailedStage)
	assert.Equal(t, 2, got.Warnings)
	assert.Equal(t, 3*time.Second, got.Duration)
}

func TestLedger_OpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "derivatives", "neuropipe", ".neuropipe", "ledger.db")
	led, err := Open(path)
	require.NoError(t, err)
	defer led.Close()

	require.NoError(t, led.BeginRun(RunRecord{ID: "r", Dataset: "d", Step: "all", Started: time.Now()}))
}

func TestDefaultPath(t *testing.T) {
	got := DefaultPath("/out")
	assert.Equal(t, filepath.Join("/out", "derivatives", "neuropipe", ".neuropipe", "ledger.db"), got)
}
