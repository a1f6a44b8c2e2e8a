package pipeline

import (
	"fmt"
	"time"

	"neuropipe/internal/backend"
	"neuropipe/internal/bids"
)

// State is the per-unit execution state. Failed is absorbing and reachable
// from every non-terminal state.
type State int

const (
	StatePending State = iota
	StateImporting
	StatePreprocessing
	StateSensorAnalysis
	StateSourceAnalysis
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateImporting:
		return "Importing"
	case StatePreprocessing:
		return "Preprocessing"
	case StateSensorAnalysis:
		return "SensorAnalysis"
	case StateSourceAnalysis:
		return "SourceAnalysis"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// stageState maps an executing stage to its state-machine state.
func stageState(s backend.Stage) State {
	switch s {
	case backend.StageImport:
		return StateImporting
	case backend.StagePreproc:
		return StatePreprocessing
	case backend.StageSensor:
		return StateSensorAnalysis
	case backend.StageSource:
		return StateSourceAnalysis
	default:
		return StateFailed
	}
}

// Status is the terminal classification of a unit run.
type Status int

const (
	Succeeded Status = iota
	PartiallyFailed
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "Succeeded"
	case PartiallyFailed:
		return "PartiallyFailed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Outcome is the terminal record of one unit's run.
type Outcome struct {
	Unit        bids.Unit
	Status      Status
	State       State // Done or Failed
	FailedStage backend.Stage
	Cause       string
	Warnings    []string
	Started     time.Time
	Finished    time.Time
}

// Duration is the wall-clock time the unit took.
func (o Outcome) Duration() time.Duration { return o.Finished.Sub(o.Started) }

// MissingDependencyError reports a single-stage run whose required
// predecessor artifacts are absent from the derivatives tree.
type MissingDependencyError struct {
	Stage    backend.Stage // the stage whose output is missing
	Artifact string        // the missing artifact label
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing dependency: no %s artifact (%s) on disk; run the %s stage first",
		e.Stage, e.Artifact, e.Stage)
}
