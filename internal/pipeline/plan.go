// Package pipeline drives the ordered stage sequence per processing unit:
// plan computation, the per-unit state machine, and the failure-isolation
// supervisor that keeps one unit's failure from stopping the rest.
package pipeline

import (
	"fmt"

	"neuropipe/internal/backend"
	"neuropipe/internal/bids"
)

// Step is the user-selected stage scope.
type Step string

const (
	StepAll     Step = "all"
	StepImport  Step = "import"
	StepPreproc Step = "preproc"
	StepSensor  Step = "sensor"
	StepSource  Step = "source"
)

// ParseStep validates a --step value.
func ParseStep(s string) (Step, error) {
	switch Step(s) {
	case StepAll, StepImport, StepPreproc, StepSensor, StepSource:
		return Step(s), nil
	default:
		return "", fmt.Errorf("invalid step %q (want all, import, preproc, sensor, or source)", s)
	}
}

// Stages returns the ordered stage list the step selects.
func (s Step) Stages() []backend.Stage {
	if s == StepAll {
		return backend.Order
	}
	return []backend.Stage{backend.Stage(s)}
}

// Task is one (unit, stage) execution slot.
type Task struct {
	Unit  bids.Unit
	Stage backend.Stage
}

// RunPlan is the full execution plan, computed once before any unit runs and
// read-only afterwards.
type RunPlan struct {
	Units  []bids.Unit
	Stages []backend.Stage
	Tasks  []Task
}

// Plan expands the indexed dataset and selected step into the ordered task
// list. Units keep the indexer's order; stages keep pipeline order.
func Plan(ds *bids.Dataset, step Step) *RunPlan {
	stages := step.Stages()
	p := &RunPlan{Units: ds.Units, Stages: stages}
	for _, u := range ds.Units {
		for _, st := range stages {
			p.Tasks = append(p.Tasks, Task{Unit: u, Stage: st})
		}
	}
	return p
}

// Predecessor returns the stage immediately before s in pipeline order, or
// false for the first stage.
func Predecessor(s backend.Stage) (backend.Stage, bool) {
	for i, st := range backend.Order {
		if st == s && i > 0 {
			return backend.Order[i-1], true
		}
	}
	return "", false
}
