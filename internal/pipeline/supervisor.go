package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"neuropipe/internal/backend"
	"neuropipe/internal/bids"
)

// Recorder persists per-unit outcomes; implemented by the run ledger.
type Recorder interface {
	RecordOutcome(runID string, o Outcome) error
}

// Supervisor wraps per-unit execution so one unit's failure — including a
// panic or a timeout — never prevents the remaining units from running. It
// owns the aggregate run report.
type Supervisor struct {
	Ctrl        *Controller
	RunID       string
	Jobs        int           // max concurrent units; <=1 means sequential
	UnitTimeout time.Duration // 0 disables the per-unit deadline
	Recorder    Recorder      // optional
	Log         *slog.Logger
}

// Report aggregates all unit outcomes of one run.
type Report struct {
	RunID    string
	Outcomes []Outcome
	Started  time.Time
	Finished time.Time
}

// Counts returns (succeeded, partiallyFailed, failed).
func (r *Report) Counts() (int, int, int) {
	var ok, partial, failed int
	for _, o := range r.Outcomes {
		switch o.Status {
		case Succeeded:
			ok++
		case PartiallyFailed:
			partial++
		default:
			failed++
		}
	}
	return ok, partial, failed
}

// OK reports run success: at least one unit reached Done.
func (r *Report) OK() bool {
	ok, _, _ := r.Counts()
	return ok > 0
}

// AnyFailed reports whether any unit ended short of Done.
func (r *Report) AnyFailed() bool {
	_, partial, failed := r.Counts()
	return partial > 0 || failed > 0
}

// Run executes the plan. Units run sequentially unless Jobs > 1, in which
// case a bounded worker pool processes them; stages within a unit always
// run strictly in order. The outcome slice keeps plan order regardless of
// completion order.
func (s *Supervisor) Run(ctx context.Context, plan *RunPlan) *Report {
	report := &Report{RunID: s.RunID, Started: time.Now().UTC(), Outcomes: make([]Outcome, len(plan.Units))}

	var mu sync.Mutex
	record := func(i int, o Outcome) {
		mu.Lock()
		report.Outcomes[i] = o
		mu.Unlock()
		if s.Recorder != nil {
			if err := s.Recorder.RecordOutcome(s.RunID, o); err != nil {
				s.Log.Warn("ledger record failed", "unit", o.Unit.Key(), "error", err)
			}
		}
	}

	if s.Jobs <= 1 {
		for i, unit := range plan.Units {
			record(i, s.runOne(ctx, unit, plan.Stages))
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.Jobs)
		for i, unit := range plan.Units {
			g.Go(func() error {
				record(i, s.runOne(ctx, unit, plan.Stages))
				return nil
			})
		}
		g.Wait() // workers never return errors; failures live in outcomes
	}

	report.Finished = time.Now().UTC()
	return report
}

// runOne isolates a single unit: applies the optional per-unit deadline and
// converts panics and timeouts into Failed outcomes.
func (s *Supervisor) runOne(ctx context.Context, unit bids.Unit, stages []backend.Stage) (out Outcome) {
	s.Log.Info("unit start", "unit", unit.Key())

	unitCtx := ctx
	if s.UnitTimeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, s.UnitTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out = Outcome{
				Unit:        unit,
				Status:      Failed,
				State:       StateFailed,
				FailedStage: stages[0],
				Cause:       fmt.Sprintf("panic: %v", r),
				Started:     time.Now().UTC(),
				Finished:    time.Now().UTC(),
			}
			s.Log.Error("unit panicked", "unit", unit.Key(), "panic", r)
		}
	}()

	out = s.Ctrl.RunUnit(unitCtx, unit, stages)

	// A deadline that expired mid-unit surfaces as a backend error; label it
	// as the timeout it is.
	if out.State == StateFailed && s.UnitTimeout > 0 && unitCtx.Err() == context.DeadlineExceeded {
		out.Status = Failed
		out.Cause = fmt.Sprintf("timeout after %s at stage %s", s.UnitTimeout, out.FailedStage)
	}
	return out
}
