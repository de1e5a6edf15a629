// Package executor runs protocols step by step through the motion layer.
// It owns the run state machine, surfaces the failing step on abort, and
// publishes status snapshots after every step.
package executor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/swbio/pipet/pkg/events"
	"github.com/swbio/pipet/pkg/protocol"
	"github.com/swbio/pipet/pkg/robot"
)

var (
	// ErrBusy is returned when a run or homing is requested while one is
	// already in progress.
	ErrBusy = errors.New("a run is already in progress")

	// ErrAborted is reported for runs stopped by an abort request.
	ErrAborted = errors.New("run aborted by request")
)

// RunState is the executor state machine.
type RunState string

const (
	// Idle: no protocol has run yet in this session.
	Idle RunState = "idle"
	// Homing: a direct homing request is in flight.
	Homing RunState = "homing"
	// Ready: the last run or homing finished and a new one may start.
	Ready RunState = "ready"
	// Executing: a protocol run is in progress.
	Executing RunState = "executing"
	// Aborted: the last run stopped on an error or an abort request.
	Aborted RunState = "aborted"
	// Completed: the last run finished every step.
	Completed RunState = "completed"
)

// runnable reports whether a new run may start from s. Aborted requires
// the operator to clear state first (typically by homing), matching the
// fatal-error contract.
func (s RunState) runnable() bool {
	return s == Idle || s == Ready || s == Completed
}

// StepError wraps the failing step's index and error for the caller.
type StepError struct {
	Index int
	Step  protocol.Step
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Status is the read-only snapshot exposed to the presentation layer.
type Status struct {
	State     RunState    `json:"state"`
	StepIndex int         `json:"stepIndex"`
	StepCount int         `json:"stepCount"`
	LastError string      `json:"lastError,omitempty"`
	Robot     robot.State `json:"robot"`
}

// Executor sequences protocol steps through a single robot.
type Executor struct {
	rb  *robot.Robot
	hub *events.Hub

	mu        sync.Mutex
	state     RunState
	stepIndex int
	stepCount int
	lastErr   error

	abort atomic.Bool
}

// New returns an idle executor. hub may be nil.
func New(rb *robot.Robot, hub *events.Hub) *Executor {
	return &Executor{rb: rb, hub: hub, state: Idle}
}

// Status returns a snapshot of the executor and robot state.
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Executor) statusLocked() Status {
	s := Status{
		State:     e.state,
		StepIndex: e.stepIndex,
		StepCount: e.stepCount,
		Robot:     e.rb.State(),
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// Abort requests that the current run stop. The flag is honored between
// steps: a command already in flight cannot be safely interrupted
// without firmware support, so the run stops after its acknowledgement.
func (e *Executor) Abort() {
	e.abort.Store(true)
	logrus.Info("abort requested")
}

// Home performs a direct homing run outside of any protocol.
func (e *Executor) Home() error {
	e.mu.Lock()
	if e.state == Executing || e.state == Homing {
		e.mu.Unlock()
		return ErrBusy
	}
	e.state = Homing
	e.lastErr = nil
	e.mu.Unlock()
	e.publish()

	err := e.rb.Home()

	e.mu.Lock()
	if err != nil {
		e.state = Idle
		e.lastErr = err
	} else {
		e.state = Ready
	}
	e.mu.Unlock()
	e.publish()
	return err
}

// Start begins a protocol run in the background. It fails with ErrBusy
// if a run is in progress and with the state contract if the executor is
// not in a runnable state.
func (e *Executor) Start(steps []protocol.Step) error {
	if err := e.begin(steps); err != nil {
		return err
	}
	go e.runSteps(steps)
	return nil
}

// Run executes a protocol synchronously and returns the failing step's
// error, if any.
func (e *Executor) Run(steps []protocol.Step) error {
	if err := e.begin(steps); err != nil {
		return err
	}
	return e.runSteps(steps)
}

func (e *Executor) begin(steps []protocol.Step) error {
	if len(steps) == 0 {
		return pkgerrors.Wrap(protocol.ErrInvalidStepParameters, "empty protocol")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Executing || e.state == Homing {
		return ErrBusy
	}
	if !e.state.runnable() {
		return pkgerrors.Wrapf(ErrBusy, "cannot run from state %s, home first", e.state)
	}
	e.state = Executing
	e.stepIndex = 0
	e.stepCount = len(steps)
	e.lastErr = nil
	e.abort.Store(false)
	return nil
}

// runSteps executes each step in order, never skipping or reordering. A
// step either fully completes its command sequence or the whole step is
// reported failed; retry of timed-out commands happens below, inside the
// motion layer, so any error surfacing here is final.
func (e *Executor) runSteps(steps []protocol.Step) error {
	for i, step := range steps {
		if e.abort.Load() {
			return e.finish(Aborted, &StepError{Index: i, Step: step, Err: ErrAborted})
		}

		e.mu.Lock()
		e.stepIndex = i
		e.mu.Unlock()
		e.publish()

		logrus.WithFields(logrus.Fields{"step": i, "action": step.Action}).Info("executing step")
		if err := e.dispatch(step); err != nil {
			return e.finish(Aborted, &StepError{Index: i, Step: step, Err: err})
		}
	}
	return e.finish(Completed, nil)
}

func (e *Executor) finish(state RunState, err error) error {
	e.mu.Lock()
	e.state = state
	e.lastErr = err
	e.mu.Unlock()
	e.publish()
	if err != nil {
		logrus.WithField("state", state).Errorf("run failed: %v", err)
	} else {
		logrus.Info("run completed")
	}
	return err
}

func (e *Executor) dispatch(step protocol.Step) error {
	switch step.Action {
	case protocol.ActionHome:
		return e.rb.Home()
	case protocol.ActionMoveTo:
		return e.rb.MoveToWell(step.Slot, step.Row, step.Col)
	case protocol.ActionAspirate:
		return e.rb.Aspirate(step.VolumeUL)
	case protocol.ActionDispense:
		return e.rb.Dispense(step.VolumeUL)
	case protocol.ActionPickTip:
		return e.rb.PickTip(step.Slot, step.Row, step.Col)
	case protocol.ActionDropTip:
		return e.rb.DropTip(step.Slot, step.Row, step.Col)
	default:
		return pkgerrors.Wrapf(protocol.ErrUnknownStepType, "%q", step.Action)
	}
}

func (e *Executor) publish() {
	if e.hub == nil {
		return
	}
	e.hub.Publish(events.EventStatus, e.Status())
}
