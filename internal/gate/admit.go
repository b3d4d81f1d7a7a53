package gate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// State is a step of one admission attempt.
type State int

const (
	NotStarted State = iota
	PendingExternalCheck
	Admitted
	Rejected
	Errored
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case PendingExternalCheck:
		return "pending_external_check"
	case Admitted:
		return "admitted"
	case Rejected:
		return "rejected"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// ErrGateChanged is returned when the chat's gate was replaced while the
// external check was in flight. The attempt may be retried.
var ErrGateChanged = errors.New("access gate changed during check")

// Runner executes fn serialized with every other mutation of the owning
// chat. It returns an error only when fn could not be run.
type Runner func(ctx context.Context, fn func()) error

// Inline runs fn on the calling goroutine. For callers that already hold
// exclusive access.
func Inline(_ context.Context, fn func()) error {
	fn()
	return nil
}

// Steps are the chat-specific parts of an admission.
type Steps[T any] struct {
	// Validate checks local admissibility and returns the gate to check,
	// nil when the chat has none. It runs before and again after the
	// external check.
	Validate func() (*AccessGate, error)
	// Commit applies the admission. It runs in the same serialized step
	// as the second Validate, so it sees exactly the state that passed.
	Commit func(Approval) (T, error)
}

// Attempt identifies who is being admitted where.
type Attempt struct {
	ChatID uuid.UUID
	UserID uuid.UUID
	Now    func() time.Time
}

// Outcome is the result of Admit with its state trace.
type Outcome[T any] struct {
	Value T
	State State
	Trace []State
}

func (o *Outcome[T]) move(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}

// Admit drives the three-phase protocol:
//
//  1. run Validate on the chat; without a gate, Commit right away;
//  2. otherwise call the checker with no chat state touched;
//  3. back on the chat, Validate again and Commit only if it still
//     passes and the gate is unchanged.
//
// Rejections from Validate or the verifier end in Rejected; verifier
// infrastructure errors and cancellation end in Errored. Neither changes
// any chat state.
func Admit[T any](ctx context.Context, run Runner, checker *Checker, at Attempt, steps Steps[T]) (Outcome[T], error) {
	out := Outcome[T]{Trace: []State{NotStarted}}

	var g *AccessGate
	var stepErr error
	phase := func() {
		g, stepErr = steps.Validate()
		if stepErr != nil || g != nil {
			return
		}
		out.Value, stepErr = steps.Commit(Approval{})
	}
	if err := run(ctx, phase); err != nil {
		out.move(Errored)
		return out, err
	}
	if stepErr != nil {
		out.move(Rejected)
		return out, stepErr
	}
	if g == nil {
		out.move(Admitted)
		return out, nil
	}

	snapshot := *g
	out.move(PendingExternalCheck)
	approval, err := checker.Check(ctx, snapshot, at.ChatID, at.UserID, at.Now())
	if err != nil {
		var failed *FailedError
		if errors.As(err, &failed) {
			out.move(Rejected)
		} else {
			out.move(Errored)
		}
		return out, err
	}

	phase = func() {
		current, err := steps.Validate()
		if err != nil {
			stepErr = err
			return
		}
		if !Equal(current, &snapshot) {
			stepErr = ErrGateChanged
			return
		}
		out.Value, stepErr = steps.Commit(approval)
	}
	if err := run(ctx, phase); err != nil {
		out.move(Errored)
		return out, err
	}
	if stepErr != nil {
		out.move(Rejected)
		return out, stepErr
	}
	out.move(Admitted)
	return out, nil
}
