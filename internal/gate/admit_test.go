package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFrozen = errors.New("chat frozen")

// fakeChat is the minimal local state an admission touches.
type fakeChat struct {
	mu      sync.Mutex
	gate    *AccessGate
	frozen  bool
	members []string
	events  int
	payouts []PaymentGate
}

func (c *fakeChat) run(_ context.Context, fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
	return nil
}

func (c *fakeChat) steps(user string) Steps[int] {
	return Steps[int]{
		Validate: func() (*AccessGate, error) {
			if c.frozen {
				return nil, errFrozen
			}
			return c.gate, nil
		},
		Commit: func(a Approval) (int, error) {
			c.members = append(c.members, user)
			c.events++
			c.payouts = append(c.payouts, a.Payments...)
			return len(c.members), nil
		},
	}
}

func attempt() Attempt {
	return Attempt{ChatID: chatID, UserID: userID, Now: func() time.Time { return t0 }}
}

func TestAdmitWithoutGateCommitsImmediately(t *testing.T) {
	chat := &fakeChat{}
	called := false
	c := newChecker(VerifierFunc(func(context.Context, Request) error { called = true; return nil }), 0)

	out, err := Admit(context.Background(), chat.run, c, attempt(), chat.steps("a"))
	require.NoError(t, err)
	assert.Equal(t, Admitted, out.State)
	assert.Equal(t, []State{NotStarted, Admitted}, out.Trace)
	assert.Equal(t, 1, out.Value)
	assert.False(t, called)
}

func TestAdmitPaymentGateQueuesPayout(t *testing.T) {
	chat := &fakeChat{gate: &pay}
	c := newChecker(verdicts(map[Kind]error{}), 0)

	out, err := Admit(context.Background(), chat.run, c, attempt(), chat.steps("a"))
	require.NoError(t, err)
	assert.Equal(t, []State{NotStarted, PendingExternalCheck, Admitted}, out.Trace)
	assert.Equal(t, []PaymentGate{*pay.Payment}, chat.payouts)
}

func TestAdmitFailedLeavesStateUntouched(t *testing.T) {
	chat := &fakeChat{gate: &pay, members: []string{"owner"}}
	c := newChecker(verdicts(map[Kind]error{KindPayment: &FailedError{Reason: "insufficient balance"}}), 0)

	out, err := Admit(context.Background(), chat.run, c, attempt(), chat.steps("a"))
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "insufficient balance", failed.Reason)
	assert.Equal(t, Rejected, out.State)
	assert.Equal(t, []string{"owner"}, chat.members)
	assert.Zero(t, chat.events)
	assert.Empty(t, chat.payouts)
}

func TestAdmitInternalErrorIsErrored(t *testing.T) {
	chat := &fakeChat{gate: &cred}
	c := newChecker(verdicts(map[Kind]error{KindCredential: errors.New("issuer unreachable")}), 0)

	out, err := Admit(context.Background(), chat.run, c, attempt(), chat.steps("a"))
	var internal *InternalError
	require.ErrorAs(t, err, &internal)
	assert.Equal(t, Errored, out.State)
	assert.Empty(t, chat.members)
}

func TestAdmitRevalidatesAfterSuspension(t *testing.T) {
	chat := &fakeChat{gate: &cred}
	// The chat is frozen while the verifier is working.
	v := VerifierFunc(func(ctx context.Context, _ Request) error {
		return chat.run(ctx, func() { chat.frozen = true })
	})

	out, err := Admit(context.Background(), chat.run, newChecker(v, 0), attempt(), chat.steps("a"))
	assert.ErrorIs(t, err, errFrozen)
	assert.Equal(t, []State{NotStarted, PendingExternalCheck, Rejected}, out.Trace)
	assert.Empty(t, chat.members)
	assert.Zero(t, chat.events)
}

func TestAdmitDetectsGateChange(t *testing.T) {
	chat := &fakeChat{gate: &cred}
	v := VerifierFunc(func(ctx context.Context, _ Request) error {
		return chat.run(ctx, func() { chat.gate = &pay })
	})

	out, err := Admit(context.Background(), chat.run, newChecker(v, 0), attempt(), chat.steps("a"))
	assert.ErrorIs(t, err, ErrGateChanged)
	assert.Equal(t, Rejected, out.State)
	assert.Empty(t, chat.members)
}

func TestAdmitPhaseOneRejection(t *testing.T) {
	chat := &fakeChat{gate: &cred, frozen: true}
	called := false
	c := newChecker(VerifierFunc(func(context.Context, Request) error { called = true; return nil }), 0)

	out, err := Admit(context.Background(), chat.run, c, attempt(), chat.steps("a"))
	assert.ErrorIs(t, err, errFrozen)
	assert.Equal(t, []State{NotStarted, Rejected}, out.Trace)
	assert.False(t, called, "no external call after a local rejection")
}

func TestAdmitRunnerFailure(t *testing.T) {
	stopped := errors.New("entity stopped")
	run := func(context.Context, func()) error { return stopped }
	chat := &fakeChat{}

	out, err := Admit(context.Background(), run, newChecker(verdicts(nil), 0), attempt(), chat.steps("a"))
	assert.ErrorIs(t, err, stopped)
	assert.Equal(t, Errored, out.State)
}
