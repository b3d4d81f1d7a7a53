package gate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Approval is a successful check. Payments lists the payment gates the
// joiner passed, each of which becomes a payout once the join commits.
type Approval struct {
	Payments []PaymentGate
}

// Checker evaluates gates, composites included, against a Verifier.
type Checker struct {
	verifier   Verifier
	verifierID string
	timeout    time.Duration
	logger     *zap.Logger
}

func NewChecker(verifier Verifier, verifierID string, timeout time.Duration, logger *zap.Logger) *Checker {
	return &Checker{
		verifier:   verifier,
		verifierID: verifierID,
		timeout:    timeout,
		logger:     logger.Named("gate"),
	}
}

// Check decides gate for user. Errors are always *FailedError or
// *InternalError; a timeout is an *InternalError.
func (c *Checker) Check(ctx context.Context, g AccessGate, chatID, userID uuid.UUID, now time.Time) (Approval, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	approval, err := c.check(ctx, g, Request{UserID: userID, VerifierID: c.verifierID, ChatID: chatID, Now: now})
	var failed *FailedError
	switch {
	case err == nil:
	case errors.As(err, &failed):
		c.logger.Info("gate check rejected",
			zap.Stringer("chat_id", chatID),
			zap.Stringer("user_id", userID),
			zap.String("gate", string(g.Kind)),
			zap.String("reason", failed.Reason),
		)
	default:
		c.logger.Warn("gate verifier error",
			zap.Stringer("chat_id", chatID),
			zap.Stringer("user_id", userID),
			zap.String("gate", string(g.Kind)),
			zap.String("verifier", c.verifierID),
			zap.Error(err),
		)
	}
	return approval, err
}

func (c *Checker) check(ctx context.Context, g AccessGate, req Request) (Approval, error) {
	if g.Kind != KindComposite {
		return c.leaf(ctx, g, req)
	}

	if g.Composite.And {
		var approval Approval
		for _, inner := range g.Composite.Inner {
			a, err := c.leaf(ctx, inner, req)
			if err != nil {
				return Approval{}, err
			}
			approval.Payments = append(approval.Payments, a.Payments...)
		}
		return approval, nil
	}

	var reasons []string
	var internal error
	for _, inner := range g.Composite.Inner {
		a, err := c.leaf(ctx, inner, req)
		if err == nil {
			return a, nil
		}
		var failed *FailedError
		if errors.As(err, &failed) {
			reasons = append(reasons, failed.Reason)
		} else if internal == nil {
			internal = err
		}
	}
	// A retry could still pass if a verifier was unavailable.
	if internal != nil {
		return Approval{}, internal
	}
	return Approval{}, &FailedError{Reason: strings.Join(reasons, "; ")}
}

func (c *Checker) leaf(ctx context.Context, g AccessGate, req Request) (Approval, error) {
	req.Gate = g
	err := c.verifier.Verify(ctx, req)
	if err == nil {
		return Approval{Payments: g.Payments()}, nil
	}

	var failed *FailedError
	var internal *InternalError
	switch {
	case errors.As(err, &failed):
		return Approval{}, failed
	case errors.As(err, &internal):
		return Approval{}, internal
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Approval{}, &InternalError{Detail: "verifier timed out"}
	default:
		return Approval{}, &InternalError{Detail: err.Error()}
	}
}
