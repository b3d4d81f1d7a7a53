// Package gate implements access gates: preconditions checked by an
// external verifier before a user may join a chat, and the three-phase
// admission protocol that keeps a suspended join from committing against
// stale state.
package gate

import (
	"errors"
	"fmt"
	"reflect"
)

type Kind string

const (
	KindPayment    Kind = "payment"
	KindCredential Kind = "credential"
	KindDiamond    Kind = "diamond"
	KindComposite  Kind = "composite"
)

// PaymentGate requires the joiner to approve a transfer. On admission the
// amount minus Fee is queued for payout to the chat.
type PaymentGate struct {
	LedgerID string `json:"ledger_id"`
	Amount   uint64 `json:"amount"`
	Fee      uint64 `json:"fee"`
}

// CredentialGate requires a verifiable credential from an issuer.
type CredentialGate struct {
	IssuerOrigin   string `json:"issuer_origin"`
	CredentialType string `json:"credential_type"`
	CredentialName string `json:"credential_name,omitempty"`
}

// DiamondGate requires a diamond-tier account.
type DiamondGate struct {
	LifetimeOnly bool `json:"lifetime_only,omitempty"`
}

// CompositeGate combines gates. With And every inner gate must pass,
// otherwise one passing gate is enough.
type CompositeGate struct {
	Inner []AccessGate `json:"inner"`
	And   bool         `json:"and"`
}

// AccessGate is a tagged union; exactly the field matching Kind is set.
// A chat without a gate holds a nil *AccessGate.
type AccessGate struct {
	Kind       Kind            `json:"kind"`
	Payment    *PaymentGate    `json:"payment,omitempty"`
	Credential *CredentialGate `json:"credential,omitempty"`
	Diamond    *DiamondGate    `json:"diamond,omitempty"`
	Composite  *CompositeGate  `json:"composite,omitempty"`
}

func Payment(p PaymentGate) AccessGate {
	return AccessGate{Kind: KindPayment, Payment: &p}
}

func Credential(c CredentialGate) AccessGate {
	return AccessGate{Kind: KindCredential, Credential: &c}
}

func Diamond(d DiamondGate) AccessGate {
	return AccessGate{Kind: KindDiamond, Diamond: &d}
}

func All(gates ...AccessGate) AccessGate {
	return AccessGate{Kind: KindComposite, Composite: &CompositeGate{Inner: gates, And: true}}
}

func Any(gates ...AccessGate) AccessGate {
	return AccessGate{Kind: KindComposite, Composite: &CompositeGate{Inner: gates}}
}

var ErrInvalidGate = errors.New("invalid access gate")

// Validate checks that the variant data matches Kind. Composites may not
// nest.
func (g AccessGate) Validate() error {
	return g.validate(false)
}

func (g AccessGate) validate(nested bool) error {
	set := 0
	for _, present := range []bool{g.Payment != nil, g.Credential != nil, g.Diamond != nil, g.Composite != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: kind %q needs exactly one variant", ErrInvalidGate, g.Kind)
	}
	switch g.Kind {
	case KindPayment:
		if g.Payment == nil || g.Payment.LedgerID == "" || g.Payment.Amount == 0 {
			return fmt.Errorf("%w: payment needs a ledger and a positive amount", ErrInvalidGate)
		}
		if g.Payment.Fee >= g.Payment.Amount {
			return fmt.Errorf("%w: payment fee must be below the amount", ErrInvalidGate)
		}
	case KindCredential:
		if g.Credential == nil || g.Credential.IssuerOrigin == "" || g.Credential.CredentialType == "" {
			return fmt.Errorf("%w: credential needs an issuer and a type", ErrInvalidGate)
		}
	case KindDiamond:
		if g.Diamond == nil {
			return fmt.Errorf("%w: diamond variant missing", ErrInvalidGate)
		}
	case KindComposite:
		if nested {
			return fmt.Errorf("%w: composite gates cannot nest", ErrInvalidGate)
		}
		if g.Composite == nil || len(g.Composite.Inner) < 2 {
			return fmt.Errorf("%w: composite needs at least two gates", ErrInvalidGate)
		}
		for _, inner := range g.Composite.Inner {
			if err := inner.validate(true); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidGate, g.Kind)
	}
	return nil
}

// Equal reports whether two gates describe the same check. Nil means no
// gate.
func Equal(a, b *AccessGate) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(*a, *b)
}

// Payments lists the payment gates contained in g.
func (g AccessGate) Payments() []PaymentGate {
	switch {
	case g.Payment != nil:
		return []PaymentGate{*g.Payment}
	case g.Composite != nil:
		var out []PaymentGate
		for _, inner := range g.Composite.Inner {
			out = append(out, inner.Payments()...)
		}
		return out
	}
	return nil
}

// FailedError is a legitimate rejection by the verifier. The caller may
// retry once the condition changes.
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string {
	return "gate check failed: " + e.Reason
}

// InternalError means the verifier could not produce an answer.
type InternalError struct {
	Detail string
}

func (e *InternalError) Error() string {
	return "gate check error: " + e.Detail
}
