package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/gate"
	"github.com/lalith-99/echocore/internal/models"
)

// Freeze suspends the chat. Only platform moderators may freeze; a
// frozen chat refuses every mutation but Unfreeze.
func (e *Entity) Freeze(ctx context.Context, call Call, reason string) error {
	if !call.PlatformModerator {
		return ErrNotAuthorized
	}
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.checkNotFrozen(); err != nil {
			return err
		}
		if _, err := e.push(t, events.Main, events.ChatFrozen{FrozenBy: call.Caller, Reason: reason}); err != nil {
			return err
		}
		s.frozen.Set(&Frozen{By: call.Caller, Reason: reason, At: t.now}, t.now)
		return nil
	})
}

func (e *Entity) Unfreeze(ctx context.Context, call Call) error {
	if !call.PlatformModerator {
		return ErrNotAuthorized
	}
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if s.frozen.Value == nil {
			return ErrChatNotFrozen
		}
		s.frozen.Set(nil, t.now)
		_, err := e.push(t, events.Main, events.ChatUnfrozen{UnfrozenBy: call.Caller})
		return err
	})
}

// SetGate replaces the access gate; nil removes it. A join whose external
// check is in flight fails with gate.ErrGateChanged.
func (e *Entity) SetGate(ctx context.Context, call Call, g *gate.AccessGate) error {
	if g != nil {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.groupMutation(); err != nil {
			return err
		}
		if _, err := s.requireRole(call.Caller, models.RoleAdmin); err != nil {
			return err
		}
		if gate.Equal(s.gate.Value, g) {
			return nil
		}
		var stored *gate.AccessGate
		kind := ""
		if g != nil {
			cp := *g
			stored = &cp
			kind = string(g.Kind)
		}
		s.gate.Set(stored, t.now)
		_, err := e.push(t, events.Main, events.GateUpdated{UpdatedBy: call.Caller, GateKind: kind})
		return err
	})
}

// SetEventsTTL makes messages sent from now on expire after ttl. A nil
// ttl disables expiry. Either participant of a direct chat may set it;
// groups need an admin.
func (e *Entity) SetEventsTTL(ctx context.Context, call Call, ttl *time.Duration) error {
	if ttl != nil && *ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidRequest)
	}
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.checkNotFrozen(); err != nil {
			return err
		}
		need := models.RoleAdmin
		if s.isDirect() {
			need = models.RoleMember
		}
		if _, err := s.requireRole(call.Caller, need); err != nil {
			return err
		}
		current := s.eventsTTL.Value
		if (current == nil && ttl == nil) || (current != nil && ttl != nil && *current == *ttl) {
			return nil
		}

		var stored *time.Duration
		var millis *int64
		if ttl != nil {
			d := *ttl
			stored = &d
			ms := d.Milliseconds()
			millis = &ms
		}
		s.eventsTTL.Set(stored, t.now)
		s.log.SetTTL(stored)
		_, err := e.push(t, events.Main, events.EventsTTLUpdated{UpdatedBy: call.Caller, TTLMillis: millis})
		return err
	})
}

// SetRules replaces the chat rules. Changing the text bumps the version,
// which every member must accept again before sending. The caller
// accepts the new version implicitly.
func (e *Entity) SetRules(ctx context.Context, call Call, text string, enabled bool) (models.Rules, error) {
	var out models.Rules
	err := e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.groupMutation(); err != nil {
			return err
		}
		if _, err := s.requireRole(call.Caller, models.RoleAdmin); err != nil {
			return err
		}
		rules := s.rules.Value
		if rules.Text == text && rules.Enabled == enabled {
			out = rules
			return nil
		}
		if rules.Text != text {
			rules.Version++
		}
		rules.Text = text
		rules.Enabled = enabled
		s.rules.Set(rules, t.now)
		out = rules

		if _, err := e.push(t, events.Main, events.RulesChanged{
			Enabled:   enabled,
			Version:   rules.Version,
			ChangedBy: call.Caller,
		}); err != nil {
			return err
		}
		return s.members.AcceptRules(call.Caller, rules.Version, t.now)
	})
	return out, err
}

// AcceptRules records that the caller accepted the given rules version.
func (e *Entity) AcceptRules(ctx context.Context, call Call, version uint32) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.groupMutation(); err != nil {
			return err
		}
		m, err := s.member(call.Caller)
		if err != nil {
			return err
		}
		if version != s.rules.Value.Version {
			return ErrRulesVersion
		}
		if m.HasAccepted(version) {
			return nil
		}
		if err := s.members.AcceptRules(call.Caller, version, t.now); err != nil {
			return err
		}
		_, err = e.push(t, events.Main, events.RulesAccepted{UserID: call.Caller, Version: version})
		return err
	})
}

// ResetInviteCode issues a new invite code, invalidating the previous
// one. Only the digest is kept, so the code is returned once.
func (e *Entity) ResetInviteCode(ctx context.Context, call Call) (string, error) {
	var code string
	err := e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.groupMutation(); err != nil {
			return err
		}
		if _, err := s.requireRole(call.Caller, models.RoleAdmin); err != nil {
			return err
		}
		fresh, digest, err := newInviteCode()
		if err != nil {
			return err
		}
		s.inviteCode.Set(digest, t.now)
		t.dirty = true
		code = fresh
		return nil
	})
	return code, err
}

func (e *Entity) DisableInviteCode(ctx context.Context, call Call) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.groupMutation(); err != nil {
			return err
		}
		if _, err := s.requireRole(call.Caller, models.RoleAdmin); err != nil {
			return err
		}
		if len(s.inviteCode.Value) == 0 {
			return ErrNoInviteCode
		}
		s.inviteCode.Set(nil, t.now)
		t.dirty = true
		return nil
	})
}

// SettingsUpdate changes the fields that are set.
type SettingsUpdate struct {
	Name                       *string
	Public                     *bool
	HistoryVisibleToNewJoiners *bool
	MemberLimit                *int
}

func (e *Entity) UpdateSettings(ctx context.Context, call Call, u SettingsUpdate) error {
	if u.Name != nil && *u.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidRequest)
	}
	if u.MemberLimit != nil && *u.MemberLimit < 0 {
		return fmt.Errorf("%w: member limit must not be negative", ErrInvalidRequest)
	}
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.groupMutation(); err != nil {
			return err
		}
		if _, err := s.requireRole(call.Caller, models.RoleAdmin); err != nil {
			return err
		}
		if u.Name != nil {
			s.name = *u.Name
		}
		if u.Public != nil {
			s.public = *u.Public
		}
		if u.HistoryVisibleToNewJoiners != nil {
			s.history.HistoryVisibleToNewJoiners = *u.HistoryVisibleToNewJoiners
		}
		if u.MemberLimit != nil {
			s.members.SetLimit(*u.MemberLimit)
		}
		s.settingsUpdated = t.now
		t.dirty = true
		return nil
	})
}
