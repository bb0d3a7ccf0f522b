package session

import (
	"context"
	"strings"

	"rollcall/internal/rotation"
)

// ParsedCode is a submitted code split into its session and rotation parts.
type ParsedCode struct {
	Base     string
	Rotation string
}

// ParseCode splits submitted text on the first '-'. Bare input is a base
// session code; when its length equals the rotation-code length it is also a
// candidate self-contained rotating code, which the gate tries against every
// active session.
func ParseCode(input string) ParsedCode {
	input = strings.ToUpper(strings.TrimSpace(input))
	if i := strings.IndexByte(input, '-'); i >= 0 {
		return ParsedCode{Base: input[:i], Rotation: input[i+1:]}
	}
	return ParsedCode{Base: input}
}

// Gate runs the session validity checks a submitted code must pass before
// the ledger is touched. Check order is fixed: lookup, expiry, date,
// rotating code.
type Gate struct {
	registry *Registry
	engine   *rotation.Engine
}

// NewGate wires a gate over a registry and a code engine.
func NewGate(registry *Registry, engine *rotation.Engine) *Gate {
	return &Gate{registry: registry, engine: engine}
}

// Authorize resolves scanned input to a valid session or the first applicable
// gate error. tol selects the slot window (check-in is wider than check-out).
func (g *Gate) Authorize(ctx context.Context, input string, tol rotation.Tolerance) (*Session, error) {
	parsed := ParseCode(input)
	now := g.registry.Now()
	today := now.Format(DateLayout)

	sess, err := g.registry.Find(ctx, parsed.Base)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.Active {
		// Code-only QR payloads carry just the rotating code; try it
		// against each active session before giving up.
		if parsed.Rotation == "" && len(parsed.Base) == g.engine.CodeLength {
			if match, err := g.findByRotation(ctx, parsed.Base, tol); err != nil {
				return nil, err
			} else if match != nil {
				return match, nil
			}
		}
		return nil, ErrSessionNotFound
	}
	if now.After(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	if sess.ForDate != today {
		return nil, ErrWrongDate
	}
	if parsed.Rotation != "" && !g.engine.Validate(sess.Code, parsed.Rotation, now, tol) {
		return nil, ErrCodeExpired
	}
	return sess, nil
}

func (g *Gate) findByRotation(ctx context.Context, code string, tol rotation.Tolerance) (*Session, error) {
	active, err := g.registry.Active(ctx)
	if err != nil {
		return nil, err
	}
	now := g.registry.Now()
	today := now.Format(DateLayout)
	for _, s := range active {
		if now.After(s.ExpiresAt) || s.ForDate != today {
			continue
		}
		if g.engine.Validate(s.Code, code, now, tol) {
			return s, nil
		}
	}
	return nil, nil
}
