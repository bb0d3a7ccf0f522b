// Package session manages class session records and gates submitted codes
// before any attendance mutation is attempted.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"rollcall/internal/kv"
	"rollcall/internal/rotation"
)

// Gate sentinels, surfaced to callers in the order the gate checks them.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrWrongDate       = errors.New("session is not for today")
	ErrCodeExpired     = errors.New("rotating code expired")
	ErrCodeCollision   = errors.New("could not allocate a unique session code")
)

// DateLayout is the calendar-date format sessions and ledger buckets key on.
const DateLayout = "2006-01-02"

const (
	activeSessionsKey = "sessions:active"
	codeLength        = 6
	maxCodeAttempts   = 10
)

// Session is one class meeting. Code doubles as the rotating-code secret.
type Session struct {
	Code      string     `json:"code"`
	Label     string     `json:"label"`
	ForDate   string     `json:"forDate"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Active    bool       `json:"active"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// Registry persists sessions through the kv collaborator.
type Registry struct {
	store kv.Store
	ttl   time.Duration

	// Now is overridable in tests.
	Now    func() time.Time
	randFn func(n int) int
}

// NewRegistry creates a registry. ttl is how long a session stays valid
// after creation; non-positive means the 8-hour default.
func NewRegistry(store kv.Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Registry{
		store:  store,
		ttl:    ttl,
		Now:    time.Now,
		randFn: rand.Intn,
	}
}

func (r *Registry) load(ctx context.Context) (map[string]*Session, error) {
	raw, err := r.store.Get(ctx, activeSessionsKey)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	sessions := make(map[string]*Session)
	if raw != nil {
		if err := json.Unmarshal(raw, &sessions); err != nil {
			return nil, fmt.Errorf("decode sessions: %w", err)
		}
	}
	return sessions, nil
}

func (r *Registry) save(ctx context.Context, sessions map[string]*Session) error {
	raw, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	return r.store.Set(ctx, activeSessionsKey, raw)
}

func (r *Registry) newCode(taken map[string]*Session) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		buf := make([]byte, codeLength)
		for i := range buf {
			buf[i] = rotation.Alphabet[r.randFn(len(rotation.Alphabet))]
		}
		code := string(buf)
		if s, ok := taken[code]; !ok || !s.Active {
			return code, nil
		}
	}
	return "", ErrCodeCollision
}

// Create allocates a new active session for today. Codes are only collision
// checked against currently-stored sessions; uniqueness across dates is not
// promised.
func (r *Registry) Create(ctx context.Context, label string) (Session, error) {
	sessions, err := r.load(ctx)
	if err != nil {
		return Session{}, err
	}
	code, err := r.newCode(sessions)
	if err != nil {
		return Session{}, err
	}
	now := r.Now()
	sess := Session{
		Code:      code,
		Label:     label,
		ForDate:   now.Format(DateLayout),
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
		Active:    true,
	}
	sessions[code] = &sess
	if err := r.save(ctx, sessions); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Find returns the session stored under code, or nil when absent.
func (r *Registry) Find(ctx context.Context, code string) (*Session, error) {
	sessions, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return sessions[code], nil
}

// Current returns the active session for the given date, or nil. The admin
// surface shows at most one.
func (r *Registry) Current(ctx context.Context, date string) (*Session, error) {
	sessions, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.Active && s.ForDate == date {
			return s, nil
		}
	}
	return nil, nil
}

// Active lists all active sessions.
func (r *Registry) Active(ctx context.Context) ([]*Session, error) {
	sessions, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, s := range sessions {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

// End marks a session inactive and stamps EndedAt. Ending an unknown code
// reports ErrSessionNotFound; ending twice is a no-op.
func (r *Registry) End(ctx context.Context, code string) error {
	sessions, err := r.load(ctx)
	if err != nil {
		return err
	}
	sess, ok := sessions[code]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Active {
		now := r.Now()
		sess.Active = false
		sess.EndedAt = &now
	}
	return r.save(ctx, sessions)
}

// PurgeExpired drops sessions whose hard expiry has passed and returns how
// many were removed.
func (r *Registry) PurgeExpired(ctx context.Context) (int, error) {
	sessions, err := r.load(ctx)
	if err != nil {
		return 0, err
	}
	now := r.Now()
	removed := 0
	for code, s := range sessions {
		if now.After(s.ExpiresAt) {
			delete(sessions, code)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, r.save(ctx, sessions)
}
