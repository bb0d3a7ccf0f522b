package session

import (
	"context"
	"testing"
	"time"

	"rollcall/internal/kv"
	"rollcall/internal/rotation"
)

func seedSession(t *testing.T, r *Registry, sess Session) {
	t.Helper()
	ctx := context.Background()
	sessions, err := r.load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sessions[sess.Code] = &sess
	if err := r.save(ctx, sessions); err != nil {
		t.Fatal(err)
	}
}

func newTestGate(t *testing.T) (*Gate, *Registry, *rotation.Engine) {
	t.Helper()
	r := NewRegistry(kv.NewMemory(), 8*time.Hour)
	r.Now = func() time.Time { return testNow }
	eng := rotation.New(2*time.Minute, 6)
	return NewGate(r, eng), r, eng
}

func TestParseCode(t *testing.T) {
	tests := []struct {
		in   string
		want ParsedCode
	}{
		{"XJ9K2P", ParsedCode{Base: "XJ9K2P"}},
		{"XJ9K2P-AB12CD", ParsedCode{Base: "XJ9K2P", Rotation: "AB12CD"}},
		{"  xj9k2p-ab12cd ", ParsedCode{Base: "XJ9K2P", Rotation: "AB12CD"}},
		{"A-B-C", ParsedCode{Base: "A", Rotation: "B-C"}},
		{"", ParsedCode{}},
	}
	for _, tt := range tests {
		if got := ParseCode(tt.in); got != tt.want {
			t.Errorf("ParseCode(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestGateOrdering(t *testing.T) {
	ctx := context.Background()
	gate, r, eng := newTestGate(t)

	slot := eng.CurrentSlot(testNow)
	rot := rotation.DeriveCode("XJ9K2P", slot, 6)

	tests := []struct {
		name    string
		sess    Session
		input   string
		wantErr error
	}{
		{
			name:    "unknown code",
			input:   "NOPE99-" + rot,
			wantErr: ErrSessionNotFound,
		},
		{
			name: "expired before wrong date",
			sess: Session{
				Code: "XJ9K2P", ForDate: "2026-03-08", Active: true,
				ExpiresAt: testNow.Add(-time.Minute),
			},
			input:   "XJ9K2P-" + rot,
			wantErr: ErrSessionExpired,
		},
		{
			name: "wrong date",
			sess: Session{
				Code: "XJ9K2P", ForDate: "2026-03-08", Active: true,
				ExpiresAt: testNow.Add(time.Hour),
			},
			input:   "XJ9K2P-" + rot,
			wantErr: ErrWrongDate,
		},
		{
			name: "stale rotation",
			sess: Session{
				Code: "XJ9K2P", ForDate: "2026-03-09", Active: true,
				ExpiresAt: testNow.Add(time.Hour),
			},
			input:   "XJ9K2P-" + rotation.DeriveCode("XJ9K2P", slot-3, 6),
			wantErr: ErrCodeExpired,
		},
		{
			name: "valid",
			sess: Session{
				Code: "XJ9K2P", ForDate: "2026-03-09", Active: true,
				ExpiresAt: testNow.Add(time.Hour),
			},
			input: "XJ9K2P-" + rot,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.sess.Code != "" {
				seedSession(t, r, tt.sess)
			}
			sess, err := gate.Authorize(ctx, tt.input, rotation.CheckInTolerance)
			if err != tt.wantErr {
				t.Fatalf("Authorize(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr == nil && (sess == nil || sess.Code != "XJ9K2P") {
				t.Errorf("Authorize returned %+v", sess)
			}
		})
	}
}

func TestGateInactiveSessionNotFound(t *testing.T) {
	ctx := context.Background()
	gate, r, _ := newTestGate(t)
	ended := testNow.Add(-time.Minute)
	seedSession(t, r, Session{
		Code: "XJ9K2P", ForDate: "2026-03-09", Active: false, EndedAt: &ended,
		ExpiresAt: testNow.Add(time.Hour),
	})
	if _, err := gate.Authorize(ctx, "XJ9K2P", rotation.CheckInTolerance); err != ErrSessionNotFound {
		t.Errorf("Authorize(ended session) = %v, want ErrSessionNotFound", err)
	}
}

func TestGateCodeOnlyRotationLookup(t *testing.T) {
	ctx := context.Background()
	gate, r, eng := newTestGate(t)
	seedSession(t, r, Session{
		Code: "XJ9K2P", ForDate: "2026-03-09", Active: true,
		ExpiresAt: testNow.Add(time.Hour),
	})

	// A bare rotating code implies its session.
	rot := rotation.DeriveCode("XJ9K2P", eng.CurrentSlot(testNow), 6)
	sess, err := gate.Authorize(ctx, rot, rotation.CheckInTolerance)
	if err != nil {
		t.Fatalf("Authorize(code-only) error = %v", err)
	}
	if sess.Code != "XJ9K2P" {
		t.Errorf("resolved session %q, want XJ9K2P", sess.Code)
	}

	// A stale bare rotating code resolves nothing.
	stale := rotation.DeriveCode("XJ9K2P", eng.CurrentSlot(testNow)-5, 6)
	if _, err := gate.Authorize(ctx, stale, rotation.CheckInTolerance); err != ErrSessionNotFound {
		t.Errorf("Authorize(stale code-only) = %v, want ErrSessionNotFound", err)
	}
}

func TestGateBaseCodeWithoutRotation(t *testing.T) {
	ctx := context.Background()
	gate, r, _ := newTestGate(t)
	seedSession(t, r, Session{
		Code: "XJ9K2P", ForDate: "2026-03-09", Active: true,
		ExpiresAt: testNow.Add(time.Hour),
	})

	// Manually typed base codes are accepted without a rotation suffix.
	sess, err := gate.Authorize(ctx, "XJ9K2P", rotation.CheckInTolerance)
	if err != nil || sess == nil {
		t.Fatalf("Authorize(base only) = %v, %v", sess, err)
	}
}
