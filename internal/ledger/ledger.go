// Package ledger keeps per-student check-in/check-out records for each
// (date, session) bucket.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/kv"
)

// Ledger-state conflicts. These are informational signals, not system
// failures; callers turn them into user-facing messages.
var (
	ErrAlreadyCheckedIn  = errors.New("already checked in")
	ErrNotCheckedInYet   = errors.New("not checked in yet")
	ErrAlreadyCheckedOut = errors.New("already checked out")
	ErrDwellTimeNotMet   = errors.New("minimum stay time not met")
)

// Record is one student's attendance for a (date, session) bucket. CheckIn
// set with CheckOut nil means currently present.
type Record struct {
	EventID        string     `json:"eventId"`
	StudentID      string     `json:"studentId"`
	CheckIn        *time.Time `json:"checkIn"`
	CheckOut       *time.Time `json:"checkOut"`
	ManualCheckout bool       `json:"manualCheckout"`
}

// Present reports whether the record denotes a student currently in the room.
func (r Record) Present() bool {
	return r.CheckIn != nil && r.CheckOut == nil
}

// bucket is the stored shape for one date: sessionCode -> studentID -> record.
type bucket map[string]map[string]*Record

// Ledger applies the check-in/check-out state machine on top of the kv
// collaborator.
type Ledger struct {
	store    kv.Store
	minDwell time.Duration

	// Now is overridable in tests.
	Now func() time.Time
}

// New creates a ledger. minDwell guards self-service check-out; non-positive
// means the 5-minute default.
func New(store kv.Store, minDwell time.Duration) *Ledger {
	if minDwell <= 0 {
		minDwell = 5 * time.Minute
	}
	return &Ledger{store: store, minDwell: minDwell, Now: time.Now}
}

func bucketKey(date string) string { return "attendance:" + date }

func (l *Ledger) load(ctx context.Context, date string) (bucket, error) {
	raw, err := l.store.Get(ctx, bucketKey(date))
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", date, err)
	}
	b := make(bucket)
	if raw != nil {
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode ledger %s: %w", date, err)
		}
	}
	return b, nil
}

func (l *Ledger) save(ctx context.Context, date string, b bucket) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode ledger %s: %w", date, err)
	}
	return l.store.Set(ctx, bucketKey(date), raw)
}

// CheckIn records arrival. Checking in while present is reported as
// ErrAlreadyCheckedIn and leaves the original timestamp untouched. Checking
// in after a check-out re-opens the record: students may leave and return.
func (l *Ledger) CheckIn(ctx context.Context, date, sessionCode, studentID string) (Record, error) {
	b, err := l.load(ctx, date)
	if err != nil {
		return Record{}, err
	}
	if b[sessionCode] == nil {
		b[sessionCode] = make(map[string]*Record)
	}
	now := l.Now()
	rec := b[sessionCode][studentID]
	if rec != nil && rec.Present() {
		return *rec, ErrAlreadyCheckedIn
	}
	rec = &Record{
		EventID:   uuid.NewString(),
		StudentID: studentID,
		CheckIn:   &now,
	}
	b[sessionCode][studentID] = rec
	if err := l.save(ctx, date, b); err != nil {
		return Record{}, err
	}
	return *rec, nil
}

// CheckOut records departure. Self-service check-out enforces the minimum
// dwell; manual (admin-forced) check-out bypasses it.
func (l *Ledger) CheckOut(ctx context.Context, date, sessionCode, studentID string, manual bool) (Record, error) {
	b, err := l.load(ctx, date)
	if err != nil {
		return Record{}, err
	}
	rec := b[sessionCode][studentID]
	if rec == nil || rec.CheckIn == nil {
		return Record{}, ErrNotCheckedInYet
	}
	if rec.CheckOut != nil {
		return *rec, ErrAlreadyCheckedOut
	}
	now := l.Now()
	if !manual && now.Sub(*rec.CheckIn) < l.minDwell {
		return *rec, ErrDwellTimeNotMet
	}
	rec.CheckOut = &now
	rec.ManualCheckout = manual
	if err := l.save(ctx, date, b); err != nil {
		return Record{}, err
	}
	return *rec, nil
}

// Records returns every record for a (date, session) bucket.
func (l *Ledger) Records(ctx context.Context, date, sessionCode string) ([]Record, error) {
	b, err := l.load(ctx, date)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range b[sessionCode] {
		out = append(out, *rec)
	}
	return out, nil
}

// Present returns the records of students currently checked in.
func (l *Ledger) Present(ctx context.Context, date, sessionCode string) ([]Record, error) {
	recs, err := l.Records(ctx, date, sessionCode)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range recs {
		if rec.Present() {
			out = append(out, rec)
		}
	}
	return out, nil
}

// PurgeDate drops a whole date bucket. Records are never deleted
// individually; retention works in date-sized sweeps.
func (l *Ledger) PurgeDate(ctx context.Context, date string) error {
	return l.store.Delete(ctx, bucketKey(date))
}
