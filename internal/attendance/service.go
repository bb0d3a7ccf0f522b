// Package attendance coordinates the session gate, the ledger, and the sync
// queue for one check-in or check-out attempt.
package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"rollcall/internal/ledger"
	"rollcall/internal/metrics"
	"rollcall/internal/qrpayload"
	"rollcall/internal/queue"
	"rollcall/internal/remote"
	"rollcall/internal/rotation"
	"rollcall/internal/session"
)

// ErrInvalidInput means the student id or code failed basic shape checks;
// the caller should re-prompt.
var ErrInvalidInput = errors.New("invalid student id or code")

// Result is the outcome of an accepted attempt.
type Result struct {
	Session session.Session
	Record  ledger.Record
}

// Service runs the full submission pipeline. The queue is optional; without
// it attempts are local-only.
type Service struct {
	gate   *session.Gate
	ledger *ledger.Ledger
	q      queue.Queue
}

// NewService wires a service. q may be nil.
func NewService(gate *session.Gate, led *ledger.Ledger, q queue.Queue) *Service {
	return &Service{gate: gate, ledger: led, q: q}
}

func validStudentID(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z') {
			return false
		}
	}
	return true
}

// CheckIn validates the submitted code and records arrival.
func (s *Service) CheckIn(ctx context.Context, studentID, rawCode string) (Result, error) {
	sess, err := s.authorize(ctx, studentID, rawCode, rotation.CheckInTolerance)
	if err != nil {
		return Result{}, err
	}
	rec, err := s.ledger.CheckIn(ctx, sess.ForDate, sess.Code, studentID)
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues(Reason(err)).Inc()
		return Result{Session: *sess, Record: rec}, err
	}
	metrics.CheckinsTotal.Inc()
	s.publish(ctx, "checkin", remote.Event{
		Action:      "checkin",
		SessionCode: sess.Code,
		Date:        sess.ForDate,
		StudentID:   studentID,
		Timestamp:   *rec.CheckIn,
	})
	return Result{Session: *sess, Record: rec}, nil
}

// CheckOut validates the submitted code under the stricter check-out window
// and records departure.
func (s *Service) CheckOut(ctx context.Context, studentID, rawCode string) (Result, error) {
	sess, err := s.authorize(ctx, studentID, rawCode, rotation.CheckOutTolerance)
	if err != nil {
		return Result{}, err
	}
	return s.checkOut(ctx, sess, studentID, false)
}

// ManualCheckOut is the admin-forced variant: no code gate, no dwell gate.
func (s *Service) ManualCheckOut(ctx context.Context, sess *session.Session, studentID string) (Result, error) {
	if !validStudentID(studentID) {
		metrics.RejectionsTotal.WithLabelValues("invalid_input").Inc()
		return Result{}, ErrInvalidInput
	}
	return s.checkOut(ctx, sess, studentID, true)
}

func (s *Service) authorize(ctx context.Context, studentID, rawCode string, tol rotation.Tolerance) (*session.Session, error) {
	if !validStudentID(studentID) || rawCode == "" {
		metrics.RejectionsTotal.WithLabelValues("invalid_input").Inc()
		return nil, ErrInvalidInput
	}
	scan, err := qrpayload.Parse(rawCode)
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues("invalid_input").Inc()
		return nil, ErrInvalidInput
	}
	sess, err := s.gate.Authorize(ctx, scan.Combined(), tol)
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues(Reason(err)).Inc()
		return nil, err
	}
	return sess, nil
}

func (s *Service) checkOut(ctx context.Context, sess *session.Session, studentID string, manual bool) (Result, error) {
	rec, err := s.ledger.CheckOut(ctx, sess.ForDate, sess.Code, studentID, manual)
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues(Reason(err)).Inc()
		return Result{Session: *sess, Record: rec}, err
	}
	kind := "self"
	if manual {
		kind = "manual"
	}
	metrics.CheckoutsTotal.WithLabelValues(kind).Inc()
	s.publish(ctx, "checkout", remote.Event{
		Action:      "checkout",
		SessionCode: sess.Code,
		Date:        sess.ForDate,
		StudentID:   studentID,
		Timestamp:   *rec.CheckOut,
		Manual:      manual,
	})
	return Result{Session: *sess, Record: rec}, nil
}

// publish hands the mutation to the sync queue. Remote sync is best effort;
// a publish failure is logged and the local write stands.
func (s *Service) publish(ctx context.Context, msgType string, evt remote.Event) {
	if s.q == nil {
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("sync event encode failed: %v", err)
		return
	}
	if err := s.q.Publish(ctx, queue.Message{Type: msgType, Body: body}); err != nil {
		log.Printf("sync queue publish failed: %v", err)
		metrics.SyncTotal.WithLabelValues("enqueue_failed").Inc()
	}
}

// Reason maps a gate or ledger error to the stable string used in API
// responses and metric labels.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, session.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, session.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, session.ErrWrongDate):
		return "wrong_date"
	case errors.Is(err, session.ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, ledger.ErrAlreadyCheckedIn):
		return "already_checked_in"
	case errors.Is(err, ledger.ErrNotCheckedInYet):
		return "not_checked_in"
	case errors.Is(err, ledger.ErrAlreadyCheckedOut):
		return "already_checked_out"
	case errors.Is(err, ledger.ErrDwellTimeNotMet):
		return "dwell_time_not_met"
	default:
		return "internal"
	}
}
