package ledger

import (
	"context"
	"testing"
	"time"

	"rollcall/internal/kv"
)

const (
	testDate = "2026-03-09"
	testSess = "XJ9K2P"
)

func newTestLedger(t *testing.T, at time.Time) *Ledger {
	t.Helper()
	l := New(kv.NewMemory(), 5*time.Minute)
	l.Now = func() time.Time { return at }
	return l
}

func TestCheckInTransitions(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(t, t0)

	rec, err := l.CheckIn(ctx, testDate, testSess, "S100")
	if err != nil {
		t.Fatal(err)
	}
	if rec.CheckIn == nil || !rec.CheckIn.Equal(t0) {
		t.Errorf("CheckIn = %v, want %v", rec.CheckIn, t0)
	}
	if rec.CheckOut != nil {
		t.Errorf("CheckOut = %v, want nil", rec.CheckOut)
	}
	if rec.EventID == "" {
		t.Error("EventID empty")
	}

	// Duplicate check-in is a no-op signal; the timestamp is kept.
	l.Now = func() time.Time { return t0.Add(time.Minute) }
	dup, err := l.CheckIn(ctx, testDate, testSess, "S100")
	if err != ErrAlreadyCheckedIn {
		t.Fatalf("duplicate CheckIn error = %v, want ErrAlreadyCheckedIn", err)
	}
	if !dup.CheckIn.Equal(t0) {
		t.Errorf("duplicate CheckIn moved timestamp to %v", dup.CheckIn)
	}
}

func TestCheckOutTransitions(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	t.Run("not checked in", func(t *testing.T) {
		l := newTestLedger(t, t0)
		if _, err := l.CheckOut(ctx, testDate, testSess, "S100", false); err != ErrNotCheckedInYet {
			t.Errorf("CheckOut from Unknown = %v, want ErrNotCheckedInYet", err)
		}
	})

	t.Run("dwell not met", func(t *testing.T) {
		l := newTestLedger(t, t0)
		if _, err := l.CheckIn(ctx, testDate, testSess, "S100"); err != nil {
			t.Fatal(err)
		}
		l.Now = func() time.Time { return t0.Add(3 * time.Minute) }
		rec, err := l.CheckOut(ctx, testDate, testSess, "S100", false)
		if err != ErrDwellTimeNotMet {
			t.Fatalf("CheckOut = %v, want ErrDwellTimeNotMet", err)
		}
		if rec.CheckOut != nil {
			t.Errorf("rejected CheckOut still stamped: %v", rec.CheckOut)
		}
	})

	t.Run("manual bypasses dwell", func(t *testing.T) {
		l := newTestLedger(t, t0)
		if _, err := l.CheckIn(ctx, testDate, testSess, "S100"); err != nil {
			t.Fatal(err)
		}
		l.Now = func() time.Time { return t0.Add(time.Minute) }
		rec, err := l.CheckOut(ctx, testDate, testSess, "S100", true)
		if err != nil {
			t.Fatalf("manual CheckOut error = %v", err)
		}
		if rec.CheckOut == nil || !rec.ManualCheckout {
			t.Errorf("manual CheckOut record = %+v", rec)
		}
	})

	t.Run("self checkout after dwell", func(t *testing.T) {
		l := newTestLedger(t, t0)
		if _, err := l.CheckIn(ctx, testDate, testSess, "S100"); err != nil {
			t.Fatal(err)
		}
		out := t0.Add(6 * time.Minute)
		l.Now = func() time.Time { return out }
		rec, err := l.CheckOut(ctx, testDate, testSess, "S100", false)
		if err != nil {
			t.Fatal(err)
		}
		if rec.CheckOut == nil || !rec.CheckOut.Equal(out) {
			t.Errorf("CheckOut = %v, want %v", rec.CheckOut, out)
		}
		if rec.ManualCheckout {
			t.Error("self check-out flagged manual")
		}

		if _, err := l.CheckOut(ctx, testDate, testSess, "S100", false); err != ErrAlreadyCheckedOut {
			t.Errorf("second CheckOut = %v, want ErrAlreadyCheckedOut", err)
		}
	})
}

func TestReEntryAfterCheckOut(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(t, t0)

	if _, err := l.CheckIn(ctx, testDate, testSess, "S100"); err != nil {
		t.Fatal(err)
	}
	l.Now = func() time.Time { return t0.Add(10 * time.Minute) }
	if _, err := l.CheckOut(ctx, testDate, testSess, "S100", false); err != nil {
		t.Fatal(err)
	}

	// Leaving and returning re-opens the record.
	back := t0.Add(30 * time.Minute)
	l.Now = func() time.Time { return back }
	rec, err := l.CheckIn(ctx, testDate, testSess, "S100")
	if err != nil {
		t.Fatalf("re-entry CheckIn error = %v", err)
	}
	if rec.CheckIn == nil || !rec.CheckIn.Equal(back) {
		t.Errorf("re-entry CheckIn = %v, want %v", rec.CheckIn, back)
	}
	if rec.CheckOut != nil {
		t.Errorf("re-entry left CheckOut = %v", rec.CheckOut)
	}
}

func TestPresentAndPurge(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(t, t0)

	for _, id := range []string{"S100", "S101", "S102"} {
		if _, err := l.CheckIn(ctx, testDate, testSess, id); err != nil {
			t.Fatal(err)
		}
	}
	l.Now = func() time.Time { return t0.Add(10 * time.Minute) }
	if _, err := l.CheckOut(ctx, testDate, testSess, "S101", false); err != nil {
		t.Fatal(err)
	}

	present, err := l.Present(ctx, testDate, testSess)
	if err != nil {
		t.Fatal(err)
	}
	if len(present) != 2 {
		t.Errorf("present = %d, want 2", len(present))
	}
	all, _ := l.Records(ctx, testDate, testSess)
	if len(all) != 3 {
		t.Errorf("records = %d, want 3", len(all))
	}

	if err := l.PurgeDate(ctx, testDate); err != nil {
		t.Fatal(err)
	}
	if all, _ := l.Records(ctx, testDate, testSess); len(all) != 0 {
		t.Errorf("records after purge = %d, want 0", len(all))
	}
}
