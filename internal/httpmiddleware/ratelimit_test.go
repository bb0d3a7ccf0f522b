package httpmiddleware

import "testing"

func TestLimiterExhaustsAndRefuses(t *testing.T) {
	l := NewLimiter(3, 3)
	for i := 0; i < 3; i++ {
		if !l.allow("1.2.3.4") {
			t.Fatalf("request %d refused under capacity", i)
		}
	}
	if l.allow("1.2.3.4") {
		t.Error("request over capacity allowed")
	}
	// Other clients are unaffected.
	if !l.allow("5.6.7.8") {
		t.Error("fresh client refused")
	}
}
