package auth

import (
	"testing"
	"time"
)

func TestIssueParseRoundTrip(t *testing.T) {
	token, exp, err := Issue("instructor", "admin", "rollcall", "secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !exp.After(time.Now()) {
		t.Errorf("expiry %v not in the future", exp)
	}

	claims, err := Parse(token, "secret", "rollcall")
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "instructor" || claims.Role != "admin" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	token, _, err := Issue("instructor", "admin", "rollcall", "secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Parse(token, "wrong-key", "rollcall"); err == nil {
		t.Error("token accepted with wrong key")
	}
	if _, err := Parse(token, "secret", "other-issuer"); err == nil {
		t.Error("token accepted with wrong issuer")
	}
	if _, err := Parse("not-a-token", "secret", "rollcall"); err == nil {
		t.Error("garbage accepted")
	}

	expired, _, err := Issue("instructor", "admin", "rollcall", "secret", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(expired, "secret", "rollcall"); err == nil {
		t.Error("expired token accepted")
	}
}
