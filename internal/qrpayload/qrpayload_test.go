package qrpayload

import (
	"encoding/base64"
	"testing"
)

func TestBuildCanonical(t *testing.T) {
	got, err := Build("https://class.example/checkin", "XJ9K2P", "AB12CD")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://class.example/checkin?r=AB12CD&s=XJ9K2P"
	if got != want {
		t.Errorf("Build = %q, want %q", got, want)
	}
}

func TestBuildWithCredential(t *testing.T) {
	got, err := BuildWithCredential("https://class.example/checkin", "XJ9K2P", "AB12CD", "ghp_x")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://class.example/checkin?r=AB12CD&s=XJ9K2P&sync=1&token=ghp_x"
	if got != want {
		t.Errorf("BuildWithCredential = %q, want %q", got, want)
	}
	// Payloads with an embedded credential must still parse as scans.
	scan, err := Parse(got)
	if err != nil || scan.SessionCode != "XJ9K2P" || scan.Rotation != "AB12CD" {
		t.Errorf("Parse = %+v, %v", scan, err)
	}
}

func TestParseEncodings(t *testing.T) {
	env := base64.RawURLEncoding.EncodeToString([]byte(
		`{"v":1,"code":"XJ9K2P","date":"2026-03-09","rotation":"AB12CD","slot":14000000,"course":"CS101"}`))

	tests := []struct {
		name string
		in   string
		want Scan
	}{
		{"canonical", "https://class.example/?s=XJ9K2P&r=AB12CD", Scan{"XJ9K2P", "AB12CD"}},
		{"canonical no rotation", "https://class.example/?s=XJ9K2P", Scan{"XJ9K2P", ""}},
		{"legacy query", "https://class.example/index.html?session=XJ9K2P&rotation=AB12CD&timestamp=14000000", Scan{"XJ9K2P", "AB12CD"}},
		{"base64 envelope", "https://class.example/?p=" + env, Scan{"XJ9K2P", "AB12CD"}},
		{"bare dash form", "XJ9K2P-AB12CD", Scan{"XJ9K2P", "AB12CD"}},
		{"bare code", "XJ9K2P", Scan{"XJ9K2P", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "https://class.example/?x=1", "https://class.example/?p=!!!"} {
		if _, err := Parse(in); err != ErrUnrecognized {
			t.Errorf("Parse(%q) = %v, want ErrUnrecognized", in, err)
		}
	}
}

func TestCombined(t *testing.T) {
	if got := (Scan{"XJ9K2P", "AB12CD"}).Combined(); got != "XJ9K2P-AB12CD" {
		t.Errorf("Combined = %q", got)
	}
	if got := (Scan{SessionCode: "XJ9K2P"}).Combined(); got != "XJ9K2P" {
		t.Errorf("Combined = %q", got)
	}
}
