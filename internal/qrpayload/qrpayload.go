// Package qrpayload builds and parses the URL payload handed to the barcode
// sink. New payloads always use the short `s`/`r` query form; parsing also
// accepts the two historical encodings so old printouts keep scanning.
package qrpayload

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

// ErrUnrecognized means the input carried none of the known encodings.
var ErrUnrecognized = errors.New("unrecognized qr payload")

// Version of the structured `p` encoding this build understands.
const Version = 1

// Scan is a decoded student-side payload.
type Scan struct {
	SessionCode string
	Rotation    string
}

// Combined renders the scan in the dash form the session gate parses.
func (s Scan) Combined() string {
	if s.Rotation == "" {
		return s.SessionCode
	}
	return s.SessionCode + "-" + s.Rotation
}

// envelope is the legacy base64-JSON `p` parameter shape.
type envelope struct {
	V         int    `json:"v"`
	Code      string `json:"code"`
	Date      string `json:"date"`
	ExpiresAt int64  `json:"expiresAt"`
	Rotation  string `json:"rotation"`
	Slot      int64  `json:"slot"`
	Course    string `json:"course"`
}

// Build produces the canonical check-in URL for a session and its current
// rotating code.
func Build(baseURL, sessionCode, rotationCode string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("s", sessionCode)
	q.Set("r", rotationCode)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// BuildWithCredential additionally embeds a remote-sync token in the
// payload. Anyone who scans the code can read the token; this stays behind
// an explicit opt-in and is off by default.
func BuildWithCredential(baseURL, sessionCode, rotationCode, syncToken string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("s", sessionCode)
	q.Set("r", rotationCode)
	q.Set("sync", "1")
	q.Set("token", syncToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Parse decodes an incoming scan. Accepted encodings, tried in order:
// canonical `s`/`r`, legacy `session`/`rotation`, and the base64-JSON `p`
// envelope. Bare text that is not a URL is passed through as a typed code.
func Parse(raw string) (Scan, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Scan{}, ErrUnrecognized
	}
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		// Manually entered codes arrive without URL dressing.
		return scanFromText(raw)
	}
	q := u.Query()
	if s := q.Get("s"); s != "" {
		return Scan{SessionCode: s, Rotation: q.Get("r")}, nil
	}
	if s := q.Get("session"); s != "" {
		return Scan{SessionCode: s, Rotation: q.Get("rotation")}, nil
	}
	if p := q.Get("p"); p != "" {
		return parseEnvelope(p)
	}
	return Scan{}, ErrUnrecognized
}

func scanFromText(raw string) (Scan, error) {
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		return Scan{SessionCode: raw[:i], Rotation: raw[i+1:]}, nil
	}
	return Scan{SessionCode: raw}, nil
}

func parseEnvelope(p string) (Scan, error) {
	data, err := base64.RawURLEncoding.DecodeString(p)
	if err != nil {
		// Older payloads used standard padded base64.
		data, err = base64.StdEncoding.DecodeString(p)
		if err != nil {
			return Scan{}, ErrUnrecognized
		}
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Code == "" {
		return Scan{}, ErrUnrecognized
	}
	return Scan{SessionCode: env.Code, Rotation: env.Rotation}, nil
}
