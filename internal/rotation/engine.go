package rotation

import (
	"strconv"
	"time"
)

// Alphabet is the fixed output character set for rotating codes.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Tolerance names the slot window accepted for a given operation.
// Check-in is generous because students may scan a code that is about to
// rotate or already rotated while they walked up; check-out never accepts
// forward slots so a stale screenshot cannot prove continued presence.
type Tolerance int

const (
	CheckInTolerance Tolerance = iota
	CheckOutTolerance
)

func (t Tolerance) offsets() []int64 {
	if t == CheckOutTolerance {
		return []int64{-1, 0}
	}
	return []int64{-1, 0, 1}
}

// Engine derives and validates time-windowed codes from a session secret.
// It is stateless; all methods are pure functions of their inputs.
type Engine struct {
	SlotDuration time.Duration
	CodeLength   int
}

// New creates an engine, falling back to the default 2-minute slot and
// 6-character codes when given non-positive values.
func New(slotDuration time.Duration, codeLength int) *Engine {
	if slotDuration <= 0 {
		slotDuration = 2 * time.Minute
	}
	if codeLength <= 0 {
		codeLength = 6
	}
	return &Engine{SlotDuration: slotDuration, CodeLength: codeLength}
}

// DeriveCode maps (secret, slot) to a code of exactly length characters
// drawn from Alphabet. The fold is a 32-bit signed hash: the truncation on
// every step is what makes the result identical across platforms.
func DeriveCode(secret string, slot int64, length int) string {
	combined := secret + "|" + strconv.FormatInt(slot, 10)
	var h int32
	for i := 0; i < len(combined); i++ {
		h = (h << 5) - h + int32(combined[i])
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = Alphabet[v%int64(len(Alphabet))]
		v /= int64(len(Alphabet))
	}
	return string(out)
}

// SlotAt returns the epoch-aligned slot index covering now. All sessions
// sharing a clock rotate in lockstep, so a display can compute the next
// rotation boundary without consulting any session state.
func SlotAt(now time.Time, slotDuration time.Duration) int64 {
	return now.UnixMilli() / slotDuration.Milliseconds()
}

// CurrentSlot returns the engine's slot index for now.
func (e *Engine) CurrentSlot(now time.Time) int64 {
	return SlotAt(now, e.SlotDuration)
}

// NextRotation returns the instant the current slot ends.
func (e *Engine) NextRotation(now time.Time) time.Time {
	next := (e.CurrentSlot(now) + 1) * e.SlotDuration.Milliseconds()
	return time.UnixMilli(next)
}

// DisplayCode returns the code an admin surface should show at now.
func (e *Engine) DisplayCode(secret string, now time.Time) string {
	return DeriveCode(secret, e.CurrentSlot(now), e.CodeLength)
}

// Validate reports whether provided matches the code derived at any slot in
// the tolerance window around now. It never errors; a miss is just false.
func (e *Engine) Validate(secret, provided string, now time.Time, tol Tolerance) bool {
	if secret == "" || len(provided) != e.CodeLength {
		return false
	}
	cur := e.CurrentSlot(now)
	for _, off := range tol.offsets() {
		if provided == DeriveCode(secret, cur+off, e.CodeLength) {
			return true
		}
	}
	return false
}
