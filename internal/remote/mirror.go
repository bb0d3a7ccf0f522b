package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event is one ledger mutation to mirror.
type Event struct {
	Action      string    `json:"action"` // "checkin" or "checkout"
	SessionCode string    `json:"sessionCode"`
	Date        string    `json:"date"`
	StudentID   string    `json:"studentId"`
	Timestamp   time.Time `json:"timestamp"`
	Manual      bool      `json:"manual,omitempty"`
}

// studentEntry is the per-student shape inside a mirrored file.
type studentEntry struct {
	CheckIn        *time.Time `json:"checkIn"`
	CheckOut       *time.Time `json:"checkOut"`
	ManualCheckout bool       `json:"manualCheckout,omitempty"`
}

// sessionFile is the remote file shape, one per (session, date).
type sessionFile struct {
	SessionCode string                   `json:"sessionCode"`
	Date        string                   `json:"date"`
	Students    map[string]*studentEntry `json:"students"`
}

// Mirror applies ledger events to per-session files with optimistic
// concurrency. Multiple devices write the same files, so every put carries
// the version token of the read it was based on and conflicts re-read and
// replay the merge.
type Mirror struct {
	client     *Client
	dir        string
	maxRetries int
}

// NewMirror creates a mirror writing under dir in the client's repository.
func NewMirror(client *Client, dir string) *Mirror {
	if dir == "" {
		dir = "attendance-data"
	}
	return &Mirror{client: client, dir: dir, maxRetries: 3}
}

func (m *Mirror) filePath(evt Event) string {
	return fmt.Sprintf("%s/%s_%s.json", m.dir, evt.SessionCode, evt.Date)
}

// Apply merges one event into its remote file, retrying on version
// conflicts. The merge is idempotent: replaying an event writes the same
// student entry again.
func (m *Mirror) Apply(ctx context.Context, evt Event) error {
	path := m.filePath(evt)
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		raw, sha, found, err := m.client.GetFile(ctx, path)
		if err != nil {
			return err
		}
		file := sessionFile{
			SessionCode: evt.SessionCode,
			Date:        evt.Date,
			Students:    make(map[string]*studentEntry),
		}
		if found {
			if err := json.Unmarshal(raw, &file); err != nil {
				return fmt.Errorf("mirror %s: decode: %w", path, err)
			}
			if file.Students == nil {
				file.Students = make(map[string]*studentEntry)
			}
		}

		entry := file.Students[evt.StudentID]
		if entry == nil {
			entry = &studentEntry{}
			file.Students[evt.StudentID] = entry
		}
		ts := evt.Timestamp
		switch evt.Action {
		case "checkin":
			entry.CheckIn = &ts
			entry.CheckOut = nil
			entry.ManualCheckout = false
		case "checkout":
			entry.CheckOut = &ts
			entry.ManualCheckout = evt.Manual
		default:
			return fmt.Errorf("mirror: unknown action %q", evt.Action)
		}

		content, err := json.MarshalIndent(file, "", "  ")
		if err != nil {
			return err
		}
		message := fmt.Sprintf("%s: %s at %s", evt.Action, evt.StudentID, evt.Timestamp.Format(time.RFC3339))
		if _, err := m.client.PutFile(ctx, path, content, message, sha); err != nil {
			if errors.Is(err, ErrConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("mirror %s: retries exhausted: %w", path, lastErr)
}
