package query

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/mbolis/quick-forms/model"
)

// Cursor is the (created_at, id) key of the last submission on a page.
// Both components are immutable, so inserts between page fetches never
// shift the window.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func NextCursor(s *model.Submission) *Cursor {
	return &Cursor{CreatedAt: s.CreatedAt, ID: s.ID}
}

func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return Cursor{}, invalid("cursor: malformed")
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return Cursor{}, invalid("cursor: malformed")
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Cursor{}, invalid("cursor: malformed")
	}
	return Cursor{CreatedAt: t.UTC(), ID: id}, nil
}
