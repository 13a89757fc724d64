package model

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stamper hands out (created_at, id) pairs that are strictly increasing in
// both components within a process, so ordering by (created_at, id) is
// insertion order.
type Stamper struct {
	Clock func() time.Time

	mu   sync.Mutex
	last time.Time
}

func (s *Stamper) Stamp() (time.Time, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	t := now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return time.Time{}, "", err
	}
	s.last = t
	return t, id.String(), nil
}

// Now returns the current time in UTC using the stamper clock.
func (s *Stamper) Now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// NewID returns a time-ordered uuid string.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var shortIDEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// NewPublicID returns a short random id used in share links.
func NewPublicID() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToLower(shortIDEncoding.EncodeToString(b)), nil
}

// IsFileID reports whether s has the shape of an id issued by the upload
// collaborator.
func IsFileID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
