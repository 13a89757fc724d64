package model

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func floatp(n float64) *float64 { return &n }

func TestDefineAccumulatesProblems(t *testing.T) {
	_, err := Define([]FieldDef{
		{Name: "", Kind: FieldString},
		{Name: "9lives", Kind: FieldString},
		{Name: "dup", Kind: FieldString},
		{Name: "dup", Kind: FieldNumber},
		{Name: "kind", Kind: "blob"},
		{Name: "list", Kind: FieldArray, ItemKind: "object"},
		{Name: "color", Kind: FieldEnum, Enum: []string{" ", ""}},
		{Name: "range", Kind: FieldNumber, Min: floatp(5), Max: floatp(1)},
		{Name: "text", Kind: FieldString, MaxLength: intp(-1), Format: "phone"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaInvalid))
	assert.Equal(t, KindSchemaInvalid, KindOf(err))

	msg := err.Error()
	for _, want := range []string{
		"field 1: name is required",
		"field 2: name \"9lives\"",
		"field 4: duplicate name \"dup\"",
		"unknown kind \"blob\"",
		"array item kind \"object\"",
		"enum needs at least one allowed value",
		"min 5 is greater than max 1",
		"max_length must not be negative",
		"unknown string format \"phone\"",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestDefineRejectsEmptyList(t *testing.T) {
	_, err := Define(nil)
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestDefineNormalizes(t *testing.T) {
	defs, err := Define([]FieldDef{
		{Name: " color ", Label: " Color ", Kind: FieldEnum, Enum: []string{"red", " red", "", "blue"}, Format: "email"},
		{Name: "age", Kind: FieldInteger, Enum: []string{"x"}, ItemKind: ItemString},
		{Name: "files", Kind: FieldArray, ItemKind: ItemFile},
	})
	require.NoError(t, err)

	assert.Equal(t, "color", defs[0].Name)
	assert.Equal(t, "Color", defs[0].Label)
	assert.Equal(t, []string{"red", "blue"}, defs[0].Enum)
	assert.Empty(t, defs[0].Format)
	assert.Nil(t, defs[1].Enum)
	assert.Empty(t, defs[1].ItemKind)
	assert.True(t, defs[2].IsFile())
	assert.False(t, defs[2].IsText())
}

func TestNewForm(t *testing.T) {
	form, err := NewForm("  Signup ", []FieldDef{
		{Name: "name", Kind: FieldString},
		{Name: "cv", Kind: FieldString, Format: FormatBinary},
	})
	require.NoError(t, err)
	assert.Equal(t, "Signup", form.Name)
	assert.Equal(t, StatusInactive, form.Status)
	assert.False(t, form.Active())
	assert.Equal(t, []string{"name", "cv"}, form.FieldNames())

	f, ok := form.Field("cv")
	require.True(t, ok)
	assert.True(t, f.IsFile())
	_, ok = form.Field("nope")
	assert.False(t, ok)

	_, err = NewForm(" ", []FieldDef{{Name: "a", Kind: FieldString}})
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindStorageUnavailable, "db.insert_form", cause)

	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrFormNotFound)
	assert.Equal(t, "db.insert_form: STORAGE_UNAVAILABLE: disk full", err.Error())
	assert.Equal(t, Kind(""), KindOf(cause))
}

func TestStamperIsStrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Stamper{Clock: func() time.Time { return frozen }}

	var mu sync.Mutex
	var stamps []time.Time
	ids := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ts, id, err := s.Stamp()
				assert.NoError(t, err)
				mu.Lock()
				stamps = append(stamps, ts)
				ids[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 400)
	seen := map[time.Time]bool{}
	for _, ts := range stamps {
		assert.False(t, seen[ts], "duplicate stamp %v", ts)
		seen[ts] = true
		assert.False(t, ts.Before(frozen))
	}
}

func TestStamperFollowsClock(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600))
	s := &Stamper{Clock: func() time.Time { return now }}

	ts, id, err := s.Stamp()
	require.NoError(t, err)
	assert.True(t, ts.Equal(now))
	assert.Equal(t, time.UTC, ts.Location())
	assert.True(t, IsFileID(id))

	now = now.Add(-time.Hour)
	ts2, _, err := s.Stamp()
	require.NoError(t, err)
	assert.True(t, ts2.After(ts))
}

func TestIDs(t *testing.T) {
	id, err := NewID()
	require.NoError(t, err)
	assert.True(t, IsFileID(id))
	assert.False(t, IsFileID("not-a-file-id"))
	assert.False(t, IsFileID(strings.Repeat("a", 36)))

	p1, err := NewPublicID()
	require.NoError(t, err)
	p2, err := NewPublicID()
	require.NoError(t, err)
	assert.Len(t, p1, 16)
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, strings.ToLower(p1), p1)
}
