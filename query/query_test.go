package query

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/quick-forms/model"
)

func testForm(t *testing.T) *model.Form {
	t.Helper()
	form, err := model.NewForm("people", []model.FieldDef{
		{Name: "name", Kind: model.FieldString},
		{Name: "age", Kind: model.FieldInteger},
		{Name: "member", Kind: model.FieldBoolean},
		{Name: "color", Kind: model.FieldEnum, Enum: []string{"red", "green", "blue"}},
		{Name: "tags", Kind: model.FieldArray, ItemKind: model.ItemString},
		{Name: "scores", Kind: model.FieldArray, ItemKind: model.ItemNumber},
		{Name: "photo", Kind: model.FieldString, Format: model.FormatBinary},
	})
	require.NoError(t, err)
	return form
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sub(id string, minutes int, values map[string]any) *model.Submission {
	return &model.Submission{ID: id, FormID: "f", CreatedAt: base.Add(time.Duration(minutes) * time.Minute), Values: values}
}

func build(t *testing.T, form *model.Form, params string) *Query {
	t.Helper()
	v, err := url.ParseQuery(params)
	require.NoError(t, err)
	q, err := Build(form, v)
	require.NoError(t, err)
	return q
}

func TestBuildDefaults(t *testing.T) {
	q := build(t, testForm(t), "")
	assert.Equal(t, DefaultLimit, q.PageSize())
	assert.False(t, q.Asc)
	assert.Nil(t, q.Cursor)
	assert.Empty(t, q.Predicates)
	assert.True(t, q.Match(sub("a", 0, nil)))
}

func TestBuildRejectsInvalid(t *testing.T) {
	form := testForm(t)
	for _, params := range []string{
		"f.nope=1",
		"f.name.min=3",
		"f.age=3",
		"f.member.eq=true",
		"f.member=perhaps",
		"f.color=purple",
		"f.age.min=abc",
		"f.age.max=NaN",
		"f.age.max=Inf",
		"f.age.min=-Inf",
		"f.scores.min=nan",
		"f.photo=x",
		"f.name=a&f.name=b",
		"sort=name",
		"limit=0",
		"limit=501",
		"limit=ten",
		"cursor=@@@",
		"from=yesterday",
	} {
		v, err := url.ParseQuery(params)
		require.NoError(t, err)
		_, err = Build(form, v)
		assert.True(t, errors.Is(err, model.ErrInvalidFilter), "params %q: %v", params, err)
	}
}

func TestExactMatchKeepsSpaces(t *testing.T) {
	form := testForm(t)
	padded := sub("a", 0, map[string]any{"name": " Ann ", "color": "red"})

	cases := map[string]bool{
		"f.name.eq=%20Ann%20": true,
		"f.name.eq=Ann":       false,
		"f.name=%20ann%20":    true,
		"f.color=%20red":      true,
	}
	for params, want := range cases {
		v, err := url.ParseQuery(params)
		require.NoError(t, err)
		q, err := Build(form, v)
		require.NoError(t, err, params)
		assert.Equal(t, want, q.Match(padded), params)
	}
}

func TestMatchFieldPredicates(t *testing.T) {
	form := testForm(t)
	ann := sub("a", 0, map[string]any{
		"name": "Ann Smith", "age": 30.0, "member": true, "color": "red",
		"tags": []any{"alpha", "beta"}, "scores": []any{1.5, 9.0},
	})
	bo := sub("b", 1, map[string]any{"name": "Bo", "age": 17.0, "member": false, "color": "blue"})

	cases := []struct {
		params string
		ann    bool
		bo     bool
	}{
		{"f.name=smith", true, false},
		{"f.name.eq=Bo", false, true},
		{"f.name.eq=bo", false, false},
		{"f.age.min=18", true, false},
		{"f.age.max=18", false, true},
		{"f.age.min=17&f.age.max=30", true, true},
		{"f.member=on", true, false},
		{"f.member=no", false, true},
		{"f.color=red&f.color=blue", true, true},
		{"f.color=blue", false, true},
		{"f.tags=ALP", true, false},
		{"f.tags.eq=beta", true, false},
		{"f.scores.min=5", true, false},
		{"q=ann", true, false},
		{"q=blu", false, true},
		{"q=bet", true, false},
		{"f.name=", true, true},
	}
	for _, c := range cases {
		q := build(t, form, c.params)
		assert.Equal(t, c.ann, q.Match(ann), "%s (ann)", c.params)
		assert.Equal(t, c.bo, q.Match(bo), "%s (bo)", c.params)
	}
}

func TestMatchDateRange(t *testing.T) {
	form := testForm(t)
	early := sub("a", -24*60, nil)
	now := sub("b", 0, nil)

	q := build(t, form, "from=2024-05-01")
	assert.False(t, q.Match(early))
	assert.True(t, q.Match(now))

	q = build(t, form, "to=2024-04-30")
	assert.True(t, q.Match(early))
	assert.False(t, q.Match(now))

	q = build(t, form, "from=2024-05-01T11:59:00Z&to=2024-05-01T12:00:00Z")
	assert.True(t, q.Match(now))
}

func TestOrderingAndCursor(t *testing.T) {
	a := sub("a", 0, nil)
	b := sub("b", 0, nil)
	c := sub("c", 1, nil)

	desc := &Query{}
	assert.True(t, desc.Less(c, b))
	assert.True(t, desc.Less(b, a), "same timestamp tie-breaks on id")

	asc := &Query{Asc: true}
	assert.True(t, asc.Less(a, b))
	assert.True(t, asc.Less(b, c))

	q := desc.WithCursor(NextCursor(b))
	assert.False(t, q.After(c))
	assert.False(t, q.After(b))
	assert.True(t, q.After(a))
	assert.Nil(t, desc.Cursor, "WithCursor copies")
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: base.Add(123456789 * time.Nanosecond), ID: "018f2b7e-1c3a-7d2e-9a4b-0123456789ab"}

	got, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(c.CreatedAt))
	assert.Equal(t, c.ID, got.ID)

	q := build(t, testForm(t), url.Values{ParamCursor: {c.Encode()}}.Encode())
	require.NotNil(t, q.Cursor)
	assert.Equal(t, c.ID, q.Cursor.ID)

	for _, bad := range []string{"", "bm9waXBl", "MjAyNHxh"} {
		_, err := DecodeCursor(bad)
		assert.Error(t, err, bad)
	}
}
