// Package storetest holds the behavior every storage.Store must share. Each
// backend runs the same suite from its own tests.
package storetest

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/query"
	"github.com/mbolis/quick-forms/storage"
)

// Opener returns a fresh, empty store whose timestamps come from clock.
type Opener func(t *testing.T, clock func() time.Time) storage.Store

// Clock is a fake clock advancing one minute per reading.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(*testing.T, storage.Store)
	}{
		{"FormLifecycle", testFormLifecycle},
		{"InvalidFormNotStored", testInvalidFormNotStored},
		{"UpdateVersionConflict", testUpdateVersionConflict},
		{"SubmissionRoundTrip", testSubmissionRoundTrip},
		{"SubmissionUnknownForm", testSubmissionUnknownForm},
		{"SubmissionMustFitForm", testSubmissionMustFitForm},
		{"DeleteSubmission", testDeleteSubmission},
		{"DeleteFormCascades", testDeleteFormCascades},
		{"Files", testFiles},
		{"PaginationComplete", testPaginationComplete},
		{"PaginationAscending", testPaginationAscending},
		{"PaginationConcurrentInserts", testPaginationConcurrentInserts},
		{"Filters", testFilters},
		{"DateRange", testDateRange},
		{"ScanIterator", testScanIterator},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := open(t, NewClock().Now)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func intp(n int) *int { return &n }

func floatp(n float64) *float64 { return &n }

func newForm(t *testing.T, name string) *model.Form {
	t.Helper()
	form, err := model.NewForm(name, []model.FieldDef{
		{Name: "name", Kind: model.FieldString, Required: true, MaxLength: intp(50)},
		{Name: "age", Kind: model.FieldInteger, Min: floatp(0), Max: floatp(150)},
		{Name: "color", Kind: model.FieldEnum, Enum: []string{"red", "green", "blue"}},
		{Name: "subscribed", Kind: model.FieldBoolean},
		{Name: "tags", Kind: model.FieldArray, ItemKind: model.ItemString},
	})
	require.NoError(t, err)
	return form
}

func createForm(t *testing.T, s storage.Store, name string) *model.Form {
	t.Helper()
	form := newForm(t, name)
	require.NoError(t, s.CreateForm(context.Background(), form))
	return form
}

func insert(t *testing.T, s storage.Store, formID string, values map[string]any) *model.Submission {
	t.Helper()
	sub, err := s.InsertSubmission(context.Background(), formID, values)
	require.NoError(t, err)
	return sub
}

func buildQuery(t *testing.T, form *model.Form, params string) *query.Query {
	t.Helper()
	values, err := url.ParseQuery(params)
	require.NoError(t, err)
	q, err := query.Build(form, values)
	require.NoError(t, err)
	return q
}

func assertKind(t *testing.T, kind model.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, model.KindOf(err), "error: %v", err)
}

func ids(subs []model.Submission) []string {
	out := make([]string, len(subs))
	for i := range subs {
		out[i] = subs[i].ID
	}
	return out
}

func testFormLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := createForm(t, s, "Signup")
	second := createForm(t, s, "Feedback")

	assert.NotEmpty(t, first.ID)
	assert.NotEmpty(t, first.PublicID)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, model.StatusInactive, first.Status)
	assert.False(t, first.CreatedAt.IsZero())
	assert.True(t, first.CreatedAt.Equal(first.UpdatedAt))

	got, err := s.GetForm(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Name, got.Name)
	assert.Equal(t, first.PublicID, got.PublicID)
	assert.Equal(t, first.Fields, got.Fields)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

	got, err = s.GetFormByPublicID(ctx, second.PublicID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	forms, err := s.ListForms(ctx)
	require.NoError(t, err)
	require.Len(t, forms, 2)
	assert.Equal(t, first.ID, forms[0].ID)
	assert.Equal(t, second.ID, forms[1].ID)

	got.Status = model.StatusActive
	got.Description = "tell us"
	got.Fields = append(got.Fields, model.FieldDef{Name: "comment", Kind: model.FieldString})
	require.NoError(t, s.UpdateForm(ctx, got))
	assert.Equal(t, 2, got.Version)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	reloaded, err := s.GetForm(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Version)
	assert.Equal(t, model.StatusActive, reloaded.Status)
	assert.Equal(t, "tell us", reloaded.Description)
	assert.Len(t, reloaded.Fields, 6)
	assert.Equal(t, second.PublicID, reloaded.PublicID)

	_, err = s.GetForm(ctx, "missing")
	assertKind(t, model.KindFormNotFound, err)
	_, err = s.GetFormByPublicID(ctx, "missing")
	assertKind(t, model.KindFormNotFound, err)

	ghost := newForm(t, "Ghost")
	ghost.ID, ghost.Version = "missing", 1
	assertKind(t, model.KindFormNotFound, s.UpdateForm(ctx, ghost))
}

func testInvalidFormNotStored(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := &model.Form{Name: "Broken", Fields: []model.FieldDef{
		{Name: "a", Kind: model.FieldString},
		{Name: "a", Kind: model.FieldNumber},
	}}
	err := s.CreateForm(ctx, form)
	assertKind(t, model.KindSchemaInvalid, err)

	forms, err := s.ListForms(ctx)
	require.NoError(t, err)
	assert.Empty(t, forms)

	valid := createForm(t, s, "Valid")
	valid.Fields = append(valid.Fields, model.FieldDef{Name: "bad name", Kind: model.FieldString})
	assertKind(t, model.KindSchemaInvalid, s.UpdateForm(ctx, valid))

	got, err := s.GetForm(ctx, valid.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Len(t, got.Fields, 5)
}

func testUpdateVersionConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := createForm(t, s, "Race")

	a, err := s.GetForm(ctx, form.ID)
	require.NoError(t, err)
	b, err := s.GetForm(ctx, form.ID)
	require.NoError(t, err)

	a.Name = "Race A"
	require.NoError(t, s.UpdateForm(ctx, a))

	b.Name = "Race B"
	assertKind(t, model.KindVersionConflict, s.UpdateForm(ctx, b))

	got, err := s.GetForm(ctx, form.ID)
	require.NoError(t, err)
	assert.Equal(t, "Race A", got.Name)
	assert.Equal(t, 2, got.Version)
}

func testSubmissionRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := createForm(t, s, "Signup")

	sub := insert(t, s, form.ID, map[string]any{
		"name":       "Ann",
		"age":        30,
		"subscribed": true,
		"tags":       []string{"a", "b"},
	})
	want := map[string]any{
		"name":       "Ann",
		"age":        float64(30),
		"subscribed": true,
		"tags":       []any{"a", "b"},
	}
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, form.ID, sub.FormID)
	assert.Equal(t, want, sub.Values)

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, form.ID, got.FormID)
	assert.True(t, sub.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want, got.Values)

	// callers may not alias stored state
	got.Values["name"] = "changed"
	again, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", again.Values["name"])

	_, err = s.GetSubmission(ctx, "missing")
	assertKind(t, model.KindSubmissionNotFound, err)
}

func testSubmissionMustFitForm(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := createForm(t, s, "Strict")

	for name, values := range map[string]map[string]any{
		"undeclared key": {"name": "Ann", "bogus": "x"},
		"nested object":  {"name": "Ann", "tags": map[string]any{"nested": 1}},
		"string as int":  {"name": 42},
		"fractional int": {"name": "Ann", "age": 1.5},
		"scalar list":    {"name": "Ann", "tags": "vip"},
		"wrong item":     {"name": "Ann", "tags": []any{"ok", true}},
		"flag as text":   {"name": "Ann", "subscribed": "yes"},
	} {
		_, err := s.InsertSubmission(ctx, form.ID, values)
		assertKind(t, model.KindDataIntegrity, err)
		assert.ErrorIs(t, err, model.ErrDataIntegrity, name)
	}

	n, err := s.CountSubmissions(ctx, form.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testSubmissionUnknownForm(t *testing.T, s storage.Store) {
	_, err := s.InsertSubmission(context.Background(), "missing", map[string]any{"name": "x"})
	assertKind(t, model.KindFormNotFound, err)

	_, _, err = s.QuerySubmissions(context.Background(), "missing", nil)
	assertKind(t, model.KindFormNotFound, err)
	_, err = s.CountSubmissions(context.Background(), "missing", nil)
	assertKind(t, model.KindFormNotFound, err)
}

func testDeleteSubmission(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := createForm(t, s, "Signup")
	keep := insert(t, s, form.ID, map[string]any{"name": "keep"})
	drop := insert(t, s, form.ID, map[string]any{"name": "drop"})

	require.NoError(t, s.DeleteSubmission(ctx, drop.ID))
	assertKind(t, model.KindSubmissionNotFound, s.DeleteSubmission(ctx, drop.ID))

	_, err := s.GetSubmission(ctx, drop.ID)
	assertKind(t, model.KindSubmissionNotFound, err)

	page, more, err := s.QuerySubmissions(ctx, form.ID, nil)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []string{keep.ID}, ids(page))
}

func testDeleteFormCascades(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doomed := createForm(t, s, "Doomed")
	other := createForm(t, s, "Other")

	sub := insert(t, s, doomed.ID, map[string]any{"name": "gone"})
	kept := insert(t, s, other.ID, map[string]any{"name": "kept"})
	file := &model.FileMeta{FormID: doomed.ID, OriginalName: "cv.pdf", ContentType: "application/pdf", Size: 10}
	require.NoError(t, s.PutFile(ctx, file))

	require.NoError(t, s.DeleteForm(ctx, doomed.ID))
	assertKind(t, model.KindFormNotFound, s.DeleteForm(ctx, doomed.ID))

	_, err := s.GetForm(ctx, doomed.ID)
	assertKind(t, model.KindFormNotFound, err)
	_, err = s.GetSubmission(ctx, sub.ID)
	assertKind(t, model.KindSubmissionNotFound, err)
	_, err = s.GetFile(ctx, file.ID)
	assertKind(t, model.KindFileNotFound, err)

	got, err := s.GetSubmission(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.FormID)
}

func testFiles(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := createForm(t, s, "Uploads")

	err := s.PutFile(ctx, &model.FileMeta{FormID: "missing", OriginalName: "a.txt", Size: 1})
	assertKind(t, model.KindFormNotFound, err)

	err = s.PutFile(ctx, &model.FileMeta{ID: "not-a-file-id", FormID: form.ID, Size: 1})
	assertKind(t, model.KindValidationFailed, err)

	meta := &model.FileMeta{FormID: form.ID, OriginalName: "a.txt", ContentType: "text/plain", Size: 12}
	require.NoError(t, s.PutFile(ctx, meta))
	assert.True(t, model.IsFileID(meta.ID))
	assert.False(t, meta.CreatedAt.IsZero())

	got, err := s.GetFile(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, meta.OriginalName, got.OriginalName)
	assert.Equal(t, meta.ContentType, got.ContentType)
	assert.Equal(t, meta.Size, got.Size)
	assert.True(t, meta.CreatedAt.Equal(got.CreatedAt))

	meta.Size = 99
	meta.OriginalName = "b.txt"
	require.NoError(t, s.PutFile(ctx, meta))
	got, err = s.GetFile(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.Size)
	assert.Equal(t, "b.txt", got.OriginalName)

	_, err = s.GetFile(ctx, "0190d3c8-0000-7000-8000-000000000000")
	assertKind(t, model.KindFileNotFound, err)
}

func testPaginationComplete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := createForm(t, s, "Paged")

	var want []string
	for i := 0; i < 7; i++ {
		sub := insert(t, s, form.ID, map[string]any{"name": "before"})
		want = append([]string{sub.ID}, want...)
	}

	q := buildQuery(t, form, "limit=3")
	var seen []string
	for pages := 0; ; pages++ {
		require.Less(t, pages, 10)
		page, more, err := s.QuerySubmissions(ctx, form.ID, q)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page), 3)
		seen = append(seen, ids(page)...)

		// newer rows sort before the cursor and must not disturb the walk
		insert(t, s, form.ID, map[string]any{"name": "during"})

		if !more {
			break
		}
		q = q.WithCursor(query.NextCursor(&page[len(page)-1]))
	}
	assert.Equal(t, want, seen)

	n, err := s.CountSubmissions(ctx, form.ID, buildQuery(t, form, "limit=3"))
	require.NoError(t, err)
	assert.Equal(t, 7+3, n)
}

func testPaginationAscending(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := createForm(t, s, "Paged")

	var want []string
	for i := 0; i < 5; i++ {
		want = append(want, insert(t, s, form.ID, map[string]any{"name": "x"}).ID)
	}

	q := buildQuery(t, form, "sort=created_at&limit=2")
	page, more, err := s.QuerySubmissions(ctx, form.ID, q)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, want[:2], ids(page))

	q = q.WithCursor(query.NextCursor(&page[1]))
	page, more, err = s.QuerySubmissions(ctx, form.ID, q)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, want[2:4], ids(page))

	later := insert(t, s, form.ID, map[string]any{"name": "x"})

	q = q.WithCursor(query.NextCursor(&page[1]))
	page, more, err = s.QuerySubmissions(ctx, form.ID, q)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []string{want[4], later.ID}, ids(page))
}

// Pages oldest first while writers insert. Every row must show up once the
// reader catches up, so none can commit behind an issued cursor.
func testPaginationConcurrentInserts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := createForm(t, s, "Busy")

	var (
		mu       sync.Mutex
		inserted []string
		wg       sync.WaitGroup
		done     = make(chan struct{})
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				sub, err := s.InsertSubmission(ctx, form.ID, map[string]any{"name": "x"})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				inserted = append(inserted, sub.ID)
				mu.Unlock()
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	seen := map[string]int{}
	var cur *query.Cursor
	for {
		finished := false
		select {
		case <-done:
			finished = true
		default:
		}

		q := buildQuery(t, form, "sort=created_at&limit=3")
		if cur != nil {
			q = q.WithCursor(cur)
		}
		page, more, err := s.QuerySubmissions(ctx, form.ID, q)
		require.NoError(t, err)
		for i := range page {
			seen[page[i].ID]++
		}
		if len(page) > 0 {
			cur = query.NextCursor(&page[len(page)-1])
		}
		if finished && !more {
			break
		}
	}

	require.Len(t, inserted, 40)
	for _, id := range inserted {
		assert.Equal(t, 1, seen[id], "submission %s", id)
	}
	assert.Len(t, seen, 40)
}

func testFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := createForm(t, s, "Filtered")
	other := createForm(t, s, "Other")

	ann := insert(t, s, form.ID, map[string]any{"name": "Ann Smith", "age": 31, "color": "red", "subscribed": true, "tags": []string{"vip"}})
	bob := insert(t, s, form.ID, map[string]any{"name": "Bob", "age": 17, "color": "blue", "subscribed": false})
	cid := insert(t, s, form.ID, map[string]any{"name": "Cid", "color": "green", "tags": []string{"smithy", "new"}})
	insert(t, s, other.ID, map[string]any{"name": "Ann Smith", "age": 31})

	cases := []struct {
		params string
		want   []string
	}{
		{"", []string{cid.ID, bob.ID, ann.ID}},
		{"q=SMITH", []string{cid.ID, ann.ID}},
		{"f.name=ann", []string{ann.ID}},
		{"f.name.eq=Bob", []string{bob.ID}},
		{"f.name.eq=bob", nil},
		{"f.age.min=18", []string{ann.ID}},
		{"f.age.max=31&f.age.min=17", []string{bob.ID, ann.ID}},
		{"f.color=red&f.color=green", []string{cid.ID, ann.ID}},
		{"f.subscribed=no", []string{bob.ID}},
		{"f.subscribed=on", []string{ann.ID}},
		{"f.tags=new", []string{cid.ID}},
		{"q=smith&f.age.min=1", []string{ann.ID}},
		{"sort=created_at&f.age.min=0", []string{ann.ID, bob.ID}},
	}
	for _, c := range cases {
		q := buildQuery(t, form, c.params)
		page, more, err := s.QuerySubmissions(ctx, form.ID, q)
		require.NoError(t, err, c.params)
		assert.False(t, more, c.params)
		if c.want == nil {
			assert.Empty(t, page, c.params)
		} else {
			assert.Equal(t, c.want, ids(page), c.params)
		}

		n, err := s.CountSubmissions(ctx, form.ID, q)
		require.NoError(t, err, c.params)
		assert.Equal(t, len(c.want), n, c.params)
	}
}

func testDateRange(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := createForm(t, s, "Dated")

	var subs []*model.Submission
	for i := 0; i < 5; i++ {
		subs = append(subs, insert(t, s, form.ID, map[string]any{"name": "x"}))
	}

	params := url.Values{}
	params.Set(query.ParamFrom, subs[1].CreatedAt.Format(time.RFC3339Nano))
	params.Set(query.ParamTo, subs[3].CreatedAt.Format(time.RFC3339Nano))
	q, err := query.Build(form, params)
	require.NoError(t, err)

	page, _, err := s.QuerySubmissions(ctx, form.ID, q)
	require.NoError(t, err)
	assert.Equal(t, []string{subs[3].ID, subs[2].ID, subs[1].ID}, ids(page))

	n, err := s.CountSubmissions(ctx, form.ID, q)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testScanIterator(t *testing.T, s storage.Store) {
	ctx := context.Background()
	form := createForm(t, s, "Scanned")

	var want []string
	for i := 0; i < 9; i++ {
		values := map[string]any{"name": "x", "age": i}
		sub := insert(t, s, form.ID, values)
		if i%2 == 0 {
			want = append(want, sub.ID)
		}
	}
	// even ages, oldest first
	q := buildQuery(t, form, "sort=created_at&limit=2&f.age.min=0")
	q.Predicates = append(q.Predicates, query.Predicate{
		Field:  model.FieldDef{Name: "age", Kind: model.FieldInteger},
		Op:     query.OpIn,
		Values: []any{float64(0), float64(2), float64(4), float64(6), float64(8)},
	})

	got, err := storage.Scan(ctx, s, form.ID, q).Collect()
	require.NoError(t, err)
	assert.Equal(t, want, ids(got))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	it := storage.Scan(cancelled, s, form.ID, q)
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), context.Canceled)
}
