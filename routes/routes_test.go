package routes

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/config"
	"github.com/mbolis/quick-forms/httpx"
	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/storage/docstore"
	"github.com/mbolis/quick-forms/webhook"
)

type testServer struct {
	t   *testing.T
	app app.App
	h   http.Handler
}

func newServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	store, err := docstore.Open(filepath.Join(t.TempDir(), "forms.json"))
	require.NoError(t, err)

	a := app.New(cfg, store)
	t.Cleanup(func() { _ = a.Close() })
	return &testServer{t: t, app: a, h: Wire(a)}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) json(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *testServer) form(path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var signup = map[string]any{
	"name":   "Signup",
	"status": "active",
	"fields": []map[string]any{
		{"name": "name", "kind": "string", "required": true, "max_length": 20},
		{"name": "age", "kind": "integer", "min": 0},
		{"name": "subscribed", "kind": "boolean"},
	},
}

func (s *testServer) createForm(body any) model.Form {
	s.t.Helper()
	rec := s.json(http.MethodPost, "/api/admin/forms", body)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.Form](s.t, rec)
}

func TestFormAdministration(t *testing.T) {
	s := newServer(t, config.Config{})

	form := s.createForm(signup)
	assert.NotEmpty(t, form.ID)
	assert.NotEmpty(t, form.PublicID)
	assert.Equal(t, 1, form.Version)
	assert.Len(t, form.Fields, 3)

	rec := s.json(http.MethodGet, "/api/admin/forms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]model.Form](t, rec)
	require.Len(t, list["forms"], 1)
	assert.Equal(t, form.ID, list["forms"][0].ID)

	form.Description = "join us"
	rec = s.json(http.MethodPut, "/api/admin/forms/"+form.ID, form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[model.Form](t, rec)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "join us", updated.Description)

	// still at version 1
	rec = s.json(http.MethodPut, "/api/admin/forms/"+form.ID, form)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.KindVersionConflict, decode[httpx.ErrorResponse](t, rec).Error)

	rec = s.json(http.MethodPost, "/api/admin/forms", map[string]any{
		"name":   "Broken",
		"fields": []map[string]any{{"name": "1st", "kind": "string"}, {"name": "x", "kind": "blob"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.KindSchemaInvalid, decode[httpx.ErrorResponse](t, rec).Error)

	rec = s.json(http.MethodPost, "/api/admin/forms", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.json(http.MethodGet, "/api/admin/forms/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.KindFormNotFound, decode[httpx.ErrorResponse](t, rec).Error)

	rec = s.json(http.MethodDelete, "/api/admin/forms/"+form.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.json(http.MethodDelete, "/api/admin/forms/"+form.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicIntake(t *testing.T) {
	s := newServer(t, config.Config{})
	form := s.createForm(signup)
	path := "/api/f/" + form.PublicID

	rec := s.json(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "webhook")
	public := decode[map[string]any](t, rec)
	assert.Equal(t, "Signup", public["name"])

	rec = s.json(http.MethodPost, path, map[string]any{"name": "Ann", "age": 30, "extra": "dropped"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]string](t, rec)

	sub, err := s.app.GetSubmission(context.Background(), created["id"])
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ann", "age": float64(30)}, sub.Values)

	rec = s.json(http.MethodPost, path, map[string]any{"age": 1.5, "subscribed": "maybe"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[httpx.ErrorResponse](t, rec)
	assert.Equal(t, model.KindValidationFailed, body.Error)
	require.Len(t, body.Fields, 3)
	assert.Equal(t, model.MissingRequired, body.Fields[0].Kind)
	assert.Equal(t, model.NotInteger, body.Fields[1].Kind)
	assert.Equal(t, model.InvalidType, body.Fields[2].Kind)

	rec = s.form(path, url.Values{"name": {"Bob"}, "age": {"41"}, "subscribed": {"on"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created = decode[map[string]string](t, rec)
	sub, err = s.app.GetSubmission(context.Background(), created["id"])
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Bob", "age": float64(41), "subscribed": true}, sub.Values)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("name=x"))
	req.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusUnsupportedMediaType, s.do(req).Code)

	rec = s.json(http.MethodGet, "/api/f/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInactiveFormRefusesSubmissions(t *testing.T) {
	s := newServer(t, config.Config{})
	body := map[string]any{"name": "Closed", "fields": signup["fields"]}
	form := s.createForm(body)
	assert.Equal(t, model.StatusInactive, form.Status)

	rec := s.json(http.MethodPost, "/api/f/"+form.PublicID, map[string]any{"name": "Ann"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.json(http.MethodGet, "/api/f/"+form.PublicID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	n, err := s.app.CountSubmissions(context.Background(), form.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBrowseAndExport(t *testing.T) {
	s := newServer(t, config.Config{})
	form := s.createForm(signup)
	for _, v := range []map[string]any{
		{"name": "Ann", "age": 30},
		{"name": "Bob, Jr.", "subscribed": true},
		{"name": "Cid", "age": 7},
	} {
		rec := s.json(http.MethodPost, "/api/f/"+form.PublicID, v)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	base := "/api/admin/forms/" + form.ID

	rec := s.json(http.MethodGet, base+"/submissions?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "3", rec.Header().Get("X-Total-Count"))
	cursor := rec.Header().Get("X-Next-Cursor")
	require.NotEmpty(t, cursor)
	page := decode[submissionPage](t, rec)
	require.Len(t, page.Submissions, 2)
	assert.Equal(t, "Cid", page.Submissions[0].Values["name"])
	assert.Equal(t, cursor, page.NextCursor)

	rec = s.json(http.MethodGet, base+"/submissions?limit=2&cursor="+url.QueryEscape(cursor), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Next-Cursor"))
	page = decode[submissionPage](t, rec)
	require.Len(t, page.Submissions, 1)
	assert.Equal(t, "Ann", page.Submissions[0].Values["name"])

	rec = s.json(http.MethodGet, base+"/submissions?f.age.min=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Total-Count"))

	rec = s.json(http.MethodGet, base+"/submissions?f.nope=1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.KindInvalidFilter, decode[httpx.ErrorResponse](t, rec).Error)

	rec = s.json(http.MethodGet, base+"/submissions?cursor=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.json(http.MethodGet, base+"/export?sort=created_at&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), form.PublicID+".csv")
	assert.Equal(t, "name,age,subscribed\nAnn,30,\n\"Bob, Jr.\",,true\nCid,7,\n", rec.Body.String())

	rec = s.json(http.MethodGet, base+"/export?format=tsv&f.name=cid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "name\tage\tsubscribed\nCid\t7\t\n", rec.Body.String())

	rec = s.json(http.MethodGet, base+"/export?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhooks(t *testing.T) {
	var mu sync.Mutex
	var events []webhook.Payload
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhook.Payload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	}))
	defer hook.Close()

	s := newServer(t, config.Config{})
	body := map[string]any{
		"name":              "Hooked",
		"status":            "active",
		"fields":            signup["fields"],
		"webhook_url":       hook.URL,
		"webhook_on_delete": true,
	}
	form := s.createForm(body)

	rec := s.json(http.MethodPost, "/api/f/"+form.PublicID, map[string]any{"name": "Ann"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[map[string]string](t, rec)["id"]

	rec = s.json(http.MethodDelete, "/api/admin/submissions/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.json(http.MethodDelete, "/api/admin/submissions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.app.Notifier.Wait()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, webhook.EventDelete, events[0].Event)
	assert.Equal(t, id, events[0].SubmissionID)
	assert.Equal(t, "Ann", events[0].Data["name"])

	rec = s.json(http.MethodPost, "/api/admin/forms", map[string]any{
		"name":        "Bad hook",
		"fields":      signup["fields"],
		"webhook_url": "ftp://example.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFileCeiling(t *testing.T) {
	s := newServer(t, config.Config{UploadMaxBytes: 100})
	form := s.createForm(map[string]any{
		"name":   "Uploads",
		"status": "active",
		"fields": []map[string]any{{"name": "cv", "kind": "string", "format": "binary", "required": true}},
	})

	rec := s.json(http.MethodPost, "/api/admin/files", map[string]any{"form_id": form.ID, "original_name": "small.pdf", "size": 100})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	small := decode[model.FileMeta](t, rec)
	rec = s.json(http.MethodPost, "/api/admin/files", map[string]any{"form_id": form.ID, "original_name": "big.pdf", "size": 101})
	require.Equal(t, http.StatusCreated, rec.Code)
	big := decode[model.FileMeta](t, rec)

	rec = s.json(http.MethodGet, "/api/admin/files/"+small.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "small.pdf", decode[model.FileMeta](t, rec).OriginalName)

	path := "/api/f/" + form.PublicID
	rec = s.json(http.MethodPost, path, map[string]any{"cv": small.ID})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.json(http.MethodPost, path, map[string]any{"cv": big.ID})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, model.FileTooLarge, decode[httpx.ErrorResponse](t, rec).Fields[0].Kind)

	rec = s.json(http.MethodPost, path, map[string]any{"cv": "not-an-id"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, model.InvalidFileID, decode[httpx.ErrorResponse](t, rec).Fields[0].Kind)

	rec = s.json(http.MethodPost, "/api/admin/files", map[string]any{"form_id": "missing", "size": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminTokenRequired(t *testing.T) {
	s := newServer(t, config.Config{AdminToken: "s3cret"})

	rec := s.json(http.MethodGet, "/api/admin/forms", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/forms", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, s.do(req).Code)

	rec = s.json(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
