package routes

import (
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/httpx"
	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/webhook"
)

// publicForm is what respondents see: no webhook or storage settings.
type publicForm struct {
	PublicID    string           `json:"public_id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Fields      []model.FieldDef `json:"fields"`
}

func PublicGetForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := activeForm(app, w, r)
		if !ok {
			return
		}

		render.JSON(w, r, publicForm{
			PublicID:    form.PublicID,
			Name:        form.Name,
			Description: form.Description,
			Fields:      form.Fields,
		})
	}
}

// PublicSubmitForm accepts a JSON object or a form-encoded body. Field
// errors answer 422 with every problem found.
func PublicSubmitForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := activeForm(app, w, r)
		if !ok {
			return
		}

		raw, ok := readSubmission(w, r)
		if !ok {
			return
		}

		res, err := app.Validator.Validate(r.Context(), form, raw)
		if err != nil {
			httpx.LogError(w, r, "validate.submission.files", err)
			return
		}
		if !res.OK() {
			httpx.LogError(w, r, "validate.submission", res.Err())
			return
		}

		sub, err := app.InsertSubmission(r.Context(), form.ID, res.Values)
		if err != nil {
			httpx.LogError(w, r, "db.insert_submission", err)
			return
		}
		app.Notifier.Dispatch(form, webhook.EventSubmit, sub)

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id":         sub.ID,
			"created_at": sub.CreatedAt.Format(time.RFC3339Nano),
		})
	}
}

func activeForm(app app.App, w http.ResponseWriter, r *http.Request) (*model.Form, bool) {
	form, err := app.GetFormByPublicID(r.Context(), chi.URLParam(r, "publicID"))
	if err != nil {
		httpx.LogError(w, r, "db.get_form_by_public_id", err)
		return nil, false
	}
	if !form.Active() {
		httpx.LogStatus(w, http.StatusForbidden, log.DebugLevel, "public.form.inactive")
		return nil, false
	}
	return form, true
}

func readSubmission(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	mediaType := ""
	if ct := r.Header.Get("content-type"); ct != "" {
		var err error
		mediaType, _, err = mime.ParseMediaType(ct)
		if err != nil {
			httpx.LogStatus(w, http.StatusUnsupportedMediaType, log.DebugLevel, "request.content_type")
			return nil, false
		}
	}

	switch mediaType {
	case "", "application/json":
		raw := map[string]any{}
		if !decodeBody(w, r, &raw) {
			return nil, false
		}
		return raw, true

	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var err error
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(maxBodyBytes)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpx.LogStatus(w, http.StatusRequestEntityTooLarge, log.DebugLevel, "request.parse_form.too_large")
				return nil, false
			}
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.parse_form", "malformed form body: %v", err)
			return nil, false
		}
		raw := make(map[string]any, len(r.PostForm))
		for k, v := range r.PostForm {
			raw[k] = v
		}
		return raw, true
	}

	httpx.LogStatus(w, http.StatusUnsupportedMediaType, log.DebugLevel, "request.content_type")
	return nil, false
}
