package routes

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/export"
	"github.com/mbolis/quick-forms/httpx"
	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/query"
	"github.com/mbolis/quick-forms/storage"
	"github.com/mbolis/quick-forms/webhook"
)

type submissionPage struct {
	Submissions []model.Submission `json:"submissions"`
	NextCursor  string             `json:"next_cursor,omitempty"`
	Total       int                `json:"total"`
}

// ListSubmissions browses a form's submissions one page at a time. The
// cursor for the following page is also sent as X-Next-Cursor.
func ListSubmissions(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := app.GetForm(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogError(w, r, "db.get_form", err)
			return
		}

		q, err := query.Build(form, r.URL.Query())
		if err != nil {
			httpx.LogError(w, r, "request.query", err)
			return
		}

		subs, more, err := app.QuerySubmissions(r.Context(), form.ID, q)
		if err != nil {
			httpx.LogError(w, r, "db.get_submissions", err)
			return
		}
		total, err := app.CountSubmissions(r.Context(), form.ID, q)
		if err != nil {
			httpx.LogError(w, r, "db.count_submissions", err)
			return
		}

		page := submissionPage{Submissions: subs, Total: total}
		if more {
			page.NextCursor = query.NextCursor(&subs[len(subs)-1]).Encode()
			w.Header().Set("X-Next-Cursor", page.NextCursor)
		}
		w.Header().Set("X-Total-Count", strconv.Itoa(total))

		render.JSON(w, r, page)
	}
}

// ExportSubmissions streams every submission matching the browse filters
// as CSV or TSV. Failures after the first byte can only be logged.
func ExportSubmissions(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		format, err := export.ParseFormat(params.Get("format"))
		if err != nil {
			httpx.LogError(w, r, "request.export.format", err)
			return
		}

		form, err := app.GetForm(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogError(w, r, "db.get_form", err)
			return
		}

		params.Del(query.ParamLimit)
		params.Del(query.ParamCursor)
		q, err := query.Build(form, params)
		if err != nil {
			httpx.LogError(w, r, "request.query", err)
			return
		}
		q.Limit = query.MaxLimit

		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, form.PublicID, format))

		it := storage.Scan(r.Context(), app.Store, form.ID, q)
		err = export.Write(r.Context(), w, export.NewRows(form, export.FromIterator(it)), format.Delimiter())
		if err != nil {
			log.WithError(err).WithField("form", form.ID).Warn("export.write: aborted")
		}
	}
}

func GetSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := app.GetSubmission(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogError(w, r, "db.get_submission", err)
			return
		}

		render.JSON(w, r, sub)
	}
}

func DeleteSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := app.GetSubmission(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogError(w, r, "db.get_submission", err)
			return
		}
		form, err := app.GetForm(r.Context(), sub.FormID)
		if err != nil {
			httpx.LogError(w, r, "db.get_form", err)
			return
		}

		err = app.DeleteSubmission(r.Context(), sub.ID)
		if err != nil {
			httpx.LogError(w, r, "db.delete_submission", err)
			return
		}
		app.Notifier.Dispatch(form, webhook.EventDelete, sub)

		w.WriteHeader(http.StatusNoContent)
	}
}
