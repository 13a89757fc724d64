package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/httpx"
	"github.com/mbolis/quick-forms/model"
)

func CreateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := model.Form{}
		if !decodeBody(w, r, &form) {
			return
		}

		err := app.CreateForm(r.Context(), &form)
		if err != nil {
			httpx.LogError(w, r, "db.insert_form", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, form)
	}
}

func ListForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		forms, err := app.ListForms(r.Context())
		if err != nil {
			httpx.LogError(w, r, "db.get_forms", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"forms": forms,
		})
	}
}

func GetForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := app.GetForm(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogError(w, r, "db.get_form", err)
			return
		}

		render.JSON(w, r, form)
	}
}

// UpdateForm replaces the definition of a form. The body must carry the
// version it was read at; a stale version answers 409.
func UpdateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := model.Form{}
		if !decodeBody(w, r, &form) {
			return
		}
		form.ID = chi.URLParam(r, "id")

		err := app.UpdateForm(r.Context(), &form)
		if err != nil {
			httpx.LogError(w, r, "db.update_form", err)
			return
		}

		render.JSON(w, r, form)
	}
}

func DeleteForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := app.DeleteForm(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogError(w, r, "db.delete_form", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func PutFile(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta := model.FileMeta{}
		if !decodeBody(w, r, &meta) {
			return
		}

		err := app.PutFile(r.Context(), &meta)
		if err != nil {
			httpx.LogError(w, r, "db.insert_file", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, meta)
	}
}

func GetFile(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta, err := app.GetFile(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogError(w, r, "db.get_file", err)
			return
		}

		render.JSON(w, r, meta)
	}
}
