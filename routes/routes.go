package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/httpx"
	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/routes/middlewares"
)

// largest accepted request body outside of exports
const maxBodyBytes = 1 << 20

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.RequestID, middleware.Logger, middleware.Recoverer)

	root.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	root.Mount("/api", apiRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	api.Get("/f/{publicID}", PublicGetForm(app))
	api.Post("/f/{publicID}", PublicSubmitForm(app))

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.Admin(app.AdminToken))

		// CRUD form
		r.Post("/forms", CreateForm(app))
		r.Get("/forms", ListForms(app))
		r.Get("/forms/{id}", GetForm(app))
		r.Put("/forms/{id}", UpdateForm(app))
		r.Delete("/forms/{id}", DeleteForm(app))

		r.Get("/forms/{id}/submissions", ListSubmissions(app))
		r.Get("/forms/{id}/export", ExportSubmissions(app))
		r.Get("/submissions/{id}", GetSubmission(app))
		r.Delete("/submissions/{id}", DeleteSubmission(app))

		r.Post("/files", PutFile(app))
		r.Get("/files/{id}", GetFile(app))
	})

	return api
}

// decodeBody reads a JSON request body into v, answering 400 itself when
// the body is malformed or too large.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := render.DecodeJSON(r.Body, v)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.LogStatus(w, http.StatusRequestEntityTooLarge, log.DebugLevel, "request.parse_body.too_large")
			return false
		}
		httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body", "malformed JSON body: %v", err)
		return false
	}
	return true
}
