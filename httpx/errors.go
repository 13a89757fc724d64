package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
)

type ErrorResponse struct {
	Error   model.Kind         `json:"error"`
	Message string             `json:"message"`
	Fields  []model.FieldError `json:"fields,omitempty"`
}

// Will log an error code at the given level, and send
// an HTTP response with status and default text
func LogStatus(w http.ResponseWriter, status int, level log.Level, code string) {
	log.Log(level, code)
	http.Error(w, http.StatusText(status), status)
}

// Will log an error code and message at the given level,
// and send an HTTP response with the given status and formatted message
func LogStatusMsg(w http.ResponseWriter, status int, level log.Level, code string, msg string, args ...any) {
	errMsg := fmt.Sprintf(msg, args...)
	log.Log(level, code+":", errMsg)
	http.Error(w, errMsg, status)
}

// StatusOf maps an error kind onto an HTTP status.
func StatusOf(kind model.Kind) int {
	switch kind {
	case model.KindSchemaInvalid, model.KindInvalidFilter:
		return http.StatusBadRequest
	case model.KindValidationFailed:
		return http.StatusUnprocessableEntity
	case model.KindFormNotFound, model.KindSubmissionNotFound, model.KindFileNotFound:
		return http.StatusNotFound
	case model.KindVersionConflict:
		return http.StatusConflict
	case model.KindStorageUnavailable, model.KindConcurrentWriteConflict:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Will log err under code, and send a JSON error body with the status
// matching its kind. Server-side failures get a generic message.
func LogError(w http.ResponseWriter, r *http.Request, code string, err error) {
	kind := model.KindOf(err)
	status := StatusOf(kind)

	body := ErrorResponse{Error: kind, Message: err.Error()}
	if status >= http.StatusInternalServerError {
		log.Errorf("%s: %s", code, err)
		body.Message = http.StatusText(status)
		if kind == "" {
			body.Error = "INTERNAL"
		}
	} else {
		log.Debugf("%s: %s", code, err)
	}
	var e *model.Error
	if errors.As(err, &e) {
		body.Fields = e.Fields
	}

	render.Status(r, status)
	render.JSON(w, r, body)
}
