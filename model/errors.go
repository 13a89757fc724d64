package model

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindSchemaInvalid           Kind = "SCHEMA_INVALID"
	KindValidationFailed        Kind = "VALIDATION_FAILED"
	KindFormNotFound            Kind = "FORM_NOT_FOUND"
	KindSubmissionNotFound      Kind = "SUBMISSION_NOT_FOUND"
	KindFileNotFound            Kind = "FILE_NOT_FOUND"
	KindInvalidFilter           Kind = "INVALID_FILTER"
	KindStorageUnavailable      Kind = "STORAGE_UNAVAILABLE"
	KindConcurrentWriteConflict Kind = "CONCURRENT_WRITE_CONFLICT"
	KindVersionConflict         Kind = "VERSION_CONFLICT"
	KindDataIntegrity           Kind = "DATA_INTEGRITY"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrSchemaInvalid           = &Error{Kind: KindSchemaInvalid}
	ErrValidationFailed        = &Error{Kind: KindValidationFailed}
	ErrFormNotFound            = &Error{Kind: KindFormNotFound}
	ErrSubmissionNotFound      = &Error{Kind: KindSubmissionNotFound}
	ErrFileNotFound            = &Error{Kind: KindFileNotFound}
	ErrInvalidFilter           = &Error{Kind: KindInvalidFilter}
	ErrStorageUnavailable      = &Error{Kind: KindStorageUnavailable}
	ErrConcurrentWriteConflict = &Error{Kind: KindConcurrentWriteConflict}
	ErrVersionConflict         = &Error{Kind: KindVersionConflict}
	ErrDataIntegrity           = &Error{Kind: KindDataIntegrity}
)

// Error is the error type returned across package boundaries.
// Op is a dotted code naming the failing operation ("db.insert_submission").
type Error struct {
	Kind   Kind
	Op     string
	Msg    string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldErrorKind classifies a single field-level validation problem.
type FieldErrorKind string

const (
	MissingRequired FieldErrorKind = "MISSING_REQUIRED"
	InvalidType     FieldErrorKind = "INVALID_TYPE"
	NotInteger      FieldErrorKind = "NOT_INTEGER"
	OutOfRange      FieldErrorKind = "OUT_OF_RANGE"
	TooLong         FieldErrorKind = "TOO_LONG"
	InvalidFormat   FieldErrorKind = "INVALID_FORMAT"
	NotAllowed      FieldErrorKind = "NOT_ALLOWED"
	InvalidFileID   FieldErrorKind = "INVALID_FILE_ID"
	FileNotFound    FieldErrorKind = "FILE_NOT_FOUND"
	FileTooLarge    FieldErrorKind = "FILE_TOO_LARGE"
)

// FieldError attributes a problem to one field. Index is the offending
// array position, or -1 for the field as a whole.
type FieldError struct {
	Field   string         `json:"field"`
	Index   int            `json:"index"`
	Kind    FieldErrorKind `json:"kind"`
	Message string         `json:"message"`
}

func (fe FieldError) String() string {
	if fe.Index >= 0 {
		return fmt.Sprintf("%s[%d]: %s: %s", fe.Field, fe.Index, fe.Kind, fe.Message)
	}
	return fmt.Sprintf("%s: %s: %s", fe.Field, fe.Kind, fe.Message)
}
