package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type Form struct {
	ID              string     `json:"id"`
	PublicID        string     `json:"public_id"`
	Version         int        `json:"version"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Status          Status     `json:"status"`
	Fields          []FieldDef `json:"fields"`
	MaxUploadBytes  int64      `json:"max_upload_bytes,omitempty"`
	WebhookURL      string     `json:"webhook_url,omitempty"`
	WebhookOnSubmit bool       `json:"webhook_on_submit,omitempty"`
	WebhookOnDelete bool       `json:"webhook_on_delete,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewForm validates the field list and returns an inactive, unsaved form.
// Identity and timestamps are assigned by the store on creation.
func NewForm(name string, fields []FieldDef) (*Form, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Errorf(KindSchemaInvalid, "schema.define", "form name is required")
	}
	defs, err := Define(fields)
	if err != nil {
		return nil, err
	}
	return &Form{
		Name:   name,
		Status: StatusInactive,
		Fields: defs,
	}, nil
}

func (f *Form) Field(name string) (FieldDef, bool) {
	for _, fd := range f.Fields {
		if fd.Name == name {
			return fd, true
		}
	}
	return FieldDef{}, false
}

func (f *Form) FieldNames() []string {
	names := make([]string, len(f.Fields))
	for i, fd := range f.Fields {
		names[i] = fd.Name
	}
	return names
}

func (f *Form) Active() bool {
	return f.Status == StatusActive
}

// Submission is immutable once stored. Values holds normalized values keyed
// by field name: string, float64, bool, or []any of those.
type Submission struct {
	ID        string         `json:"id"`
	FormID    string         `json:"form_id"`
	CreatedAt time.Time      `json:"created_at"`
	Values    map[string]any `json:"values"`
}

// FileMeta describes an upload held by the upload collaborator. Only the id
// ever appears inside a submission.
type FileMeta struct {
	ID           string    `json:"id"`
	FormID       string    `json:"form_id"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}
