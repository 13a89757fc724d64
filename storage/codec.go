package storage

import (
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mbolis/quick-forms/model"
)

// InitForm validates a form about to be created and fills in its identity
// and bookkeeping fields. Invalid forms are never stored.
func InitForm(form *model.Form, now time.Time) error {
	if err := CheckForm(form); err != nil {
		return err
	}
	id, err := model.NewID()
	if err != nil {
		return model.Wrap(model.KindStorageUnavailable, "storage.init_form.id", err)
	}
	publicID, err := model.NewPublicID()
	if err != nil {
		return model.Wrap(model.KindStorageUnavailable, "storage.init_form.public_id", err)
	}
	form.ID = id
	form.PublicID = publicID
	form.Version = 1
	form.CreatedAt = now
	form.UpdatedAt = now
	return nil
}

// CheckForm re-runs the schema checks on a form before it is written.
func CheckForm(form *model.Form) error {
	form.Name = strings.TrimSpace(form.Name)
	if form.Name == "" {
		return model.Errorf(model.KindSchemaInvalid, "schema.define", "form name is required")
	}
	defs, err := model.Define(form.Fields)
	if err != nil {
		return err
	}
	form.Fields = defs
	switch form.Status {
	case model.StatusActive, model.StatusInactive:
	case "":
		form.Status = model.StatusInactive
	default:
		return model.Errorf(model.KindSchemaInvalid, "schema.define", "unknown status %q", form.Status)
	}
	if form.MaxUploadBytes < 0 {
		return model.Errorf(model.KindSchemaInvalid, "schema.define", "max_upload_bytes must not be negative")
	}
	form.WebhookURL = strings.TrimSpace(form.WebhookURL)
	if form.WebhookURL != "" && !validWebhookURL(form.WebhookURL) {
		return model.Errorf(model.KindSchemaInvalid, "schema.define", "webhook_url must be an absolute http(s) URL")
	}
	return nil
}

func validWebhookURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func EncodeFields(fields []model.FieldDef) ([]byte, error) {
	return json.Marshal(fields)
}

func DecodeFields(data []byte) ([]model.FieldDef, error) {
	var fields []model.FieldDef
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, model.Wrap(model.KindDataIntegrity, "storage.decode_fields", err)
	}
	return fields, nil
}

func EncodeValues(values map[string]any) ([]byte, error) {
	if values == nil {
		values = map[string]any{}
	}
	return json.Marshal(values)
}

// DecodeValues restores a submission's values. Numbers come back as float64
// and lists as []any, which is the validator's normal form.
func DecodeValues(data []byte) (map[string]any, error) {
	values := map[string]any{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, model.Wrap(model.KindDataIntegrity, "storage.decode_values", err)
	}
	return values, nil
}

// NormalizeValues round-trips values through the storage encoding, giving
// the exact shape every backend returns on read and dropping any aliasing
// with caller memory.
func NormalizeValues(values map[string]any) (map[string]any, error) {
	data, err := EncodeValues(values)
	if err != nil {
		return nil, model.Wrap(model.KindDataIntegrity, "storage.encode_values", err)
	}
	return DecodeValues(data)
}

// CheckValues reports stored values that do not fit the form: undeclared
// keys, nested objects, or a value whose type disagrees with its field kind.
// values must already be normalized.
func CheckValues(op string, form *model.Form, values map[string]any) error {
	for name, v := range values {
		f, ok := form.Field(name)
		if !ok {
			return model.Errorf(model.KindDataIntegrity, op, "key %q is not a field of form %s", name, form.ID)
		}
		if f.Kind == model.FieldArray {
			items, ok := v.([]any)
			if !ok {
				return model.Errorf(model.KindDataIntegrity, op, "field %q: expected a list, got %T", name, v)
			}
			for i, it := range items {
				if !fitsKind(model.FieldKind(f.ItemKind), it) {
					return model.Errorf(model.KindDataIntegrity, op, "field %q[%d]: %T does not fit %s items", name, i, it, f.ItemKind)
				}
			}
			continue
		}
		if !fitsKind(f.Kind, v) {
			return model.Errorf(model.KindDataIntegrity, op, "field %q: %T does not fit a %s field", name, v, f.Kind)
		}
	}
	return nil
}

func fitsKind(kind model.FieldKind, v any) bool {
	switch kind {
	case model.FieldString, model.FieldEnum, model.FieldKind(model.ItemFile):
		_, ok := v.(string)
		return ok
	case model.FieldNumber:
		_, ok := v.(float64)
		return ok
	case model.FieldInteger:
		n, ok := v.(float64)
		return ok && n == math.Trunc(n)
	case model.FieldBoolean:
		_, ok := v.(bool)
		return ok
	}
	return false
}

// InitFile checks upload metadata and fills in a missing id or timestamp.
func InitFile(meta *model.FileMeta, now time.Time) error {
	if meta.ID == "" {
		id, err := model.NewID()
		if err != nil {
			return model.Wrap(model.KindStorageUnavailable, "storage.init_file.id", err)
		}
		meta.ID = id
	}
	if !model.IsFileID(meta.ID) {
		return &model.Error{
			Kind:   model.KindValidationFailed,
			Op:     "storage.init_file",
			Fields: []model.FieldError{{Field: "id", Index: -1, Kind: model.InvalidFileID, Message: "not a valid file reference"}},
		}
	}
	if meta.Size < 0 {
		return &model.Error{
			Kind:   model.KindValidationFailed,
			Op:     "storage.init_file",
			Fields: []model.FieldError{{Field: "size", Index: -1, Kind: model.OutOfRange, Message: "must not be negative"}},
		}
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.CreatedAt = meta.CreatedAt.UTC()
	return nil
}
