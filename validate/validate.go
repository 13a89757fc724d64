// Package validate turns untrusted submission input into normalized values
// according to a form's field definitions.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mbolis/quick-forms/model"
)

// Boolean literals accepted from text input (form encoding, query strings).
// Matching is case-insensitive after trimming. Anything else is rejected.
var (
	TrueLiterals  = []string{"true", "on", "1", "yes"}
	FalseLiterals = []string{"false", "off", "0", "no"}
)

// FileLookup resolves upload metadata. Storage backends implement it.
type FileLookup interface {
	GetFile(ctx context.Context, id string) (*model.FileMeta, error)
}

// Validator checks submissions. The zero value validates without consulting
// file metadata.
type Validator struct {
	Files FileLookup
	// MaxUploadBytes is the global upload ceiling; 0 means unlimited.
	// A form's own MaxUploadBytes takes precedence when set.
	MaxUploadBytes int64
}

// Result is either a normalized value set or a list of field errors.
type Result struct {
	Values map[string]any
	Errors []model.FieldError
}

func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Err returns nil on success, or a VALIDATION_FAILED error carrying the
// field errors.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &model.Error{
		Kind:   model.KindValidationFailed,
		Op:     "validate.submission",
		Msg:    fmt.Sprintf("%d field error(s)", len(r.Errors)),
		Fields: r.Errors,
	}
}

// Validate checks raw against form without file metadata lookups.
func Validate(form *model.Form, raw map[string]any) Result {
	res, _ := (&Validator{}).Validate(context.Background(), form, raw)
	return res
}

// Validate checks every field in schema order and accumulates all errors.
// The returned error is only set when file metadata could not be fetched.
func (v *Validator) Validate(ctx context.Context, form *model.Form, raw map[string]any) (Result, error) {
	c := checker{ctx: ctx, v: v, ceiling: v.MaxUploadBytes}
	if form.MaxUploadBytes > 0 {
		c.ceiling = form.MaxUploadBytes
	}

	values := make(map[string]any, len(form.Fields))
	for _, f := range form.Fields {
		in, present := raw[f.Name]
		if present && isEmpty(in) {
			present = false
		}
		if !present {
			if f.Required {
				c.fail(f.Name, -1, model.MissingRequired, "field is required")
			}
			continue
		}

		out, ok := c.field(f, in)
		if c.err != nil {
			return Result{}, c.err
		}
		if ok {
			values[f.Name] = out
		}
	}

	if len(c.errs) > 0 {
		return Result{Errors: c.errs}, nil
	}
	return Result{Values: values}, nil
}

type checker struct {
	ctx     context.Context
	v       *Validator
	ceiling int64
	errs    []model.FieldError
	err     error
}

func (c *checker) fail(field string, index int, kind model.FieldErrorKind, msg string, args ...any) {
	c.errs = append(c.errs, model.FieldError{
		Field:   field,
		Index:   index,
		Kind:    kind,
		Message: fmt.Sprintf(msg, args...),
	})
}

func (c *checker) field(f model.FieldDef, in any) (any, bool) {
	switch f.Kind {
	case model.FieldString:
		if f.Format == model.FormatBinary {
			return c.file(f.Name, -1, unwrapSingle(in))
		}
		return c.text(f, -1, unwrapSingle(in))
	case model.FieldNumber:
		return c.number(f, -1, unwrapSingle(in), false)
	case model.FieldInteger:
		return c.number(f, -1, unwrapSingle(in), true)
	case model.FieldBoolean:
		return c.boolean(f.Name, -1, unwrapSingle(in))
	case model.FieldEnum:
		return c.enum(f, unwrapSingle(in))
	case model.FieldArray:
		return c.array(f, in)
	}
	// Define rejects unknown kinds, so reaching here means a corrupted form.
	panic(fmt.Sprintf("validate: field %q has unknown kind %q", f.Name, f.Kind))
}

func (c *checker) text(f model.FieldDef, idx int, in any) (any, bool) {
	s, ok := in.(string)
	if !ok {
		c.fail(f.Name, idx, model.InvalidType, "expected text, got %s", typeName(in))
		return nil, false
	}
	if f.MaxLength != nil && utf8.RuneCountInString(s) > *f.MaxLength {
		c.fail(f.Name, idx, model.TooLong, "must be at most %d characters", *f.MaxLength)
		return nil, false
	}
	switch f.Format {
	case model.FormatEmail:
		if addr, err := mail.ParseAddress(s); err != nil || addr.Address != s {
			c.fail(f.Name, idx, model.InvalidFormat, "not a valid email address")
			return nil, false
		}
	case model.FormatURL:
		if u, err := url.Parse(s); err != nil || u.Scheme == "" || u.Host == "" {
			c.fail(f.Name, idx, model.InvalidFormat, "not a valid URL")
			return nil, false
		}
	}
	return s, true
}

func (c *checker) number(f model.FieldDef, idx int, in any, integer bool) (any, bool) {
	n, ok := toFloat(in)
	if !ok {
		c.fail(f.Name, idx, model.InvalidType, "expected a number, got %s", typeName(in))
		return nil, false
	}
	if integer && n != math.Trunc(n) {
		c.fail(f.Name, idx, model.NotInteger, "must be a whole number")
		return nil, false
	}
	if f.Min != nil && n < *f.Min {
		c.fail(f.Name, idx, model.OutOfRange, "must be at least %v", *f.Min)
		return nil, false
	}
	if f.Max != nil && n > *f.Max {
		c.fail(f.Name, idx, model.OutOfRange, "must be at most %v", *f.Max)
		return nil, false
	}
	return n, true
}

func (c *checker) boolean(field string, idx int, in any) (any, bool) {
	switch v := in.(type) {
	case bool:
		return v, true
	case string:
		if b, ok := ParseBool(v); ok {
			return b, true
		}
	}
	c.fail(field, idx, model.InvalidType, "expected one of %s or %s",
		strings.Join(TrueLiterals, "/"), strings.Join(FalseLiterals, "/"))
	return nil, false
}

func (c *checker) enum(f model.FieldDef, in any) (any, bool) {
	s, ok := in.(string)
	if !ok {
		c.fail(f.Name, -1, model.InvalidType, "expected text, got %s", typeName(in))
		return nil, false
	}
	for _, allowed := range f.Enum {
		if s == allowed {
			return s, true
		}
	}
	c.fail(f.Name, -1, model.NotAllowed, "%q is not one of the allowed values", s)
	return nil, false
}

func (c *checker) file(field string, idx int, in any) (any, bool) {
	id, ok := in.(string)
	if !ok || !model.IsFileID(id) {
		c.fail(field, idx, model.InvalidFileID, "not a valid file reference")
		return nil, false
	}
	if c.ceiling <= 0 || c.v.Files == nil {
		return id, true
	}

	meta, err := c.v.Files.GetFile(c.ctx, id)
	switch {
	case model.KindOf(err) == model.KindFileNotFound:
		c.fail(field, idx, model.FileNotFound, "file %s does not exist", id)
		return nil, false
	case err != nil:
		c.err = err
		return nil, false
	}
	if meta.Size > c.ceiling {
		c.fail(field, idx, model.FileTooLarge, "file exceeds the %d byte limit", c.ceiling)
		return nil, false
	}
	return id, true
}

func (c *checker) array(f model.FieldDef, in any) (any, bool) {
	items, ok := toSlice(in)
	if !ok {
		c.fail(f.Name, -1, model.InvalidType, "expected a list, got %s", typeName(in))
		return nil, false
	}

	item := model.FieldDef{Name: f.Name, MaxLength: f.MaxLength, Min: f.Min, Max: f.Max}
	out := make([]any, 0, len(items))
	valid := true
	for i, it := range items {
		var (
			v  any
			ok bool
		)
		switch f.ItemKind {
		case model.ItemString:
			v, ok = c.text(item, i, it)
		case model.ItemNumber:
			v, ok = c.number(item, i, it, false)
		case model.ItemInteger:
			v, ok = c.number(item, i, it, true)
		case model.ItemBoolean:
			v, ok = c.boolean(f.Name, i, it)
		case model.ItemFile:
			v, ok = c.file(f.Name, i, it)
		default:
			panic(fmt.Sprintf("validate: field %q has unknown item kind %q", f.Name, f.ItemKind))
		}
		if c.err != nil {
			return nil, false
		}
		if !ok {
			valid = false
			continue
		}
		out = append(out, v)
	}
	return out, valid
}

// ParseBool parses the documented boolean literal set.
func ParseBool(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, l := range TrueLiterals {
		if s == l {
			return true, true
		}
	}
	for _, l := range FalseLiterals {
		if s == l {
			return false, true
		}
	}
	return false, false
}

func isEmpty(in any) bool {
	switch v := in.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0 || (len(v) == 1 && v[0] == "")
	case []any:
		return len(v) == 0
	}
	return false
}

// unwrapSingle accepts form-encoded single values, which arrive as a
// one-element []string.
func unwrapSingle(in any) any {
	if ss, ok := in.([]string); ok && len(ss) == 1 {
		return ss[0]
	}
	return in
}

func toSlice(in any) ([]any, bool) {
	switch v := in.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(in)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toFloat(in any) (float64, bool) {
	var n float64
	switch v := in.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int8:
		n = float64(v)
	case int16:
		n = float64(v)
	case int32:
		n = float64(v)
	case int64:
		n = float64(v)
	case uint:
		n = float64(v)
	case uint8:
		n = float64(v)
	case uint16:
		n = float64(v)
	case uint32:
		n = float64(v)
	case uint64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func typeName(in any) string {
	switch in.(type) {
	case string:
		return "text"
	case bool:
		return "boolean"
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return "number"
	case []any, []string:
		return "list"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", in)
}
