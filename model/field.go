package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
)

type FieldKind string

const (
	FieldString  FieldKind = "string"
	FieldNumber  FieldKind = "number"
	FieldInteger FieldKind = "integer"
	FieldBoolean FieldKind = "boolean"
	FieldEnum    FieldKind = "enum"
	FieldArray   FieldKind = "array"
)

// ItemKind is the element kind of an array field. Only primitives and file
// references are representable, so arrays never nest.
type ItemKind string

const (
	ItemString  ItemKind = "string"
	ItemNumber  ItemKind = "number"
	ItemInteger ItemKind = "integer"
	ItemBoolean ItemKind = "boolean"
	ItemFile    ItemKind = "file"
)

// String formats. FormatBinary marks a file-upload field.
const (
	FormatBinary = "binary"
	FormatEmail  = "email"
	FormatURL    = "url"
)

var reFieldName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

type FieldDef struct {
	Name        string    `json:"name"`
	Label       string    `json:"label,omitempty"`
	Description string    `json:"description,omitempty"`
	Kind        FieldKind `json:"kind"`
	Required    bool      `json:"required"`
	MaxLength   *int      `json:"max_length,omitempty"`
	Format      string    `json:"format,omitempty"`
	Min         *float64  `json:"min,omitempty"`
	Max         *float64  `json:"max,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	ItemKind    ItemKind  `json:"item_kind,omitempty"`
}

// IsFile reports whether the field carries file ids instead of plain values.
func (f FieldDef) IsFile() bool {
	switch f.Kind {
	case FieldString:
		return f.Format == FormatBinary
	case FieldArray:
		return f.ItemKind == ItemFile
	}
	return false
}

// IsText reports whether the field (or each of its items) holds free text
// that participates in free-text search.
func (f FieldDef) IsText() bool {
	switch f.Kind {
	case FieldString:
		return f.Format != FormatBinary
	case FieldEnum:
		return true
	case FieldArray:
		return f.ItemKind == ItemString
	}
	return false
}

// Define normalizes a builder-supplied field list and checks it against the
// schema rules. Every problem found is reported, not just the first.
func Define(fields []FieldDef) ([]FieldDef, error) {
	var errs *multierror.Error
	if len(fields) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("at least one field is required"))
	}

	out := make([]FieldDef, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		loc := fmt.Sprintf("field %d", i+1)
		f.Name = strings.TrimSpace(f.Name)
		f.Label = strings.TrimSpace(f.Label)

		switch {
		case f.Name == "":
			errs = multierror.Append(errs, fmt.Errorf("%s: name is required", loc))
		case !reFieldName.MatchString(f.Name):
			errs = multierror.Append(errs, fmt.Errorf("%s: name %q must start with a letter and contain only letters, digits and underscores", loc, f.Name))
		case seen[f.Name]:
			errs = multierror.Append(errs, fmt.Errorf("%s: duplicate name %q", loc, f.Name))
		default:
			seen[f.Name] = true
			loc = fmt.Sprintf("%s (%s)", loc, f.Name)
		}

		if f.MaxLength != nil && *f.MaxLength < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s: max_length must not be negative", loc))
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			errs = multierror.Append(errs, fmt.Errorf("%s: min %v is greater than max %v", loc, *f.Min, *f.Max))
		}

		switch f.Kind {
		case FieldString:
			switch f.Format {
			case "", FormatBinary, FormatEmail, FormatURL:
			default:
				errs = multierror.Append(errs, fmt.Errorf("%s: unknown string format %q", loc, f.Format))
			}
			f.ItemKind, f.Enum = "", nil
		case FieldNumber, FieldInteger, FieldBoolean:
			f.ItemKind, f.Enum, f.Format = "", nil, ""
		case FieldEnum:
			f.Enum = normalizeEnum(f.Enum)
			if len(f.Enum) == 0 {
				errs = multierror.Append(errs, fmt.Errorf("%s: enum needs at least one allowed value", loc))
			}
			f.ItemKind, f.Format = "", ""
		case FieldArray:
			switch f.ItemKind {
			case ItemString, ItemNumber, ItemInteger, ItemBoolean, ItemFile:
			default:
				errs = multierror.Append(errs, fmt.Errorf("%s: array item kind %q is not a primitive or file", loc, f.ItemKind))
			}
			f.Enum, f.Format = nil, ""
		default:
			errs = multierror.Append(errs, fmt.Errorf("%s: unknown kind %q", loc, f.Kind))
		}

		out = append(out, f)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, &Error{Kind: KindSchemaInvalid, Op: "schema.define", Err: err}
	}
	return out, nil
}

func normalizeEnum(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
