// Package query turns untrusted browse parameters into a filter, ordering
// and page window over a form's submissions.
package query

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/validate"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Parameter names understood by Build. Field filters are written as
// "f.<field>" optionally followed by ".eq", ".min" or ".max".
const (
	ParamText   = "q"
	ParamFrom   = "from"
	ParamTo     = "to"
	ParamSort   = "sort"
	ParamCursor = "cursor"
	ParamLimit  = "limit"
	fieldPrefix = "f."
)

type Op int

const (
	// OpContains is a case-insensitive substring match.
	OpContains Op = iota
	// OpEquals is an exact match on text.
	OpEquals
	// OpIn matches any of a set of literals.
	OpIn
	// OpRange bounds a number by Min and/or Max.
	OpRange
)

// Predicate filters on one field. For array fields it matches when any item
// matches.
type Predicate struct {
	Field  model.FieldDef
	Op     Op
	Text   string
	Values []any
	Min    *float64
	Max    *float64
}

type Query struct {
	Predicates []Predicate
	// Text is a lowercased free-text needle matched against every text field.
	Text     string
	From, To *time.Time
	// Asc selects oldest-first order; the default is newest first.
	Asc    bool
	Cursor *Cursor
	Limit  int

	textFields []string
}

// Build parses filter, sort and page parameters. Parameters outside the
// recognized set are ignored; malformed recognized ones are rejected.
func Build(form *model.Form, params url.Values) (*Query, error) {
	q := &Query{Limit: DefaultLimit}
	for _, f := range form.Fields {
		if f.IsText() {
			q.textFields = append(q.textFields, f.Name)
		}
	}

	q.Text = strings.ToLower(strings.TrimSpace(params.Get(ParamText)))

	var err error
	if q.From, err = parseTime(params.Get(ParamFrom), false); err != nil {
		return nil, invalid("%s: %v", ParamFrom, err)
	}
	if q.To, err = parseTime(params.Get(ParamTo), true); err != nil {
		return nil, invalid("%s: %v", ParamTo, err)
	}

	switch s := strings.TrimSpace(params.Get(ParamSort)); s {
	case "", "-created_at":
	case "created_at":
		q.Asc = true
	default:
		return nil, invalid("sort: unsupported order %q", s)
	}

	if c := strings.TrimSpace(params.Get(ParamCursor)); c != "" {
		cur, err := DecodeCursor(c)
		if err != nil {
			return nil, err
		}
		q.Cursor = &cur
	}

	if l := strings.TrimSpace(params.Get(ParamLimit)); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > MaxLimit {
			return nil, invalid("limit: must be an integer between 1 and %d", MaxLimit)
		}
		q.Limit = n
	}

	// deterministic error reporting and predicate order
	keys := make([]string, 0, len(params))
	for k := range params {
		if strings.HasPrefix(k, fieldPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	ranges := map[string]*Predicate{}
	for _, key := range keys {
		name, op, _ := strings.Cut(strings.TrimPrefix(key, fieldPrefix), ".")
		field, ok := form.Field(name)
		if !ok {
			return nil, invalid("%s: unknown field %q", key, name)
		}
		values := nonEmpty(params[key])
		if len(values) == 0 {
			continue
		}

		if op == "min" || op == "max" {
			p, err := rangeBound(field, key, op, values, ranges[name])
			if err != nil {
				return nil, err
			}
			if ranges[name] == nil {
				ranges[name] = p
			}
			continue
		}

		p, err := fieldPredicate(field, key, op, values)
		if err != nil {
			return nil, err
		}
		q.Predicates = append(q.Predicates, p)
	}

	for _, f := range form.Fields {
		if p, ok := ranges[f.Name]; ok {
			q.Predicates = append(q.Predicates, *p)
		}
	}
	return q, nil
}

func fieldPredicate(f model.FieldDef, key, op string, values []string) (Predicate, error) {
	p := Predicate{Field: f}
	kind := f.Kind
	file := f.IsFile()
	if kind == model.FieldArray {
		switch f.ItemKind {
		case model.ItemString:
			kind = model.FieldString
		case model.ItemBoolean:
			kind = model.FieldBoolean
		case model.ItemNumber, model.ItemInteger:
			kind = model.FieldNumber
		}
	}

	switch {
	case file && op == "eq":
		if len(values) != 1 {
			return p, invalid("%s: expects a single value", key)
		}
		p.Op, p.Text = OpEquals, strings.TrimSpace(values[0])
	case file:
		return p, invalid("%s: file fields only support exact id match (.eq)", key)

	case kind == model.FieldString && op == "":
		if len(values) != 1 {
			return p, invalid("%s: expects a single value", key)
		}
		p.Op, p.Text = OpContains, strings.ToLower(strings.TrimSpace(values[0]))
	case kind == model.FieldString && op == "eq":
		if len(values) != 1 {
			return p, invalid("%s: expects a single value", key)
		}
		p.Op, p.Text = OpEquals, values[0]

	case kind == model.FieldEnum && op == "":
		p.Op = OpIn
		for _, v := range values {
			v = strings.TrimSpace(v)
			if !contains(f.Enum, v) {
				return p, invalid("%s: %q is not an allowed value", key, v)
			}
			p.Values = append(p.Values, v)
		}

	case kind == model.FieldBoolean && op == "":
		p.Op = OpIn
		for _, v := range values {
			b, ok := validate.ParseBool(v)
			if !ok {
				return p, invalid("%s: %q is not a boolean", key, v)
			}
			p.Values = append(p.Values, b)
		}

	default:
		if op == "" {
			return p, invalid("%s: %s fields do not support this filter", key, f.Kind)
		}
		return p, invalid("%s: %s fields do not support operator %q", key, f.Kind, op)
	}
	return p, nil
}

func rangeBound(f model.FieldDef, key, op string, values []string, p *Predicate) (*Predicate, error) {
	numeric := f.Kind == model.FieldNumber || f.Kind == model.FieldInteger ||
		(f.Kind == model.FieldArray && (f.ItemKind == model.ItemNumber || f.ItemKind == model.ItemInteger))
	if !numeric {
		return nil, invalid("%s: %s fields do not support operator %q", key, f.Kind, op)
	}
	if len(values) != 1 {
		return nil, invalid("%s: expects a single value", key)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(values[0]), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, invalid("%s: %q is not a number", key, values[0])
	}
	if p == nil {
		p = &Predicate{Field: f, Op: OpRange}
	}
	if op == "min" {
		p.Min = &n
	} else {
		p.Max = &n
	}
	return p, nil
}

// PageSize is the effective page size.
func (q *Query) PageSize() int {
	if q == nil || q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// Match reports whether s satisfies the date range, free text and field
// predicates. Pagination is not considered.
func (q *Query) Match(s *model.Submission) bool {
	if q == nil {
		return true
	}
	if q.From != nil && s.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && s.CreatedAt.After(*q.To) {
		return false
	}
	if q.Text != "" && !q.matchText(s) {
		return false
	}
	for i := range q.Predicates {
		if !q.Predicates[i].Match(s.Values[q.Predicates[i].Field.Name]) {
			return false
		}
	}
	return true
}

func (q *Query) matchText(s *model.Submission) bool {
	for _, name := range q.textFields {
		switch v := s.Values[name].(type) {
		case string:
			if strings.Contains(strings.ToLower(v), q.Text) {
				return true
			}
		case []any:
			for _, it := range v {
				if str, ok := it.(string); ok && strings.Contains(strings.ToLower(str), q.Text) {
					return true
				}
			}
		}
	}
	return false
}

// Match reports whether a stored value satisfies the predicate. Missing
// values never match.
func (p *Predicate) Match(v any) bool {
	if items, ok := v.([]any); ok {
		for _, it := range items {
			if p.matchOne(it) {
				return true
			}
		}
		return false
	}
	return p.matchOne(v)
}

func (p *Predicate) matchOne(v any) bool {
	switch p.Op {
	case OpContains:
		s, ok := v.(string)
		return ok && strings.Contains(strings.ToLower(s), p.Text)
	case OpEquals:
		s, ok := v.(string)
		return ok && s == p.Text
	case OpIn:
		for _, want := range p.Values {
			if v == want {
				return true
			}
		}
		return false
	case OpRange:
		n, ok := v.(float64)
		if !ok {
			return false
		}
		if p.Min != nil && n < *p.Min {
			return false
		}
		if p.Max != nil && n > *p.Max {
			return false
		}
		return true
	}
	return false
}

// Less orders submissions in query order, tie-breaking on id.
func (q *Query) Less(a, b *model.Submission) bool {
	asc := q != nil && q.Asc
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if asc {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	}
	if asc {
		return a.ID < b.ID
	}
	return a.ID > b.ID
}

// After reports whether s comes strictly after the cursor in query order.
// Without a cursor every submission qualifies.
func (q *Query) After(s *model.Submission) bool {
	if q == nil || q.Cursor == nil {
		return true
	}
	return q.Less(&model.Submission{ID: q.Cursor.ID, CreatedAt: q.Cursor.CreatedAt}, s)
}

// WithCursor returns a shallow copy of q positioned after c.
func (q *Query) WithCursor(c *Cursor) *Query {
	var cp Query
	if q != nil {
		cp = *q
	}
	cp.Cursor = c
	return &cp
}

func parseTime(s string, end bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04", s); err == nil {
		if end {
			t = t.Add(time.Minute - time.Nanosecond)
		}
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		if end {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t, nil
	}
	return nil, fmt.Errorf("%q is not a date", s)
}

// nonEmpty drops blank values. The rest are kept untrimmed so exact
// matches see the stored text as is.
func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func invalid(format string, args ...any) error {
	return model.Errorf(model.KindInvalidFilter, "query.build", format, args...)
}
