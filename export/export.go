// Package export projects submissions onto flat rows, one column per field
// in declared order, and streams them as CSV or TSV.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/storage"
)

type Format string

const (
	CSV Format = "csv"
	TSV Format = "tsv"
)

// ParseFormat accepts "csv" (also the default for an empty string) and "tsv".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", CSV:
		return CSV, nil
	case TSV:
		return TSV, nil
	}
	return "", model.Errorf(model.KindInvalidFilter, "export.format", "unsupported format %q", s)
}

func (f Format) Delimiter() rune {
	if f == TSV {
		return '\t'
	}
	return ','
}

func (f Format) ContentType() string {
	if f == TSV {
		return "text/tab-separated-values; charset=utf-8"
	}
	return "text/csv; charset=utf-8"
}

// Rows is a lazy row source. The first row is the header; every following
// row is pulled from next only when asked for. next returns a nil
// submission once exhausted.
type Rows struct {
	form *model.Form
	next func() (*model.Submission, error)

	started bool
	row     []string
	err     error
}

func NewRows(form *model.Form, next func() (*model.Submission, error)) *Rows {
	return &Rows{form: form, next: next}
}

// FromIterator adapts a storage scan to a Rows source.
func FromIterator(it *storage.Iterator) func() (*model.Submission, error) {
	return func() (*model.Submission, error) {
		if it.Next() {
			return it.Submission(), nil
		}
		return nil, it.Err()
	}
}

func (r *Rows) Next() bool {
	if r.err != nil {
		return false
	}
	if !r.started {
		r.started = true
		r.row = r.form.FieldNames()
		return true
	}

	sub, err := r.next()
	if err != nil {
		r.err = err
		r.row = nil
		return false
	}
	if sub == nil {
		r.row = nil
		return false
	}
	r.row = Project(r.form, sub)
	return true
}

func (r *Rows) Row() []string {
	return r.row
}

func (r *Rows) Err() error {
	return r.err
}

// Project renders one submission as a row of cells in field order.
func Project(form *model.Form, sub *model.Submission) []string {
	row := make([]string, len(form.Fields))
	for i, f := range form.Fields {
		row[i] = Cell(sub.Values[f.Name])
	}
	return row
}

// Cell formats a normalized value. File fields hold their id, which is
// rendered as is.
func Cell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if item != nil {
				parts = append(parts, Cell(item))
			}
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

// Write streams rows to w. It stops between rows once ctx is done.
func Write(ctx context.Context, w io.Writer, rows *Rows, delimiter rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cw.Write(rows.Row()); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
