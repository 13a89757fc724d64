// Package storage defines the capability interface shared by the relational
// and document-file backends.
package storage

import (
	"context"

	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/query"
)

// Store persists forms, submissions and upload metadata. Implementations
// must be observably identical for identical operation sequences; the
// storetest package holds the shared contract.
type Store interface {
	// CreateForm assigns ID, PublicID, Version, CreatedAt and UpdatedAt
	// before persisting the form.
	CreateForm(ctx context.Context, form *model.Form) error
	// UpdateForm replaces a form's definition if form.Version matches the
	// stored one, then bumps Version and UpdatedAt. Stored submissions are
	// left as they are.
	UpdateForm(ctx context.Context, form *model.Form) error
	GetForm(ctx context.Context, id string) (*model.Form, error)
	GetFormByPublicID(ctx context.Context, publicID string) (*model.Form, error)
	// ListForms returns forms in creation order.
	ListForms(ctx context.Context) ([]model.Form, error)
	// DeleteForm removes a form, its submissions and its file metadata.
	DeleteForm(ctx context.Context, id string) error

	// InsertSubmission stores already validated values.
	InsertSubmission(ctx context.Context, formID string, values map[string]any) (*model.Submission, error)
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	DeleteSubmission(ctx context.Context, id string) error
	// QuerySubmissions returns at most q.PageSize() matching submissions
	// after q.Cursor, in query order, and whether more exist.
	QuerySubmissions(ctx context.Context, formID string, q *query.Query) ([]model.Submission, bool, error)
	// CountSubmissions counts matching submissions, ignoring pagination.
	CountSubmissions(ctx context.Context, formID string, q *query.Query) (int, error)

	PutFile(ctx context.Context, meta *model.FileMeta) error
	GetFile(ctx context.Context, id string) (*model.FileMeta, error)

	Close() error
}

// Iterator walks every submission matching a query by re-issuing page
// queries with the cursor of the previous page.
type Iterator struct {
	ctx    context.Context
	store  Store
	formID string
	q      *query.Query

	page []model.Submission
	pos  int
	more bool
	err  error
	cur  *model.Submission
}

// Scan starts an iterator at q's cursor (or the beginning).
func Scan(ctx context.Context, store Store, formID string, q *query.Query) *Iterator {
	return &Iterator{ctx: ctx, store: store, formID: formID, q: q.WithCursor(cursorOf(q)), more: true}
}

func cursorOf(q *query.Query) *query.Cursor {
	if q == nil {
		return nil
	}
	return q.Cursor
}

func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.pos >= len(it.page) {
		if !it.more {
			return false
		}
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}
		page, more, err := it.store.QuerySubmissions(it.ctx, it.formID, it.q)
		if err != nil {
			it.err = err
			return false
		}
		it.page, it.pos, it.more = page, 0, more
		if len(page) == 0 {
			return false
		}
		it.q = it.q.WithCursor(query.NextCursor(&page[len(page)-1]))
	}
	it.cur = &it.page[it.pos]
	it.pos++
	return true
}

func (it *Iterator) Submission() *model.Submission {
	return it.cur
}

func (it *Iterator) Err() error {
	return it.err
}

// Collect drains the iterator.
func (it *Iterator) Collect() ([]model.Submission, error) {
	var out []model.Submission
	for it.Next() {
		out = append(out, *it.cur)
	}
	return out, it.Err()
}
