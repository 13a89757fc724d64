package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/mbolis/quick-forms/database"
	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/query"
	"github.com/mbolis/quick-forms/storage"
)

type submissionRow struct {
	ID        string `db:"id"`
	FormID    string `db:"form_id"`
	CreatedAt int64  `db:"created_at"`
	Data      string `db:"data"`
}

func (r submissionRow) toModel() (*model.Submission, error) {
	values, err := storage.DecodeValues([]byte(r.Data))
	if err != nil {
		return nil, err
	}
	return &model.Submission{
		ID:        r.ID,
		FormID:    r.FormID,
		CreatedAt: fromNanos(r.CreatedAt),
		Values:    values,
	}, nil
}

func (s *Store) InsertSubmission(ctx context.Context, formID string, values map[string]any) (*model.Submission, error) {
	data, err := storage.EncodeValues(values)
	if err != nil {
		return nil, model.Wrap(model.KindDataIntegrity, "db.insert_submission.encode", err)
	}
	normalized, err := storage.DecodeValues(data)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, storage.Unavailable("db.begin_tx", err)
	}
	defer tx.Rollback()

	// SQLite takes the write lock at BEGIN; PostgreSQL locks the form row.
	// Either way inserts into one form commit in stamp order, and a
	// concurrent DeleteForm waits for us or we see it gone.
	q := `SELECT ` + formColumns + ` FROM form WHERE id = ?`
	if s.db.DriverName() == database.Postgres {
		q += ` FOR UPDATE`
	}
	row := formRow{}
	err = tx.GetContext(ctx, &row, tx.Rebind(q), formID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.FormNotFound("db.insert_submission", formID)
	}
	if err != nil {
		return nil, storage.Unavailable("db.insert_submission.form", err)
	}
	form, err := row.toModel()
	if err != nil {
		return nil, err
	}
	if err := storage.CheckValues("db.insert_submission", form, normalized); err != nil {
		return nil, err
	}

	createdAt, id, err := s.stamp.Stamp()
	if err != nil {
		return nil, storage.Unavailable("db.insert_submission.stamp", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO submission (id, form_id, created_at, data)
		VALUES (?, ?, ?, ?)`),
		id, formID, toNanos(createdAt), string(data),
	)
	if err != nil {
		return nil, storage.Unavailable("db.insert_submission", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storage.Unavailable("db.insert_submission.commit", err)
	}

	log.Debugf("db.insert_submission: %s for form %s", id, formID)
	return &model.Submission{ID: id, FormID: formID, CreatedAt: createdAt, Values: normalized}, nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	row := submissionRow{}
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, form_id, created_at, data
		FROM submission WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.SubmissionNotFound("db.get_submission", id)
	}
	if err != nil {
		return nil, storage.Unavailable("db.get_submission", err)
	}
	return row.toModel()
}

func (s *Store) DeleteSubmission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM submission WHERE id = ?`), id)
	if err != nil {
		return storage.Unavailable("db.delete_submission", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Unavailable("db.delete_submission.verify", err)
	}
	if n < 1 {
		return storage.SubmissionNotFound("db.delete_submission", id)
	}
	log.Debugf("db.delete_submission: %s", id)
	return nil
}

func (s *Store) QuerySubmissions(ctx context.Context, formID string, q *query.Query) ([]model.Submission, bool, error) {
	if err := s.formExists(ctx, "db.get_submissions", formID); err != nil {
		return nil, false, err
	}

	limit := q.PageSize()
	page := make([]model.Submission, 0, limit)
	err := s.scan(ctx, formID, q, limit+1, func(sub *model.Submission) bool {
		page = append(page, *sub)
		return len(page) <= limit
	})
	if err != nil {
		return nil, false, err
	}

	if len(page) > limit {
		return page[:limit], true, nil
	}
	return page, false, nil
}

func (s *Store) CountSubmissions(ctx context.Context, formID string, q *query.Query) (int, error) {
	if err := s.formExists(ctx, "db.count_submissions", formID); err != nil {
		return 0, err
	}

	if !needsScan(q) {
		where, args := window(formID, q, nil)
		var n int
		err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM submission WHERE `+where), args...)
		if err != nil {
			return 0, storage.Unavailable("db.count_submissions", err)
		}
		return n, nil
	}

	n := 0
	err := s.scan(ctx, formID, q.WithCursor(nil), s.batch, func(*model.Submission) bool {
		n++
		return true
	})
	return n, err
}

func (s *Store) formExists(ctx context.Context, op, formID string) error {
	var one int
	err := s.db.GetContext(ctx, &one, s.db.Rebind(`SELECT 1 FROM form WHERE id = ?`), formID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.FormNotFound(op, formID)
	}
	if err != nil {
		return storage.Unavailable(op, err)
	}
	return nil
}

// needsScan reports whether q has predicates that are evaluated in Go
// rather than pushed down into SQL.
func needsScan(q *query.Query) bool {
	return q != nil && (q.Text != "" || len(q.Predicates) > 0)
}

// window builds the pushed-down part of a query: form, date range and the
// keyset position.
func window(formID string, q *query.Query, after *query.Cursor) (string, []any) {
	clauses := []string{"form_id = ?"}
	args := []any{formID}
	if q != nil && q.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, toNanos(*q.From))
	}
	if q != nil && q.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, toNanos(*q.To))
	}
	if after != nil {
		cmp := "<"
		if q != nil && q.Asc {
			cmp = ">"
		}
		clauses = append(clauses, "(created_at "+cmp+" ? OR (created_at = ? AND id "+cmp+" ?))")
		ts := toNanos(after.CreatedAt)
		args = append(args, ts, ts, after.ID)
	}
	return strings.Join(clauses, " AND "), args
}

// scan walks submissions in query order starting after q.Cursor, reading
// batches of rows and handing every match to fn until fn returns false or
// the rows run out.
func (s *Store) scan(ctx context.Context, formID string, q *query.Query, batch int, fn func(*model.Submission) bool) error {
	if needsScan(q) && batch < s.batch {
		batch = s.batch
	}
	order := "created_at DESC, id DESC"
	if q != nil && q.Asc {
		order = "created_at ASC, id ASC"
	}

	var after *query.Cursor
	if q != nil {
		after = q.Cursor
	}
	for {
		where, args := window(formID, q, after)
		rows := []submissionRow{}
		err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
			SELECT id, form_id, created_at, data
			FROM submission
			WHERE `+where+`
			ORDER BY `+order+`
			LIMIT ?`), append(args, batch)...)
		if err != nil {
			return storage.Unavailable("db.get_submissions", err)
		}

		for _, r := range rows {
			sub, err := r.toModel()
			if err != nil {
				return err
			}
			after = query.NextCursor(sub)
			if !q.Match(sub) {
				continue
			}
			if !fn(sub) {
				return nil
			}
		}

		if len(rows) < batch {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
