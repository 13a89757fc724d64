// Package sqlstore implements storage.Store on a relational database through
// sqlx. SQLite and PostgreSQL are supported; the schema is managed by the
// migrations in the database package.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mbolis/quick-forms/database"
	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/storage"
)

const defaultBatchSize = 200

type Store struct {
	db    *sqlx.DB
	stamp *model.Stamper
	batch int
}

var _ storage.Store = (*Store)(nil)

type Option func(*Store)

// WithClock replaces the wall clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.stamp.Clock = clock }
}

// WithBatchSize sets how many rows a filtered scan reads per round trip.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batch = n
		}
	}
}

func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db, stamp: &model.Stamper{}, batch: defaultBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects and migrates the database, then wraps it in a Store.
func Open(driver, url string, opts ...Option) (*Store, error) {
	db, err := database.Open(driver, url)
	if err != nil {
		return nil, storage.Unavailable("db.open", err)
	}
	return New(db, opts...), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type formRow struct {
	ID              string `db:"id"`
	PublicID        string `db:"public_id"`
	Version         int    `db:"version"`
	Name            string `db:"name"`
	Description     string `db:"description"`
	Status          string `db:"status"`
	Fields          string `db:"fields"`
	MaxUploadBytes  int64  `db:"max_upload_bytes"`
	WebhookURL      string `db:"webhook_url"`
	WebhookOnSubmit bool   `db:"webhook_on_submit"`
	WebhookOnDelete bool   `db:"webhook_on_delete"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

const formColumns = `id, public_id, version, name, description, status, fields,
	max_upload_bytes, webhook_url, webhook_on_submit, webhook_on_delete,
	created_at, updated_at`

func (r formRow) toModel() (*model.Form, error) {
	fields, err := storage.DecodeFields([]byte(r.Fields))
	if err != nil {
		return nil, err
	}
	return &model.Form{
		ID:              r.ID,
		PublicID:        r.PublicID,
		Version:         r.Version,
		Name:            r.Name,
		Description:     r.Description,
		Status:          model.Status(r.Status),
		Fields:          fields,
		MaxUploadBytes:  r.MaxUploadBytes,
		WebhookURL:      r.WebhookURL,
		WebhookOnSubmit: r.WebhookOnSubmit,
		WebhookOnDelete: r.WebhookOnDelete,
		CreatedAt:       fromNanos(r.CreatedAt),
		UpdatedAt:       fromNanos(r.UpdatedAt),
	}, nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func (s *Store) CreateForm(ctx context.Context, form *model.Form) error {
	now, _, err := s.stamp.Stamp()
	if err != nil {
		return storage.Unavailable("db.insert_form.stamp", err)
	}
	if err := storage.InitForm(form, now); err != nil {
		return err
	}
	fields, err := storage.EncodeFields(form.Fields)
	if err != nil {
		return storage.Unavailable("db.insert_form.encode_fields", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO form (`+formColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		form.ID, form.PublicID, form.Version, form.Name, form.Description, string(form.Status), string(fields),
		form.MaxUploadBytes, form.WebhookURL, form.WebhookOnSubmit, form.WebhookOnDelete,
		toNanos(form.CreatedAt), toNanos(form.UpdatedAt),
	)
	if err != nil {
		return storage.Unavailable("db.insert_form", err)
	}
	log.Debugf("db.insert_form: %s (%s)", form.ID, form.Name)
	return nil
}

func (s *Store) UpdateForm(ctx context.Context, form *model.Form) error {
	if err := storage.CheckForm(form); err != nil {
		return err
	}
	fields, err := storage.EncodeFields(form.Fields)
	if err != nil {
		return storage.Unavailable("db.update_form.encode_fields", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storage.Unavailable("db.begin_tx", err)
	}
	defer tx.Rollback()

	// optimistic lock
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE form
		SET
			name = ?,
			description = ?,
			status = ?,
			fields = ?,
			max_upload_bytes = ?,
			webhook_url = ?,
			webhook_on_submit = ?,
			webhook_on_delete = ?,
			updated_at = ?,
			version = version+1
		WHERE id = ?
			AND version = ?`),
		form.Name, form.Description, string(form.Status), string(fields),
		form.MaxUploadBytes, form.WebhookURL, form.WebhookOnSubmit, form.WebhookOnDelete,
		toNanos(s.stamp.Now()),
		form.ID, form.Version,
	)
	if err != nil {
		return storage.Unavailable("db.update_form", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Unavailable("db.update_form.verify", err)
	}

	row := formRow{}
	err = tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+formColumns+` FROM form WHERE id = ?`), form.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return storage.FormNotFound("db.update_form", form.ID)
	case err != nil:
		return storage.Unavailable("db.update_form.reload", err)
	case n < 1:
		return storage.VersionConflict("db.update_form", form.ID, form.Version)
	}

	if err := tx.Commit(); err != nil {
		return storage.Unavailable("db.update_form.commit", err)
	}

	updated, err := row.toModel()
	if err != nil {
		return err
	}
	*form = *updated
	log.Debugf("db.update_form: %s now at version %d", form.ID, form.Version)
	return nil
}

func (s *Store) GetForm(ctx context.Context, id string) (*model.Form, error) {
	return s.getForm(ctx, "db.get_form", `SELECT `+formColumns+` FROM form WHERE id = ?`, id)
}

func (s *Store) GetFormByPublicID(ctx context.Context, publicID string) (*model.Form, error) {
	return s.getForm(ctx, "db.get_form_by_public_id", `SELECT `+formColumns+` FROM form WHERE public_id = ?`, publicID)
}

func (s *Store) getForm(ctx context.Context, op, q, key string) (*model.Form, error) {
	row := formRow{}
	err := s.db.GetContext(ctx, &row, s.db.Rebind(q), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.FormNotFound(op, key)
	}
	if err != nil {
		return nil, storage.Unavailable(op, err)
	}
	return row.toModel()
}

func (s *Store) ListForms(ctx context.Context) ([]model.Form, error) {
	rows := []formRow{}
	err := s.db.SelectContext(ctx, &rows, `SELECT `+formColumns+` FROM form ORDER BY created_at, id`)
	if err != nil {
		return nil, storage.Unavailable("db.get_forms", err)
	}

	forms := make([]model.Form, 0, len(rows))
	for _, r := range rows {
		f, err := r.toModel()
		if err != nil {
			return nil, err
		}
		forms = append(forms, *f)
	}
	return forms, nil
}

// DeleteForm cascades by hand inside one transaction; no foreign keys are
// relied upon.
func (s *Store) DeleteForm(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storage.Unavailable("db.begin_tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM form WHERE id = ?`), id)
	if err != nil {
		return storage.Unavailable("db.delete_form", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Unavailable("db.delete_form.verify", err)
	}
	if n < 1 {
		return storage.FormNotFound("db.delete_form", id)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM submission WHERE form_id = ?`), id)
	if err != nil {
		return storage.Unavailable("db.delete_form.submissions", err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM file WHERE form_id = ?`), id)
	if err != nil {
		return storage.Unavailable("db.delete_form.files", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Unavailable("db.delete_form.commit", err)
	}
	log.Debugf("db.delete_form: %s", id)
	return nil
}

type fileRow struct {
	ID           string `db:"id"`
	FormID       string `db:"form_id"`
	OriginalName string `db:"original_name"`
	ContentType  string `db:"content_type"`
	Size         int64  `db:"size"`
	CreatedAt    int64  `db:"created_at"`
}

func (s *Store) PutFile(ctx context.Context, meta *model.FileMeta) error {
	if err := storage.InitFile(meta, s.stamp.Now()); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO file (id, form_id, original_name, content_type, size, created_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM form WHERE id = ?)
		ON CONFLICT (id) DO UPDATE SET
			form_id = excluded.form_id,
			original_name = excluded.original_name,
			content_type = excluded.content_type,
			size = excluded.size,
			created_at = excluded.created_at`),
		meta.ID, meta.FormID, meta.OriginalName, meta.ContentType, meta.Size, toNanos(meta.CreatedAt),
		meta.FormID,
	)
	if err != nil {
		return storage.Unavailable("db.insert_file", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Unavailable("db.insert_file.verify", err)
	}
	if n < 1 {
		return storage.FormNotFound("db.insert_file", meta.FormID)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, id string) (*model.FileMeta, error) {
	row := fileRow{}
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, form_id, original_name, content_type, size, created_at
		FROM file WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.FileNotFound("db.get_file", id)
	}
	if err != nil {
		return nil, storage.Unavailable("db.get_file", err)
	}
	return &model.FileMeta{
		ID:           row.ID,
		FormID:       row.FormID,
		OriginalName: row.OriginalName,
		ContentType:  row.ContentType,
		Size:         row.Size,
		CreatedAt:    fromNanos(row.CreatedAt),
	}, nil
}
