// Package docstore implements storage.Store on a single JSON document file.
//
// Readers work on an immutable in-memory snapshot and never take the file
// lock. Writers serialize on a process-local semaphore plus an exclusive
// lock file, so several processes may share one document. Each write bumps
// the document generation and replaces the file atomically.
package docstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/goccy/go-json"
	"github.com/google/renameio/v2"

	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/storage"
)

const (
	defaultRetries = 3
	lockRetryDelay = 10 * time.Millisecond
)

type Store struct {
	path    string
	lock    *flock.Flock
	writers chan struct{}
	stamp   *model.Stamper
	retries int

	snapMu sync.RWMutex
	snap   *document
	sig    fileSig
}

var _ storage.Store = (*Store)(nil)

type Option func(*Store)

// WithClock replaces the wall clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.stamp.Clock = clock }
}

// WithRetries sets how many times a write is attempted when another process
// keeps advancing the document underneath it.
func WithRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retries = n
		}
	}
}

// Open loads the document at path, creating its directory if needed. A
// missing file is an empty document; it is written on the first change.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storage.Unavailable("doc.open", err)
	}
	s := &Store{
		path:    path,
		lock:    flock.New(path + ".lock"),
		writers: make(chan struct{}, 1),
		stamp:   &model.Stamper{},
		retries: defaultRetries,
	}
	for _, opt := range opts {
		opt(s)
	}

	doc, sig, err := s.load()
	if err != nil {
		return nil, err
	}
	s.publish(doc, sig)
	log.Debugf("doc.open: %s at generation %d", path, doc.Generation)
	return s, nil
}

func (s *Store) Close() error {
	return s.lock.Close()
}

func (s *Store) load() (*document, fileSig, error) {
	sig, err := statSig(s.path)
	if err != nil {
		return nil, fileSig{}, storage.Unavailable("doc.load.stat", err)
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return emptyDocument(), fileSig{}, nil
	}
	if err != nil {
		return nil, fileSig{}, storage.Unavailable("doc.load", err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fileSig{}, err
	}
	return doc, sig, nil
}

func (s *Store) current() (*document, fileSig) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap, s.sig
}

// publish installs doc as the snapshot unless a newer one is already there.
func (s *Store) publish(doc *document, sig fileSig) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if s.snap != nil && s.snap.Generation > doc.Generation {
		return
	}
	s.snap, s.sig = doc, sig
}

// snapshot returns the document readers should see, reloading it first when
// another process has replaced the file with a newer generation.
func (s *Store) snapshot(ctx context.Context, op string) (*document, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Unavailable(op, err)
	}
	doc, sig := s.current()
	disk, err := statSig(s.path)
	if err != nil {
		return nil, storage.Unavailable(op, err)
	}
	if disk.same(sig) {
		return doc, nil
	}

	fresh, freshSig, err := s.load()
	if err != nil {
		return nil, err
	}
	if fresh.Generation > doc.Generation {
		log.Debugf("%s: reloaded %s at generation %d", op, s.path, fresh.Generation)
		s.publish(fresh, freshSig)
		return fresh, nil
	}
	return doc, nil
}

// mutate applies fn to a private copy of the latest document and persists
// the result. Errors returned by fn abort the write unchanged.
func (s *Store) mutate(ctx context.Context, op string, fn func(doc *document) error) error {
	if err := ctx.Err(); err != nil {
		return storage.Unavailable(op, err)
	}
	select {
	case s.writers <- struct{}{}:
	case <-ctx.Done():
		return storage.Unavailable(op, ctx.Err())
	}
	defer func() { <-s.writers }()

	if _, err := s.lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return storage.Unavailable(op+".lock", err)
	}
	defer s.lock.Unlock()

	for attempt := 1; attempt <= s.retries; attempt++ {
		base, baseSig := s.current()
		disk, err := statSig(s.path)
		if err != nil {
			return storage.Unavailable(op, err)
		}
		if !disk.same(baseSig) {
			fresh, freshSig, err := s.load()
			if err != nil {
				return err
			}
			if fresh.Generation != base.Generation {
				log.Debugf("%s: %s, document moved from generation %d to %d", op, model.KindConcurrentWriteConflict, base.Generation, fresh.Generation)
			}
			base, baseSig = fresh, freshSig
			s.publish(base, baseSig)
		}

		next := base.clone()
		if err := fn(next); err != nil {
			return err
		}
		next.Generation = base.Generation + 1

		// the lock file only binds cooperating writers; make sure nobody
		// replaced the document while fn ran
		disk, err = statSig(s.path)
		if err != nil {
			return storage.Unavailable(op, err)
		}
		if !disk.same(baseSig) {
			log.Warnf("%s: %s on attempt %d", op, model.KindConcurrentWriteConflict, attempt)
			continue
		}

		sig, err := s.write(next)
		if err != nil {
			return storage.Unavailable(op+".write", err)
		}
		s.publish(next, sig)
		return nil
	}

	conflict := model.Errorf(model.KindConcurrentWriteConflict, op, "document kept changing after %d attempts", s.retries)
	return storage.Unavailable(op, conflict)
}

func (s *Store) write(doc *document) (fileSig, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return fileSig{}, err
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fileSig{}, err
	}
	return statSig(s.path)
}

func (s *Store) CreateForm(ctx context.Context, form *model.Form) error {
	err := s.mutate(ctx, "doc.insert_form", func(doc *document) error {
		now, _, err := s.stamp.Stamp()
		if err != nil {
			return storage.Unavailable("doc.insert_form.stamp", err)
		}
		if err := storage.InitForm(form, now); err != nil {
			return err
		}
		doc.Forms = append(doc.Forms, *cloneForm(form))
		return nil
	})
	if err != nil {
		return err
	}
	log.Debugf("doc.insert_form: %s (%s)", form.ID, form.Name)
	return nil
}

func (s *Store) UpdateForm(ctx context.Context, form *model.Form) error {
	if err := storage.CheckForm(form); err != nil {
		return err
	}

	var updated model.Form
	err := s.mutate(ctx, "doc.update_form", func(doc *document) error {
		i := doc.formIndex(form.ID)
		if i < 0 {
			return storage.FormNotFound("doc.update_form", form.ID)
		}
		stored := doc.Forms[i]
		if stored.Version != form.Version {
			return storage.VersionConflict("doc.update_form", form.ID, form.Version)
		}

		updated = *cloneForm(form)
		updated.PublicID = stored.PublicID
		updated.CreatedAt = stored.CreatedAt
		updated.Version = stored.Version + 1
		updated.UpdatedAt = s.stamp.Now()
		doc.Forms[i] = updated
		return nil
	})
	if err != nil {
		return err
	}

	*form = *cloneForm(&updated)
	log.Debugf("doc.update_form: %s now at version %d", form.ID, form.Version)
	return nil
}

func (s *Store) GetForm(ctx context.Context, id string) (*model.Form, error) {
	doc, err := s.snapshot(ctx, "doc.get_form")
	if err != nil {
		return nil, err
	}
	if i := doc.formIndex(id); i >= 0 {
		return cloneForm(&doc.Forms[i]), nil
	}
	return nil, storage.FormNotFound("doc.get_form", id)
}

func (s *Store) GetFormByPublicID(ctx context.Context, publicID string) (*model.Form, error) {
	doc, err := s.snapshot(ctx, "doc.get_form_by_public_id")
	if err != nil {
		return nil, err
	}
	for i := range doc.Forms {
		if doc.Forms[i].PublicID == publicID {
			return cloneForm(&doc.Forms[i]), nil
		}
	}
	return nil, storage.FormNotFound("doc.get_form_by_public_id", publicID)
}

func (s *Store) ListForms(ctx context.Context) ([]model.Form, error) {
	doc, err := s.snapshot(ctx, "doc.get_forms")
	if err != nil {
		return nil, err
	}
	forms := make([]model.Form, 0, len(doc.Forms))
	for i := range doc.Forms {
		forms = append(forms, *cloneForm(&doc.Forms[i]))
	}
	sort.SliceStable(forms, func(i, j int) bool {
		if !forms[i].CreatedAt.Equal(forms[j].CreatedAt) {
			return forms[i].CreatedAt.Before(forms[j].CreatedAt)
		}
		return forms[i].ID < forms[j].ID
	})
	return forms, nil
}

func (s *Store) DeleteForm(ctx context.Context, id string) error {
	err := s.mutate(ctx, "doc.delete_form", func(doc *document) error {
		i := doc.formIndex(id)
		if i < 0 {
			return storage.FormNotFound("doc.delete_form", id)
		}
		doc.Forms = append(doc.Forms[:i:i], doc.Forms[i+1:]...)

		subs := make([]model.Submission, 0, len(doc.Submissions))
		for _, sub := range doc.Submissions {
			if sub.FormID != id {
				subs = append(subs, sub)
			}
		}
		doc.Submissions = subs

		files := make([]model.FileMeta, 0, len(doc.Files))
		for _, f := range doc.Files {
			if f.FormID != id {
				files = append(files, f)
			}
		}
		doc.Files = files
		return nil
	})
	if err != nil {
		return err
	}
	log.Debugf("doc.delete_form: %s", id)
	return nil
}

func (s *Store) PutFile(ctx context.Context, meta *model.FileMeta) error {
	if err := storage.InitFile(meta, s.stamp.Now()); err != nil {
		return err
	}
	return s.mutate(ctx, "doc.insert_file", func(doc *document) error {
		if doc.formIndex(meta.FormID) < 0 {
			return storage.FormNotFound("doc.insert_file", meta.FormID)
		}
		for i := range doc.Files {
			if doc.Files[i].ID == meta.ID {
				doc.Files[i] = *meta
				return nil
			}
		}
		doc.Files = append(doc.Files, *meta)
		return nil
	})
}

func (s *Store) GetFile(ctx context.Context, id string) (*model.FileMeta, error) {
	doc, err := s.snapshot(ctx, "doc.get_file")
	if err != nil {
		return nil, err
	}
	for i := range doc.Files {
		if doc.Files[i].ID == id {
			meta := doc.Files[i]
			return &meta, nil
		}
	}
	return nil, storage.FileNotFound("doc.get_file", id)
}
