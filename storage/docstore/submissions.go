package docstore

import (
	"context"
	"sort"

	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/query"
	"github.com/mbolis/quick-forms/storage"
)

func (s *Store) InsertSubmission(ctx context.Context, formID string, values map[string]any) (*model.Submission, error) {
	normalized, err := storage.NormalizeValues(values)
	if err != nil {
		return nil, err
	}

	var sub model.Submission
	err = s.mutate(ctx, "doc.insert_submission", func(doc *document) error {
		i := doc.formIndex(formID)
		if i < 0 {
			return storage.FormNotFound("doc.insert_submission", formID)
		}
		if err := storage.CheckValues("doc.insert_submission", &doc.Forms[i], normalized); err != nil {
			return err
		}
		createdAt, id, err := s.stamp.Stamp()
		if err != nil {
			return storage.Unavailable("doc.insert_submission.stamp", err)
		}
		sub = model.Submission{ID: id, FormID: formID, CreatedAt: createdAt, Values: normalized}
		doc.Submissions = append(doc.Submissions, sub)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("doc.insert_submission: %s for form %s", sub.ID, formID)
	return cloneSubmission(&sub), nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	doc, err := s.snapshot(ctx, "doc.get_submission")
	if err != nil {
		return nil, err
	}
	for i := range doc.Submissions {
		if doc.Submissions[i].ID == id {
			return cloneSubmission(&doc.Submissions[i]), nil
		}
	}
	return nil, storage.SubmissionNotFound("doc.get_submission", id)
}

func (s *Store) DeleteSubmission(ctx context.Context, id string) error {
	err := s.mutate(ctx, "doc.delete_submission", func(doc *document) error {
		for i := range doc.Submissions {
			if doc.Submissions[i].ID == id {
				doc.Submissions = append(doc.Submissions[:i:i], doc.Submissions[i+1:]...)
				return nil
			}
		}
		return storage.SubmissionNotFound("doc.delete_submission", id)
	})
	if err != nil {
		return err
	}
	log.Debugf("doc.delete_submission: %s", id)
	return nil
}

func (s *Store) QuerySubmissions(ctx context.Context, formID string, q *query.Query) ([]model.Submission, bool, error) {
	matches, err := s.matching(ctx, "doc.get_submissions", formID, q, true)
	if err != nil {
		return nil, false, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return q.Less(matches[i], matches[j])
	})

	limit := q.PageSize()
	more := len(matches) > limit
	if more {
		matches = matches[:limit]
	}
	page := make([]model.Submission, len(matches))
	for i, m := range matches {
		page[i] = *cloneSubmission(m)
	}
	return page, more, nil
}

func (s *Store) CountSubmissions(ctx context.Context, formID string, q *query.Query) (int, error) {
	matches, err := s.matching(ctx, "doc.count_submissions", formID, q, false)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// matching collects the submissions of a form satisfying q, optionally only
// those past its cursor. The returned pointers alias the snapshot.
func (s *Store) matching(ctx context.Context, op, formID string, q *query.Query, paged bool) ([]*model.Submission, error) {
	doc, err := s.snapshot(ctx, op)
	if err != nil {
		return nil, err
	}
	if doc.formIndex(formID) < 0 {
		return nil, storage.FormNotFound(op, formID)
	}

	var out []*model.Submission
	for i := range doc.Submissions {
		sub := &doc.Submissions[i]
		if sub.FormID != formID || !q.Match(sub) {
			continue
		}
		if paged && !q.After(sub) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}
