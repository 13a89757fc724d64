package storage

import (
	"github.com/pkg/errors"

	"github.com/mbolis/quick-forms/model"
)

// Unavailable reports a backend I/O failure. The cause keeps its stack and
// stays reachable through errors.Is/As (context cancellation included).
func Unavailable(op string, err error) error {
	return model.Wrap(model.KindStorageUnavailable, op, errors.WithStack(err))
}

func FormNotFound(op, id string) error {
	return model.Errorf(model.KindFormNotFound, op, "form %s", id)
}

func SubmissionNotFound(op, id string) error {
	return model.Errorf(model.KindSubmissionNotFound, op, "submission %s", id)
}

func FileNotFound(op, id string) error {
	return model.Errorf(model.KindFileNotFound, op, "file %s", id)
}

func VersionConflict(op, id string, version int) error {
	return model.Errorf(model.KindVersionConflict, op, "form %s is not at version %d", id, version)
}
