package validate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/quick-forms/model"
)

func ptr[T any](v T) *T { return &v }

func mustForm(t *testing.T, fields ...model.FieldDef) *model.Form {
	t.Helper()
	form, err := model.NewForm("test", fields)
	require.NoError(t, err)
	return form
}

func kinds(errs []model.FieldError) []model.FieldErrorKind {
	out := make([]model.FieldErrorKind, len(errs))
	for i, e := range errs {
		out[i] = e.Kind
	}
	return out
}

func TestValidateNameAge(t *testing.T) {
	form := mustForm(t,
		model.FieldDef{Name: "name", Kind: model.FieldString, Required: true},
		model.FieldDef{Name: "age", Kind: model.FieldInteger, Min: ptr(0.0)},
	)

	res := Validate(form, map[string]any{"name": "Ann"})
	require.True(t, res.OK())
	assert.Equal(t, map[string]any{"name": "Ann"}, res.Values)
	assert.NoError(t, res.Err())

	res = Validate(form, map[string]any{"age": -1})
	require.False(t, res.OK())
	assert.Nil(t, res.Values)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "name", res.Errors[0].Field)
	assert.Equal(t, model.MissingRequired, res.Errors[0].Kind)
	assert.Equal(t, "age", res.Errors[1].Field)
	assert.Equal(t, model.OutOfRange, res.Errors[1].Kind)

	err := res.Err()
	assert.True(t, errors.Is(err, model.ErrValidationFailed))
}

func TestValidateArrayErrorsPerIndex(t *testing.T) {
	form := mustForm(t, model.FieldDef{Name: "tags", Kind: model.FieldArray, ItemKind: model.ItemString})

	res := Validate(form, map[string]any{"tags": []any{"a", 5, "c"}})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "tags", res.Errors[0].Field)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, model.InvalidType, res.Errors[0].Kind)
	assert.Nil(t, res.Values)

	res = Validate(form, map[string]any{"tags": []string{"a", "b"}})
	require.True(t, res.OK())
	assert.Equal(t, []any{"a", "b"}, res.Values["tags"])

	res = Validate(form, map[string]any{"tags": "a"})
	assert.Equal(t, []model.FieldErrorKind{model.InvalidType}, kinds(res.Errors))
	assert.Equal(t, -1, res.Errors[0].Index)
}

func TestValidateUnknownKeysDropped(t *testing.T) {
	form := mustForm(t, model.FieldDef{Name: "name", Kind: model.FieldString})

	res := Validate(form, map[string]any{"name": "x", "_ui_state": map[string]any{"open": true}})
	require.True(t, res.OK())
	assert.Equal(t, map[string]any{"name": "x"}, res.Values)
}

func TestValidateAccumulatesAllErrors(t *testing.T) {
	form := mustForm(t,
		model.FieldDef{Name: "a", Kind: model.FieldString, MaxLength: ptr(3)},
		model.FieldDef{Name: "b", Kind: model.FieldNumber, Max: ptr(10.0)},
		model.FieldDef{Name: "c", Kind: model.FieldBoolean},
		model.FieldDef{Name: "d", Kind: model.FieldEnum, Enum: []string{"x", "y"}},
		model.FieldDef{Name: "e", Kind: model.FieldInteger},
		model.FieldDef{Name: "f", Kind: model.FieldString, Required: true},
	)

	res := Validate(form, map[string]any{
		"a": "toolong",
		"b": 11,
		"c": "maybe",
		"d": "z",
		"e": 1.5,
	})
	assert.Equal(t, []model.FieldErrorKind{
		model.TooLong,
		model.OutOfRange,
		model.InvalidType,
		model.NotAllowed,
		model.NotInteger,
		model.MissingRequired,
	}, kinds(res.Errors))
}

func TestValidateNumbers(t *testing.T) {
	form := mustForm(t,
		model.FieldDef{Name: "n", Kind: model.FieldNumber},
		model.FieldDef{Name: "i", Kind: model.FieldInteger},
	)

	for _, in := range []any{3, int64(3), 3.0, float32(3), "3", " 3 ", json.Number("3"), []string{"3"}} {
		res := Validate(form, map[string]any{"n": in, "i": in})
		require.True(t, res.OK(), "input %#v: %v", in, res.Errors)
		assert.Equal(t, 3.0, res.Values["n"])
		assert.Equal(t, 3.0, res.Values["i"])
	}

	for _, in := range []any{"three", true, "NaN", "Inf", []any{1}} {
		res := Validate(form, map[string]any{"n": in})
		assert.Equal(t, []model.FieldErrorKind{model.InvalidType}, kinds(res.Errors), "input %#v", in)
	}
}

func TestValidateBooleanLiterals(t *testing.T) {
	form := mustForm(t, model.FieldDef{Name: "ok", Kind: model.FieldBoolean, Required: true})

	cases := map[any]bool{
		true: true, false: false,
		"true": true, "TRUE": true, "on": true, "1": true, "yes": true,
		"false": false, "off": false, "0": false, "No": false,
	}
	for in, want := range cases {
		res := Validate(form, map[string]any{"ok": in})
		require.True(t, res.OK(), "input %#v", in)
		assert.Equal(t, want, res.Values["ok"], "input %#v", in)
	}

	for _, in := range []any{"y", "t", 1, "checked"} {
		res := Validate(form, map[string]any{"ok": in})
		assert.Equal(t, []model.FieldErrorKind{model.InvalidType}, kinds(res.Errors), "input %#v", in)
	}
}

func TestValidateEmptyIsMissing(t *testing.T) {
	form := mustForm(t,
		model.FieldDef{Name: "req", Kind: model.FieldString, Required: true},
		model.FieldDef{Name: "opt", Kind: model.FieldString},
	)

	res := Validate(form, map[string]any{"req": "", "opt": nil})
	assert.Equal(t, []model.FieldErrorKind{model.MissingRequired}, kinds(res.Errors))

	res = Validate(form, map[string]any{"req": []string{"x"}, "opt": []string{""}})
	require.True(t, res.OK())
	assert.Equal(t, map[string]any{"req": "x"}, res.Values)
}

func TestValidateFormats(t *testing.T) {
	form := mustForm(t,
		model.FieldDef{Name: "mail", Kind: model.FieldString, Format: model.FormatEmail},
		model.FieldDef{Name: "site", Kind: model.FieldString, Format: model.FormatURL},
	)

	res := Validate(form, map[string]any{"mail": "ann@example.com", "site": "https://example.com/x"})
	assert.True(t, res.OK())

	res = Validate(form, map[string]any{"mail": "Ann <ann@example.com>", "site": "example"})
	assert.Equal(t, []model.FieldErrorKind{model.InvalidFormat, model.InvalidFormat}, kinds(res.Errors))
}

type fakeFiles map[string]*model.FileMeta

func (f fakeFiles) GetFile(_ context.Context, id string) (*model.FileMeta, error) {
	if m, ok := f[id]; ok {
		return m, nil
	}
	return nil, model.Errorf(model.KindFileNotFound, "files.get", "%s", id)
}

type brokenFiles struct{}

func (brokenFiles) GetFile(context.Context, string) (*model.FileMeta, error) {
	return nil, model.Wrap(model.KindStorageUnavailable, "files.get", errors.New("disk on fire"))
}

func TestValidateFiles(t *testing.T) {
	small := "018f2b7e-1c3a-7d2e-9a4b-0123456789ab"
	big := "018f2b7e-1c3a-7d2e-9a4b-0123456789ac"
	missing := "018f2b7e-1c3a-7d2e-9a4b-0123456789ad"
	files := fakeFiles{
		small: {ID: small, Size: 10},
		big:   {ID: big, Size: 5000},
	}
	form := mustForm(t,
		model.FieldDef{Name: "cv", Kind: model.FieldString, Format: model.FormatBinary},
		model.FieldDef{Name: "docs", Kind: model.FieldArray, ItemKind: model.ItemFile},
	)

	res := Validate(form, map[string]any{"cv": "not-an-id", "docs": []any{small, "x"}})
	require.Len(t, res.Errors, 2)
	assert.Equal(t, model.InvalidFileID, res.Errors[0].Kind)
	assert.Equal(t, model.InvalidFileID, res.Errors[1].Kind)
	assert.Equal(t, 1, res.Errors[1].Index)

	// no ceiling: ids are only checked for shape
	res = Validate(form, map[string]any{"cv": missing})
	require.True(t, res.OK())
	assert.Equal(t, missing, res.Values["cv"])

	v := &Validator{Files: files, MaxUploadBytes: 1024}
	res, err := v.Validate(context.Background(), form, map[string]any{"cv": small, "docs": []any{small, big, missing}})
	require.NoError(t, err)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, model.FieldError{Field: "docs", Index: 1, Kind: model.FileTooLarge, Message: res.Errors[0].Message}, res.Errors[0])
	assert.Equal(t, model.FileNotFound, res.Errors[1].Kind)
	assert.Equal(t, 2, res.Errors[1].Index)

	// the form ceiling overrides the global one
	form.MaxUploadBytes = 10000
	res, err = v.Validate(context.Background(), form, map[string]any{"docs": []any{big}})
	require.NoError(t, err)
	assert.True(t, res.OK())

	_, err = (&Validator{Files: brokenFiles{}, MaxUploadBytes: 1}).Validate(context.Background(), form, map[string]any{"cv": small})
	assert.True(t, errors.Is(err, model.ErrStorageUnavailable))
}

func TestValidatePresentFieldsOnly(t *testing.T) {
	form := mustForm(t,
		model.FieldDef{Name: "a", Kind: model.FieldString, Required: true},
		model.FieldDef{Name: "b", Kind: model.FieldBoolean},
		model.FieldDef{Name: "c", Kind: model.FieldArray, ItemKind: model.ItemInteger},
		model.FieldDef{Name: "d", Kind: model.FieldEnum, Enum: []string{"x"}},
	)

	in := map[string]any{"a": "v", "c": []any{1, 2.0, "3"}, "zzz": 1}
	res := Validate(form, in)
	require.True(t, res.OK())
	assert.Equal(t, map[string]any{"a": "v", "c": []any{1.0, 2.0, 3.0}}, res.Values)
}
