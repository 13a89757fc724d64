package docstore

import (
	"errors"
	"io/fs"
	"os"

	"github.com/goccy/go-json"

	"github.com/mbolis/quick-forms/model"
)

const documentFormat = 1

// document is the whole persisted state. A published document is never
// modified; writers clone it, mutate the clone and publish that.
type document struct {
	Format      int                `json:"format"`
	Generation  uint64             `json:"generation"`
	Forms       []model.Form       `json:"forms"`
	Submissions []model.Submission `json:"submissions"`
	Files       []model.FileMeta   `json:"files"`
}

func emptyDocument() *document {
	return &document{Format: documentFormat}
}

func (d *document) clone() *document {
	cp := *d
	cp.Forms = append([]model.Form(nil), d.Forms...)
	cp.Submissions = append([]model.Submission(nil), d.Submissions...)
	cp.Files = append([]model.FileMeta(nil), d.Files...)
	return &cp
}

func (d *document) formIndex(id string) int {
	for i := range d.Forms {
		if d.Forms[i].ID == id {
			return i
		}
	}
	return -1
}

func decodeDocument(data []byte) (*document, error) {
	doc := emptyDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, model.Wrap(model.KindDataIntegrity, "doc.decode", err)
	}
	if doc.Format > documentFormat {
		return nil, model.Errorf(model.KindDataIntegrity, "doc.decode", "unsupported document format %d", doc.Format)
	}
	doc.Format = documentFormat
	return doc, nil
}

// fileSig identifies one version of the document file on disk. Every write
// renames a fresh file into place, so a changed signature means another
// writer may have advanced the generation.
type fileSig struct {
	info os.FileInfo
}

func statSig(path string) (fileSig, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileSig{}, nil
	}
	if err != nil {
		return fileSig{}, err
	}
	return fileSig{info}, nil
}

func (a fileSig) same(b fileSig) bool {
	if a.info == nil || b.info == nil {
		return a.info == nil && b.info == nil
	}
	return os.SameFile(a.info, b.info) &&
		a.info.Size() == b.info.Size() &&
		a.info.ModTime().Equal(b.info.ModTime())
}

func cloneForm(f *model.Form) *model.Form {
	cp := *f
	cp.Fields = make([]model.FieldDef, len(f.Fields))
	for i, fd := range f.Fields {
		if fd.MaxLength != nil {
			n := *fd.MaxLength
			fd.MaxLength = &n
		}
		if fd.Min != nil {
			n := *fd.Min
			fd.Min = &n
		}
		if fd.Max != nil {
			n := *fd.Max
			fd.Max = &n
		}
		fd.Enum = append([]string(nil), fd.Enum...)
		cp.Fields[i] = fd
	}
	return &cp
}

func cloneSubmission(s *model.Submission) *model.Submission {
	cp := *s
	cp.Values = make(map[string]any, len(s.Values))
	for k, v := range s.Values {
		if items, ok := v.([]any); ok {
			v = append([]any(nil), items...)
		}
		cp.Values[k] = v
	}
	return &cp
}
