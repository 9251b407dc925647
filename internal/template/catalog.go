// Package template loads template definitions for field labels.
//
// Definitions are read from a directory of .cue and .json files, each
// holding one template:
//
//	{
//	  "template_id": "complaint_record_v1",
//	  "template_name": "苦情記録",
//	  "fields": [{"id": "status", "label": "ステータス", "type": "select"}]
//	}
//
// Every file is compiled with CUE and unified with the schema in
// schema.cue, so malformed definitions are reported with their position.
// The store only needs labels; layout and validation rules are ignored.
package template

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// Field is one field of a template.
type Field struct {
	ID             string   `json:"id"`
	Label          string   `json:"label"`
	Type           string   `json:"type"`
	Required       bool     `json:"required,omitempty"`
	Options        []string `json:"options,omitempty"`
	Group          string   `json:"group,omitempty"`
	TargetTemplate string   `json:"target_template,omitempty"`
}

// Template is one template definition.
type Template struct {
	ID            string   `json:"template_id"`
	Name          string   `json:"template_name,omitempty"`
	Category      string   `json:"category,omitempty"`
	Version       string   `json:"version,omitempty"`
	RegulationRef []string `json:"regulation_ref,omitempty"`
	Fields        []Field  `json:"fields"`
}

// Label returns the label of a field, or "" if the field is unknown or
// unlabeled.
func (t *Template) Label(fieldID string) string {
	for _, f := range t.Fields {
		if f.ID == fieldID {
			return f.Label
		}
	}
	return ""
}

// Catalog holds the loaded templates keyed by id. A nil *Catalog is valid
// and empty.
type Catalog struct {
	templates map[string]*Template
	sources   map[string]string
}

// LoadDir compiles every .cue and .json file directly under dir. A missing
// directory yields an empty catalog.
func LoadDir(dir string) (*Catalog, error) {
	c := &Catalog{
		templates: make(map[string]*Template),
		sources:   make(map[string]string),
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Template"))

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".cue" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", e.Name(), err)
		}

		t, err := compile(ctx, def, path, src)
		if err != nil {
			return nil, err
		}
		if prev, dup := c.sources[t.ID]; dup {
			return nil, fmt.Errorf("template %q defined in both %s and %s", t.ID, filepath.Base(prev), e.Name())
		}
		c.templates[t.ID] = t
		c.sources[t.ID] = path
	}
	return c, nil
}

func compile(ctx *cue.Context, def cue.Value, path string, src []byte) (*Template, error) {
	v := ctx.CompileBytes(src, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile template %s: %w", filepath.Base(path), err)
	}

	v = def.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid template %s: %w", filepath.Base(path), err)
	}

	var t Template
	if err := v.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode template %s: %w", filepath.Base(path), err)
	}
	return &t, nil
}

// Get returns a template by id.
func (c *Catalog) Get(templateID string) (*Template, bool) {
	if c == nil {
		return nil, false
	}
	t, ok := c.templates[templateID]
	return t, ok
}

// IDs returns the loaded template ids, sorted.
func (c *Catalog) IDs() []string {
	if c == nil {
		return []string{}
	}
	ids := make([]string, 0, len(c.templates))
	for id := range c.templates {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Label returns the label of a template field, or "" if unknown.
func (c *Catalog) Label(templateID, fieldID string) string {
	t, ok := c.Get(templateID)
	if !ok {
		return ""
	}
	return t.Label(fieldID)
}

// LabelFunc binds Label to one template.
func (c *Catalog) LabelFunc(templateID string) func(fieldID string) string {
	return func(fieldID string) string {
		return c.Label(templateID, fieldID)
	}
}
