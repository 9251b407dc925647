// Package diff compares two payloads of the same record field by field.
//
// Comparison is done on canonical text (see payload.Canonical), so key
// order, Unicode composition and numeric spelling never produce spurious
// changes. An absent field and an explicit null are the same; the empty
// string is a value of its own.
//
// Rows are ordered changed-first, then by label under a locale collation
// (Japanese by default), then by field id.
package diff

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/roach88/recstore/internal/payload"
)

// FieldDiff is one row of a comparison.
type FieldDiff struct {
	Field   string        `json:"field"`
	Label   string        `json:"label"`
	Old     payload.Value `json:"old,omitempty"`
	New     payload.Value `json:"new,omitempty"`
	OldText string        `json:"old_text"`
	NewText string        `json:"new_text"`
	Changed bool          `json:"changed"`
}

// LabelFunc maps a field id to its display label. An empty result falls
// back to the field id.
type LabelFunc func(fieldID string) string

// DefaultCollation is the locale used to order labels.
var DefaultCollation = language.Japanese

type options struct {
	labels LabelFunc
	tag    language.Tag
}

// Option configures Compare.
type Option func(*options)

// WithLabels sets the label source.
func WithLabels(fn LabelFunc) Option {
	return func(o *options) { o.labels = fn }
}

// WithCollation sets the locale used to order labels.
func WithCollation(tag language.Tag) Option {
	return func(o *options) { o.tag = tag }
}

// Compare diffs two payloads over the union of their field ids.
// Compare is pure: the inputs are not modified.
func Compare(before, after payload.Object, opts ...Option) []FieldDiff {
	o := options{tag: DefaultCollation}
	for _, opt := range opts {
		opt(&o)
	}

	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	out := make([]FieldDiff, 0, len(keys))
	for k := range keys {
		ov, nv := before[k], after[k]
		label := k
		if o.labels != nil {
			if l := o.labels(k); l != "" {
				label = l
			}
		}
		out = append(out, FieldDiff{
			Field:   k,
			Label:   label,
			Old:     ov,
			New:     nv,
			OldText: payload.Text(ov),
			NewText: payload.Text(nv),
			Changed: !payload.Equal(ov, nv),
		})
	}

	// collate.Collator is not safe for concurrent use.
	col := collate.New(o.tag)
	slices.SortFunc(out, func(a, b FieldDiff) int {
		if a.Changed != b.Changed {
			if a.Changed {
				return -1
			}
			return 1
		}
		if c := col.CompareString(a.Label, b.Label); c != 0 {
			return c
		}
		return strings.Compare(a.Field, b.Field)
	})
	return out
}

// Stats counts the rows of a comparison.
type Stats struct {
	Changed int `json:"changed"`
	Total   int `json:"total"`
}

// Summary counts changed and total rows.
func Summary(diffs []FieldDiff) Stats {
	s := Stats{Total: len(diffs)}
	for _, d := range diffs {
		if d.Changed {
			s.Changed++
		}
	}
	return s
}

// ChangedOnly returns the changed rows, preserving order.
func ChangedOnly(diffs []FieldDiff) []FieldDiff {
	out := []FieldDiff{}
	for _, d := range diffs {
		if d.Changed {
			out = append(out, d)
		}
	}
	return out
}
