package diff

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/roach88/recstore/internal/payload"
)

var complaintLabels = map[string]string{
	"title":  "タイトル",
	"status": "ステータス",
	"qty":    "数量",
	"memo":   "Memo",
	"tags":   "タグ",
	"due":    "期限",
}

func labelOf(id string) string { return complaintLabels[id] }

func v1() payload.Object {
	return payload.MustObject(map[string]any{
		"title":  "ポンプ不具合",
		"status": "受付中",
		"qty":    payload.Number("1"),
		"memo":   nil,
		"tags":   []any{"a", "b"},
	})
}

func v2() payload.Object {
	return payload.MustObject(map[string]any{
		"title":  "ポンプ不具合",
		"status": "完了",
		"qty":    payload.Number("1.0"),
		"tags":   []any{"b", "a"},
		"due":    "2025-02-01",
	})
}

func byField(diffs []FieldDiff) map[string]FieldDiff {
	m := make(map[string]FieldDiff, len(diffs))
	for _, d := range diffs {
		m[d.Field] = d
	}
	return m
}

func TestCompare_SelfDiffHasNoChanges(t *testing.T) {
	for _, p := range []payload.Object{v1(), v2(), {}} {
		diffs := Compare(p, p)
		assert.Equal(t, Stats{Changed: 0, Total: len(p)}, Summary(diffs))
	}
}

func TestCompare_Antisymmetric(t *testing.T) {
	forward := byField(Compare(v1(), v2()))
	backward := byField(Compare(v2(), v1()))

	require.Len(t, backward, len(forward))
	for field, f := range forward {
		b := backward[field]
		assert.Equal(t, f.Changed, b.Changed, field)
		assert.Equal(t, f.OldText, b.NewText, field)
		assert.Equal(t, f.NewText, b.OldText, field)
	}
}

func TestCompare_FieldSemantics(t *testing.T) {
	diffs := byField(Compare(v1(), v2()))

	assert.True(t, diffs["status"].Changed)
	assert.Equal(t, "受付中", diffs["status"].OldText)
	assert.Equal(t, "完了", diffs["status"].NewText)

	assert.False(t, diffs["qty"].Changed, "1 and 1.0 are the same number")
	assert.False(t, diffs["memo"].Changed, "null and absent are the same")
	assert.True(t, diffs["tags"].Changed, "array order matters")

	added := diffs["due"]
	assert.True(t, added.Changed)
	assert.Nil(t, added.Old)
	assert.Equal(t, "", added.OldText)
	assert.Equal(t, "2025-02-01", added.NewText)
}

func TestCompare_EmptyStringIsNotNull(t *testing.T) {
	before := payload.MustObject(map[string]any{"note": nil})
	after := payload.MustObject(map[string]any{"note": ""})

	diffs := Compare(before, after)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].Changed)
	assert.Equal(t, "", diffs[0].OldText)
	assert.Equal(t, "", diffs[0].NewText)
}

func TestCompare_DefaultLabelIsFieldID(t *testing.T) {
	diffs := Compare(payload.MustObject(map[string]any{"b": 1, "a": 1}), payload.Object{})

	require.Len(t, diffs, 2)
	assert.Equal(t, "a", diffs[0].Label)
	assert.Equal(t, "b", diffs[1].Label)
}

func TestCompare_OrderChangedFirstThenLabel(t *testing.T) {
	diffs := Compare(v1(), v2(), WithLabels(labelOf), WithCollation(language.Japanese))

	var fields []string
	for _, d := range diffs {
		fields = append(fields, d.Field)
	}
	assert.Equal(t, []string{"status", "tags", "due", "memo", "title", "qty"}, fields)
}

func TestCompare_TiesBrokenByFieldID(t *testing.T) {
	same := func(string) string { return "同じ" }
	diffs := Compare(payload.Object{}, payload.MustObject(map[string]any{"z": 1, "m": 1, "a": 1}), WithLabels(same))

	require.Len(t, diffs, 3)
	assert.Equal(t, "a", diffs[0].Field)
	assert.Equal(t, "m", diffs[1].Field)
	assert.Equal(t, "z", diffs[2].Field)
}

func TestChangedOnly(t *testing.T) {
	diffs := ChangedOnly(Compare(v1(), v2()))
	assert.Len(t, diffs, 3)
	for _, d := range diffs {
		assert.True(t, d.Changed)
	}
	assert.NotNil(t, ChangedOnly(nil))
}

func TestCompare_Golden(t *testing.T) {
	diffs := Compare(v1(), v2(), WithLabels(labelOf))

	rows := make([]any, len(diffs))
	for i, d := range diffs {
		row := map[string]any{
			"field":    d.Field,
			"label":    d.Label,
			"old_text": d.OldText,
			"new_text": d.NewText,
			"changed":  d.Changed,
		}
		if d.Old != nil {
			row["old"] = d.Old
		}
		if d.New != nil {
			row["new"] = d.New
		}
		rows[i] = row
	}
	v, err := payload.FromAny(rows)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "complaint_v1_v2", []byte(payload.Canonical(v)))
}
