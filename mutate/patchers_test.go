package mutate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamfactorysoftware/df-admin-data/resource"
)

func TestTempIDsAreNegativeAndUnique(t *testing.T) {
	a, b := TempID(), TempID()
	assert.True(t, IsTempID(a))
	assert.True(t, IsTempID(b))
	assert.NotEqual(t, a, b)
	assert.False(t, IsTempID(42))
}

func TestMergeRecordOnSingleRecord(t *testing.T) {
	orig := &resource.Service{ID: 3, Name: "db", Label: "old"}

	patched := MergeRecord(3, func(r resource.Record) {
		r.(*resource.Service).Label = "new"
	})(resource.Record(orig))

	got, ok := patched.(resource.Record)
	require.True(t, ok)
	assert.Equal(t, "new", got.(*resource.Service).Label)
	assert.Equal(t, "old", orig.Label, "patch must not mutate its input")
}

func TestReplaceRecordInPage(t *testing.T) {
	page := resource.Page{
		Records: []resource.Record{
			&resource.Service{ID: 1, Name: "a"},
			&resource.Service{ID: 2, Name: "b"},
		},
		Total: 2,
	}
	repl := &resource.Service{ID: 2, Name: "b", Label: "replaced"}

	patched := ReplaceRecord(repl)(page).(resource.Page)

	assert.Equal(t, "replaced", patched.Records[1].(*resource.Service).Label)
	assert.Empty(t, page.Records[1].(*resource.Service).Label, "patch must not mutate its input")
}

func TestPatchersPassThroughForeignData(t *testing.T) {
	assert.Equal(t, "x", PrependRecord(&resource.Service{})("x"))
	assert.Equal(t, "x", RemoveRecord(1)("x"))
	assert.Equal(t, "x", ReplaceRecord(&resource.Service{ID: 1})("x"))
	assert.Equal(t, "x", ReplaceTempID(-1, 1)("x"))
}
