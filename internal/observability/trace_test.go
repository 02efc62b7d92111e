package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceRingQueryFiltersByFunctionAndLanguage(t *testing.T) {
	r := NewTraceRing(8)
	r.Record(Trace{FunctionName: "add", SourceLanguage: "py", TargetLanguage: "py"})
	r.Record(Trace{FunctionName: "add", SourceLanguage: "js", TargetLanguage: "js"})
	r.Record(Trace{FunctionName: "sub", SourceLanguage: "py", TargetLanguage: "py"})

	add := r.Query("add", "")
	assert.Len(t, add, 2)

	py := r.Query("", "py")
	assert.Len(t, py, 2)

	addPy := r.Query("add", "py")
	require.Len(t, addPy, 1)
	assert.Equal(t, "add", addPy[0].FunctionName)
}

func TestTraceRingEvictsOldestOnOverflow(t *testing.T) {
	r := NewTraceRing(2)
	r.Record(Trace{FunctionName: "first"})
	r.Record(Trace{FunctionName: "second"})
	r.Record(Trace{FunctionName: "third"})

	assert.Equal(t, 2, r.Len())
	all := r.Query("", "")
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].FunctionName)
	assert.Equal(t, "third", all[1].FunctionName)
}

func TestTraceRingAssignsIncreasingSequenceNumbers(t *testing.T) {
	r := NewTraceRing(8)
	a := r.Record(Trace{FunctionName: "a"})
	b := r.Record(Trace{FunctionName: "b"})
	assert.Less(t, a.Sequence, b.Sequence)
}
