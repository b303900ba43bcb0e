package sample

import (
	"testing"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func testSchema() *attrs.Schema {
	s := attrs.NewSchema()
	s.Register(attrs.Field{Scope: attrs.SampleScope, Name: "batch", Type: cty.String, Default: cty.NullVal(cty.String)})
	s.Register(attrs.Field{Scope: attrs.CollectionScope, Name: "run_id", Type: cty.String, Default: cty.StringVal("")})
	return s
}

func TestFailIsMonotonic(t *testing.T) {
	s := New("s1", nil, testSchema())
	s.Fail("boom")
	s.MarkDone()
	assert.Equal(t, Failed, s.State())
	assert.Equal(t, "boom", s.FailReason())

	s.Fail("second reason")
	assert.Equal(t, "boom", s.FailReason())
}

func TestMarkDoneOnPendingCompletes(t *testing.T) {
	s := New("s1", nil, testSchema())
	s.MarkDone()
	assert.Equal(t, Complete, s.State())
}

func TestCloneIsIndependent(t *testing.T) {
	schema := testSchema()
	s := New("s1", []string{"a.fastq"}, schema)
	require.NoError(t, s.Attrs.Set("batch", cty.StringVal("B1")))

	clone := s.Clone()
	require.NoError(t, clone.Attrs.Set("batch", cty.StringVal("B2")))

	assert.Equal(t, cty.StringVal("B1"), s.Attrs.Get("batch"))
	assert.Equal(t, cty.StringVal("B2"), clone.Attrs.Get("batch"))
}

func TestSplitBucketsByAttributeWithUnknownFallback(t *testing.T) {
	schema := testSchema()
	s1 := New("s1", nil, schema)
	require.NoError(t, s1.Attrs.Set("batch", cty.StringVal("A")))
	s2 := New("s2", nil, schema)
	require.NoError(t, s2.Attrs.Set("batch", cty.StringVal("B")))
	s3 := New("s3", nil, schema)

	c := NewCollection("run", []*Sample{s1, s2, s3}, schema)
	shards := Split(c, "batch", schema)

	require.Len(t, shards, 3)
	tags := []string{shards[0].Tag, shards[1].Tag, shards[2].Tag}
	assert.Equal(t, []string{"run.A", "run.B", "run.unknown"}, tags)
	assert.Len(t, shards[2].Samples, 1)
	assert.Equal(t, "s3", shards[2].Samples[0].ID)
}

func TestCollectionCompleteAndFailedFilter(t *testing.T) {
	schema := testSchema()
	s1 := New("s1", nil, schema)
	s1.MarkDone()
	s2 := New("s2", nil, schema)
	s2.Fail("bad input")
	s3 := New("s3", nil, schema)

	c := NewCollection("run", []*Sample{s1, s2, s3}, schema)
	assert.Len(t, c.Complete(), 1)
	assert.Len(t, c.Failed(), 1)
}

func TestRecordRoundTrip(t *testing.T) {
	schema := testSchema()
	s := New("s1", []string{"a.fastq"}, schema)
	require.NoError(t, s.Attrs.Set("batch", cty.StringVal("A")))
	s.MarkDone()

	restored, err := FromRecord(s.ToRecord(), schema)
	require.NoError(t, err)
	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, s.State(), restored.State())
	assert.Equal(t, s.Attrs.Get("batch"), restored.Attrs.Get("batch"))
}

func TestCollectionRecordRoundTrip(t *testing.T) {
	schema := testSchema()
	s1 := New("s1", nil, schema)
	c := NewCollection("run", []*Sample{s1}, schema)
	require.NoError(t, c.Attrs.Set("run_id", cty.StringVal("RUN42")))

	restored, err := CollectionFromRecord(c.ToRecord(), schema)
	require.NoError(t, err)
	assert.Equal(t, c.Tag, restored.Tag)
	assert.Len(t, restored.Samples, 1)
	assert.Equal(t, cty.StringVal("RUN42"), restored.Attrs.Get("run_id"))
}
