package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func schemaWithBatch() *attrs.Schema {
	s := attrs.NewSchema()
	s.Register(attrs.Field{Scope: attrs.SampleScope, Name: "batch", Type: cty.String, Default: cty.NullVal(cty.String)})
	s.Register(attrs.Field{Scope: attrs.SampleScope, Name: "priority", Type: cty.Number, Default: cty.NumberIntVal(0)})
	return s
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "samples.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPopsIDAndFilesLeavingAttributes(t *testing.T) {
	path := writeManifest(t, `
- id: a
  files: [a_R1.fastq.gz, a_R2.fastq.gz]
  batch: x
  priority: 3
- id: b
  files: [b.fastq.gz]
  batch: y
`)
	c, err := Load(path, "run", schemaWithBatch())
	require.NoError(t, err)
	require.Len(t, c.Samples, 2)

	assert.Equal(t, "a", c.Samples[0].ID)
	assert.Equal(t, []string{"a_R1.fastq.gz", "a_R2.fastq.gz"}, c.Samples[0].Files)
	assert.Equal(t, "x", c.Samples[0].Attrs.Get("batch").AsString())
	f, _ := c.Samples[0].Attrs.Get("priority").AsBigFloat().Float64()
	assert.Equal(t, float64(3), f)

	assert.Equal(t, "b", c.Samples[1].ID)
	assert.Equal(t, sample.Pending, c.Samples[1].State())
}

func TestLoadRejectsRecordWithoutID(t *testing.T) {
	path := writeManifest(t, `
- files: [a.txt]
`)
	_, err := Load(path, "run", schemaWithBatch())
	assert.Error(t, err)
}

func TestLoadRejectsUnregisteredAttribute(t *testing.T) {
	path := writeManifest(t, `
- id: a
  nonexistent: 1
`)
	_, err := Load(path, "run", schemaWithBatch())
	assert.Error(t, err)
}

func TestLoadEmptyManifestYieldsEmptyCollection(t *testing.T) {
	path := writeManifest(t, `[]`)
	c, err := Load(path, "run", schemaWithBatch())
	require.NoError(t, err)
	assert.Empty(t, c.Samples)
}
