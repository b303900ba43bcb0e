package manifest

import (
	"fmt"
	"os"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/sample"
	"gopkg.in/yaml.v3"
)

// Load reads the samples manifest at path and returns the Collection it
// describes, with every sample's attribute bag bound to schema. tag names
// the resulting collection.
func Load(path, tag string, schema *attrs.Schema) (*sample.Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %s: %w", path, err)
	}

	var records []map[string]any
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("manifest: parsing %s: %w", path, err)
	}

	samples := make([]*sample.Sample, 0, len(records))
	for i, rec := range records {
		s, err := recordToSample(rec, schema)
		if err != nil {
			return nil, fmt.Errorf("manifest: %s: record %d: %w", path, i, err)
		}
		samples = append(samples, s)
	}
	return sample.NewCollection(tag, samples, schema), nil
}

// recordToSample pops id and files off rec, the same way the original's
// Samples.from_file pops "id" before passing the rest of the record as
// keyword attributes to the sample class.
func recordToSample(rec map[string]any, schema *attrs.Schema) (*sample.Sample, error) {
	rawID, ok := rec["id"]
	if !ok {
		return nil, fmt.Errorf("record has no %q field", "id")
	}
	id := fmt.Sprintf("%v", rawID)
	delete(rec, "id")

	files := toStringSlice(rec["files"])
	delete(rec, "files")

	s := sample.New(id, files, schema)
	for name, raw := range rec {
		if !schema.Has(attrs.SampleScope, name) {
			return nil, fmt.Errorf("sample %q: attribute %q has no registered mixin", id, name)
		}
		v, err := attrs.AnyToValue(raw)
		if err != nil {
			return nil, fmt.Errorf("sample %q: attribute %q: %w", id, name, err)
		}
		if err := s.Attrs.Set(name, v); err != nil {
			return nil, fmt.Errorf("sample %q: %w", id, err)
		}
	}
	return s, nil
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}
