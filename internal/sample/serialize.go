package sample

import (
	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/output"
)

// Record is the gob-encodable projection of a Sample, used to cross the
// shard worker process boundary: a cty.Value cannot be gob-registered
// directly, so attributes travel as the plain-Go-value map produced by
// Bag.AsMap.
type Record struct {
	ID         string
	Files      []string
	State      State
	FailReason string
	Attrs      map[string]any
	Outputs    []output.Output
}

// ToRecord snapshots s for transport.
func (s *Sample) ToRecord() Record {
	return Record{
		ID:         s.ID,
		Files:      s.Files,
		State:      s.state,
		FailReason: s.failReason,
		Attrs:      s.Attrs.AsMap(),
		Outputs:    s.Outputs,
	}
}

// FromRecord rebuilds a Sample from a Record previously produced by
// ToRecord, binding its attribute bag to schema.
func FromRecord(r Record, schema *attrs.Schema) (*Sample, error) {
	s := &Sample{
		ID:         r.ID,
		Files:      r.Files,
		state:      r.State,
		failReason: r.FailReason,
		Attrs:      schema.NewBag(attrs.SampleScope),
		Outputs:    r.Outputs,
	}
	if err := s.Attrs.LoadMap(r.Attrs); err != nil {
		return nil, err
	}
	return s, nil
}

// CollectionRecord is the gob-encodable projection of a Collection.
type CollectionRecord struct {
	Tag     string
	Samples []Record
	Attrs   map[string]any
	Outputs []output.Output
}

// ToRecord snapshots c and every one of its samples for transport.
func (c *Collection) ToRecord() CollectionRecord {
	records := make([]Record, len(c.Samples))
	for i, s := range c.Samples {
		records[i] = s.ToRecord()
	}
	return CollectionRecord{
		Tag:     c.Tag,
		Samples: records,
		Attrs:   c.Attrs.AsMap(),
		Outputs: c.Outputs,
	}
}

// CollectionFromRecord rebuilds a Collection from a CollectionRecord
// previously produced by ToRecord, binding every bag to schema.
func CollectionFromRecord(r CollectionRecord, schema *attrs.Schema) (*Collection, error) {
	samples := make([]*Sample, len(r.Samples))
	for i, sr := range r.Samples {
		s, err := FromRecord(sr, schema)
		if err != nil {
			return nil, err
		}
		samples[i] = s
	}
	c := NewCollection(r.Tag, samples, schema)
	if err := c.Attrs.LoadMap(r.Attrs); err != nil {
		return nil, err
	}
	c.Outputs = r.Outputs
	return c, nil
}
