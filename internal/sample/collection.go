package sample

import (
	"sort"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/output"
)

// unknownShard is the reserved bucket name used by Split when a sample has
// no value (or an unregistered attribute) for the split key.
const unknownShard = "unknown"

// Collection is the aggregate unit the dispatcher hands to a runner: a
// named group of samples plus collection-scoped attributes and outputs of
// its own.
type Collection struct {
	Tag     string
	Samples []*Sample

	Attrs   *attrs.Bag
	Outputs []output.Output
}

// NewCollection returns a Collection with the given tag and samples, its
// collection-scoped attribute bag initialized from schema.
func NewCollection(tag string, samples []*Sample, schema *attrs.Schema) *Collection {
	return &Collection{Tag: tag, Samples: samples, Attrs: schema.NewBag(attrs.CollectionScope)}
}

// Complete returns every sample whose state is Complete.
func (c *Collection) Complete() []*Sample {
	return c.filter(Complete)
}

// Failed returns every sample whose state is Failed.
func (c *Collection) Failed() []*Sample {
	return c.filter(Failed)
}

func (c *Collection) filter(state State) []*Sample {
	out := make([]*Sample, 0, len(c.Samples))
	for _, s := range c.Samples {
		if s.State() == state {
			out = append(out, s)
		}
	}
	return out
}

// AddOutput appends a resolved output to the collection's own output set,
// distinct from any individual sample's outputs.
func (c *Collection) AddOutput(o output.Output) {
	c.Outputs = append(c.Outputs, o)
}

// Split partitions the collection's samples into shards keyed by the
// string value of the named attribute, for a runner declaring split_by.
// Samples lacking the attribute, or for which it is null, fall into the
// reserved "unknown" shard rather than being dropped. Shard tags are the
// parent collection's tag suffixed with the split value, and shard order
// is deterministic (sorted by key) so re-dispatch is reproducible.
func Split(c *Collection, by string, schema *attrs.Schema) []*Collection {
	buckets := map[string][]*Sample{}
	for _, s := range c.Samples {
		key := unknownShard
		if s.Attrs.Has(by) {
			v := s.Attrs.Get(by)
			if !v.IsNull() && v.IsKnown() {
				key = valueKey(v)
			}
		}
		buckets[key] = append(buckets[key], s)
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	shards := make([]*Collection, 0, len(keys))
	for _, k := range keys {
		shard := NewCollection(c.Tag+"."+k, buckets[k], schema)
		shard.Attrs = c.Attrs.Clone()
		shards = append(shards, shard)
	}
	return shards
}
