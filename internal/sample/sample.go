package sample

import (
	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/output"
)

// State is a sample's boolean-like lifecycle status. It is monotonic: once
// Failed, a sample never returns to Complete.
type State int

const (
	Pending State = iota
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Sample is the unit of work: identity, input files, a monotonic state, a
// mutable attribute bag, and its own accumulated output set.
type Sample struct {
	ID    string
	Files []string

	state      State
	failReason string

	Attrs   *attrs.Bag
	Outputs []output.Output
}

// New returns a Sample with the given id and files, its attribute bag
// initialized from schema's registered sample-scope fields.
func New(id string, files []string, schema *attrs.Schema) *Sample {
	return &Sample{ID: id, Files: files, Attrs: schema.NewBag(attrs.SampleScope)}
}

// State returns the sample's current lifecycle state.
func (s *Sample) State() State { return s.state }

// FailReason returns the reason passed to the first Fail call, or ""
// if the sample has never failed.
func (s *Sample) FailReason() string { return s.failReason }

// Fail transitions the sample to Failed with the given reason. Failing an
// already-failed sample keeps the first reason: the state is monotonic,
// so once failed it never reverses, and a runner that fails a sample more
// than once is almost certainly reporting the same root cause.
func (s *Sample) Fail(reason string) {
	if s.state == Failed {
		return
	}
	s.state = Failed
	s.failReason = reason
}

// MarkDone transitions a Pending sample to Complete. It is a no-op on a
// sample that has already failed, preserving the monotonic invariant.
func (s *Sample) MarkDone() {
	if s.state == Pending {
		s.state = Complete
	}
}

// AddOutput appends a resolved output to this sample's output set.
func (s *Sample) AddOutput(o output.Output) {
	s.Outputs = append(s.Outputs, o)
}

// Clone returns a deep copy of the sample: independent Attrs bag and
// Outputs/Files slices, so mutation in one shard never aliases another's.
func (s *Sample) Clone() *Sample {
	clone := &Sample{
		ID:         s.ID,
		Files:      append([]string(nil), s.Files...),
		state:      s.state,
		failReason: s.failReason,
		Attrs:      s.Attrs.Clone(),
		Outputs:    append([]output.Output(nil), s.Outputs...),
	}
	return clone
}
