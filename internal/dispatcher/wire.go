package dispatcher

import (
	"encoding/gob"
	"io"
	"time"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/sample"
)

// shardRequest is what the parent process sends a shard worker over stdin.
// ResultDir and Timestamp are threaded through so the worker can resolve
// the runner's declared outputs against the same result directory and
// run timestamp the driver uses, without either side needing to agree on
// a shared clock or flag set independently.
type shardRequest struct {
	RunnerLabel string
	Collection  sample.CollectionRecord
	ResultDir   string
	Timestamp   time.Time
}

// shardResult is what a shard worker sends back over stdout. Err is the
// runner's error message, if any; the collection is still populated in
// that case, with every sample already marked failed.
//
// CleanerExtra and CleanerUnregistered are the Deferred cleaner's
// accumulated intent from the runner invocation: the worker process exits
// before the driver has copied this shard's declared outputs out of its
// workdir, so the cleaner itself cannot flush there without risking the
// removal of files the copy phase still needs. The dispatcher rebuilds an
// equivalent Cleaner from these and flushes it once copying is done.
type shardResult struct {
	Collection sample.CollectionRecord
	Err        string

	CleanerExtra        map[string]bool
	CleanerUnregistered []string
}

func init() {
	// sample.Record.Attrs and CollectionRecord.Attrs are map[string]any:
	// every value gob crosses through an interface{} slot, so gob needs
	// the concrete dynamic type registered up front. attrs.AnyToValue's
	// inverse, attrs.ValueToAny (internal/attrs/bag.go), only ever
	// produces these five shapes.
	gob.Register("")
	gob.Register(false)
	gob.Register(float64(0))
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// gobEncode and gobDecode are small shared helpers: the dispatcher package
// deals in exactly two wire types, so every encode/decode site in
// production code and tests goes through these rather than repeating the
// encoder/decoder boilerplate.
func gobEncode(w io.Writer, v any) error {
	return gob.NewEncoder(w).Encode(v)
}

func gobDecode(r io.Reader, v any) error {
	return gob.NewDecoder(r).Decode(v)
}
