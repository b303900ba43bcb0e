package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// PathsFunc returns the set of paths currently declared for a checkpoint's
// label — typically every output whose Checkpoint label matches, plus the
// sample files the caller chooses to track. It is called fresh on every
// hash, so it always reflects the live state of the collection.
type PathsFunc func() []string

// Checkpoint tracks the fingerprint of one label within a runner's workdir.
// Its live fingerprint is recomputed from PathsFunc on every call to check,
// store, or hexdigest; nothing is cached in memory across calls except the
// most recently stored digest loaded from disk.
type Checkpoint struct {
	label   string
	workdir string
	paths   PathsFunc

	mu    sync.Mutex
	extra []string

	file   string
	stored map[string]string // loaded from disk: path -> per-file hash
}

// New returns a Checkpoint for label rooted at workdir. paths supplies the
// set of output paths currently associated with the label; it may be nil,
// in which case only AddPaths-supplied paths are tracked.
func New(label, workdir string, paths PathsFunc) *Checkpoint {
	c := &Checkpoint{
		label:   label,
		workdir: workdir,
		paths:   paths,
		file:    filepath.Join(workdir, fmt.Sprintf(".checkpoints.%s.json", label)),
	}
	if data, err := os.ReadFile(c.file); err == nil {
		var stored map[string]string
		if json.Unmarshal(data, &stored) == nil {
			c.stored = stored
		}
	}
	return c
}

// AddPaths adds additional paths to be tracked by this checkpoint, beyond
// those supplied by PathsFunc.
func (c *Checkpoint) AddPaths(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extra = append(c.extra, paths...)
}

// allPaths returns the full, deduplicated, directory-expanded set of paths
// this checkpoint currently covers.
func (c *Checkpoint) allPaths() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	if c.paths != nil {
		for _, p := range c.paths() {
			add(p)
		}
	}
	c.mu.Lock()
	extra := append([]string(nil), c.extra...)
	c.mu.Unlock()
	for _, p := range extra {
		add(p)
	}

	var expanded []string
	for _, p := range out {
		info, err := os.Stat(p)
		if err == nil && info.IsDir() {
			_ = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return nil
				}
				expanded = append(expanded, path)
				return nil
			})
			continue
		}
		expanded = append(expanded, p)
	}
	sort.Strings(expanded)
	return expanded
}

// hash returns, for each path this checkpoint currently covers, a
// per-file hash derived from the path's name, size, and modification
// time (or a value derived from the path alone if the file is now missing,
// so a removed file
// still changes the fingerprint instead of being silently dropped).
func (c *Checkpoint) hash() map[string]string {
	paths := c.allPaths()
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		h := xxhash.New()
		_, _ = h.Write([]byte(c.label))
		_, _ = h.Write([]byte(filepath.Base(p)))
		if info, err := os.Stat(p); err == nil {
			var buf [16]byte
			putUint64(buf[0:8], uint64(info.Size()))
			putUint64(buf[8:16], uint64(info.ModTime().Unix()))
			_, _ = h.Write(buf[:])
		} else {
			_, _ = h.Write(randomSalt(p))
		}
		out[p] = fmt.Sprintf("%016x", h.Sum64())
	}
	return out
}

// Hexdigest returns the current live fingerprint as a hex string. The
// combine is order-independent: per-file hashes are folded in path-sorted
// order, so the result depends only on the (path, hash) set, never on
// filesystem iteration order.
func (c *Checkpoint) Hexdigest() string {
	per := c.hash()
	paths := make([]string, 0, len(per))
	for p := range per {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	combined := xxhash.New()
	_, _ = combined.Write([]byte(c.label))
	for _, p := range paths {
		_, _ = combined.Write([]byte(per[p]))
	}
	return fmt.Sprintf("%016x", combined.Sum64())
}

// Store snapshots the current live fingerprint to disk. Storing an
// unchanged state is a no-op that keeps Check true.
func (c *Checkpoint) Store() error {
	per := c.hash()
	if err := os.MkdirAll(filepath.Dir(c.file), 0o755); err != nil {
		return fmt.Errorf("checkpoint %s: %w", c.label, err)
	}
	data, err := json.Marshal(per)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", c.label, err)
	}
	if err := os.WriteFile(c.file, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint %s: %w", c.label, err)
	}
	c.stored = per
	return nil
}

// Check reports whether the live fingerprint matches the stored one,
// exactly: same set of paths, same per-file hash for each.
func (c *Checkpoint) Check() bool {
	if c.stored == nil {
		return false
	}
	live := c.hash()
	if len(live) != len(c.stored) {
		return false
	}
	for p, h := range live {
		if c.stored[p] != h {
			return false
		}
	}
	return true
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func randomSalt(seed string) []byte {
	h := xxhash.Sum64String(seed + "/missing")
	b := make([]byte, 8)
	putUint64(b, h)
	return b
}
