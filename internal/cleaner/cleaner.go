package cleaner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
)

// Mode selects between the two Cleaner behaviors described in the
// component design: Eager removes paths the moment Clean is called, while
// Deferred only accumulates register/unregister intent until flushed.
type Mode int

const (
	Eager Mode = iota
	Deferred
)

// Cleaner is a per-scope registry of filesystem paths slated for removal.
// The whole of root is registered implicitly at construction; Unregister
// carves specific paths back out of that default set, and Register adds
// paths outside the implicit default (typically outside root, gated by
// ignoreOutsideRoot).
type Cleaner struct {
	mu         sync.Mutex
	root       string
	mode       Mode
	extra      map[string]bool // absolute path -> ignoreOutsideRoot, for paths added via Register
	unregister map[string]bool // absolute path -> true, carved out of the implicit root set
}

// New returns a Cleaner rooted at root. root must be an absolute or
// relative directory path; it is cleaned with filepath.Clean so comparisons
// against registered/unregistered paths are consistent.
func New(root string, mode Mode) *Cleaner {
	return &Cleaner{
		root:       filepath.Clean(root),
		mode:       mode,
		extra:      make(map[string]bool),
		unregister: make(map[string]bool),
	}
}

// Root returns the scope root this cleaner was constructed with.
func (c *Cleaner) Root() string {
	return c.root
}

// Register adds path to the set of paths to remove. Paths outside root are
// rejected and logged unless ignoreOutsideRoot is true — the same rule on
// both an Eager and a Deferred cleaner, since a runner calling Register
// with the flag set must see its path removed at flush time either way.
func (c *Cleaner) Register(ctx context.Context, path string, ignoreOutsideRoot bool) {
	logger := ctxlog.FromContext(ctx)
	abs := c.clean(path)
	inside := c.isInside(abs)

	if !inside && !ignoreOutsideRoot {
		logger.Warn(fmt.Sprintf("%s outside %s", filepath.Base(abs), c.root))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.extra[abs] = ignoreOutsideRoot
	delete(c.unregister, abs)
}

// Unregister removes path from the set of paths to remove: it is idempotent
// and last-write-wins against a prior Register for the same path, and it
// can also carve a path out of root's implicit default registration.
// path may be absolute or relative to root.
func (c *Cleaner) Unregister(path string) {
	abs := c.clean(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.extra, abs)
	c.unregister[abs] = true
}

// Extra returns a snapshot of the explicitly registered paths outside the
// implicit root set, keyed by path with each value the ignoreOutsideRoot
// flag it was registered with. It exists so a caller can carry this
// cleaner's accumulated intent across a process boundary (a shard worker
// reports it back to the dispatcher, which reconstructs an equivalent
// Cleaner to flush once outputs are safely copied).
func (c *Cleaner) Extra() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.extra))
	for p, v := range c.extra {
		out[p] = v
	}
	return out
}

// Unregistered returns a snapshot of the paths carved out of the implicit
// root registration, for the same cross-process reconstruction Extra
// supports.
func (c *Cleaner) Unregistered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.unregister))
	for p := range c.unregister {
		out = append(out, p)
	}
	return out
}

// Clean performs the removal. On a Deferred cleaner this always logs
// "Deferred cleaner does not support cleaning" and does nothing else —
// deferred cleaners flush automatically at scope exit via Flush, they are
// never cleaned directly by user code.
func (c *Cleaner) Clean(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	if c.mode == Deferred {
		logger.Warn("Deferred cleaner does not support cleaning")
		return
	}
	c.Flush(ctx)
}

// Flush removes every path currently registered: the implicit root subtree
// minus unregistered carve-outs, plus every explicitly registered extra
// path. It is the mechanism both Eager.Clean and a Deferred cleaner's
// scope-exit flush use.
func (c *Cleaner) Flush(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)

	c.mu.Lock()
	unregistered := make(map[string]bool, len(c.unregister))
	for p := range c.unregister {
		unregistered[p] = true
	}
	extra := make([]string, 0, len(c.extra))
	for p := range c.extra {
		extra = append(extra, p)
	}
	c.mu.Unlock()
	sort.Strings(extra)

	entries := collapse(c.root, unregistered)
	for _, p := range extra {
		if unregistered[p] {
			continue
		}
		entries = append(entries, p)
	}

	for _, entry := range entries {
		rel := c.display(entry)
		logger.Info(fmt.Sprintf("Removing %s", rel))
		if err := os.RemoveAll(entry); err != nil {
			logger.Warn(fmt.Sprintf("%s: %s", rel, err))
		}
	}
}

// collapse computes the minimal set of filesystem entries, rooted at root,
// whose removal implements "remove everything under root except anything
// in excluded (or any of excluded's ancestors)". A subtree collapses to a
// single entry whenever none of its descendants are excluded; otherwise the
// algorithm recurses into that subtree's children.
func collapse(root string, excluded map[string]bool) []string {
	if excluded[root] {
		return nil
	}
	info, err := os.Lstat(root)
	if err != nil {
		return nil
	}
	if !hasExcludedDescendant(root, excluded) {
		return []string{root}
	}
	if !info.IsDir() {
		// A non-directory can't have descendants; if it reached here it
		// isn't itself excluded, so it's kept in full.
		return []string{root}
	}

	children, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, child := range children {
		out = append(out, collapse(filepath.Join(root, child.Name()), excluded)...)
	}
	return out
}

func hasExcludedDescendant(root string, excluded map[string]bool) bool {
	prefix := root + string(filepath.Separator)
	for p := range excluded {
		if p == root || strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (c *Cleaner) clean(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.root, path)
}

func (c *Cleaner) isInside(abs string) bool {
	rootAbs := c.root
	if !filepath.IsAbs(rootAbs) {
		if wd, err := os.Getwd(); err == nil {
			rootAbs = filepath.Join(wd, rootAbs)
		}
	}
	if !filepath.IsAbs(abs) {
		if wd, err := os.Getwd(); err == nil {
			abs = filepath.Join(wd, abs)
		}
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}

func (c *Cleaner) display(abs string) string {
	if rel, err := filepath.Rel(filepath.Dir(c.root), abs); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return abs
}
