package output

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
)

// Resolver resolves a runner's declared outputs against its workdir,
// tracking destinations already claimed within this runner invocation so
// that a second output resolving to the same destination is rejected
// rather than silently overwriting the first.
type Resolver struct {
	Workdir   string
	ResultDir string
	Timestamp time.Time

	claimed map[string]bool
}

// NewResolver returns a Resolver rooted at workdir, copying into resultdir.
func NewResolver(workdir, resultdir string, timestamp time.Time) *Resolver {
	return &Resolver{
		Workdir:   workdir,
		ResultDir: resultdir,
		Timestamp: timestamp,
		claimed:   make(map[string]bool),
	}
}

// Resolve expands g against every sample placeholder and returns the
// successfully validated outputs. Rejections (no match, destination
// outside resultdir, destination already exists) are logged per the
// canonical wording and the offending candidate is dropped, never fatal.
func (r *Resolver) Resolve(ctx context.Context, g Glob, samples []Placeholder) []Output {
	logger := ctxlog.FromContext(ctx)
	if len(samples) == 0 {
		samples = []Placeholder{{}}
	}

	seen := make(map[string]bool)
	var resolved []Output

	for _, ph := range samples {
		matches, err := g.Matches(r.Workdir, ph)
		if err != nil {
			logger.Warn(err.Error())
			continue
		}
		var existing []string
		for _, m := range matches {
			if _, err := os.Stat(m); err == nil {
				existing = append(existing, m)
			}
		}
		if len(existing) == 0 {
			if !g.Optional {
				logger.Warn(fmt.Sprintf("No files matched pattern '%s'", g.resolvedPattern(r.Workdir, ph)))
			}
			continue
		}

		for _, m := range existing {
			if seen[m] {
				continue
			}
			seen[m] = true

			destDir := r.destDir(g, ph)
			if g.DestDir == "" && g.DestName == "" {
				// No destination override: mirror the source's directory
				// relative to the workdir under resultdir.
				if rel, err := filepath.Rel(r.Workdir, filepath.Dir(m)); err == nil && rel != "." && !hasParentSegment(rel) {
					destDir = filepath.Join(destDir, rel)
				}
			}
			destName := r.destName(logger, g, ph, m, len(existing) > 1)
			dst := filepath.Join(destDir, destName)

			out := Output{
				Src:        m,
				Dst:        dst,
				Checkpoint: g.CheckpointLabel(ph),
				Optional:   g.Optional,
			}
			if r.validateAndClaim(logger, out) {
				resolved = append(resolved, out)
			}
		}
	}
	return resolved
}

// ResolveLiteral validates and claims a single, already-concrete output —
// the case where a runner constructs an Output directly instead of
// declaring a Glob. Returns nil if the output is rejected.
func (r *Resolver) ResolveLiteral(ctx context.Context, o Output) *Output {
	logger := ctxlog.FromContext(ctx)
	if r.validateAndClaim(logger, o) {
		return &o
	}
	return nil
}

func (r *Resolver) validateAndClaim(logger *slog.Logger, o Output) bool {
	if _, err := os.Stat(o.Src); err != nil {
		logger.Warn(fmt.Sprintf("%s does not exist", o.Src))
		return false
	}

	rel, err := filepath.Rel(r.ResultDir, o.Dst)
	if err != nil || rel == ".." || hasParentSegment(rel) {
		logger.Warn(fmt.Sprintf("%s is not relative to %s", o.Dst, r.ResultDir))
		return false
	}

	if r.claimed[o.Dst] {
		logger.Warn(fmt.Sprintf("%s already exists", o.Dst))
		return false
	}
	if _, err := os.Stat(o.Dst); err == nil {
		logger.Warn(fmt.Sprintf("%s already exists", o.Dst))
		return false
	}

	r.claimed[o.Dst] = true
	return true
}

func (r *Resolver) destDir(g Glob, ph Placeholder) string {
	if g.DestDir == "" {
		return r.ResultDir
	}
	dir := ph.expand(g.DestDir)
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(r.ResultDir, dir)
}

func (r *Resolver) destName(logger *slog.Logger, g Glob, ph Placeholder, src string, multiMatch bool) string {
	base := filepath.Base(src)
	if g.DestName == "" {
		return base
	}
	if multiMatch {
		logger.Warn(fmt.Sprintf("Destination name will be ignored as '%s' matched multiple files", g.Src))
		return base
	}
	return ph.expand(g.DestName)
}

func hasParentSegment(rel string) bool {
	if rel == ".." {
		return true
	}
	sep := string(filepath.Separator)
	return len(rel) >= 3 && rel[:3] == ".."+sep
}
