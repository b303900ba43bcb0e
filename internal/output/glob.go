package output

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// Glob declares a source pattern (possibly containing glob metacharacters
// and {sample.<attr>} placeholders) and an optional destination override,
// exactly as a runner registers via its output decorations.
type Glob struct {
	Src        string
	DestDir    string
	DestName   string
	Checkpoint string
	Optional   bool
}

// Output is one fully resolved, validated (source, destination) pair ready
// to be copied.
type Output struct {
	Src        string
	Dst        string
	Checkpoint string
	Optional   bool
}

// Placeholder carries the per-sample substitution values used to expand
// {sample.id} and {sample.<attr>} tokens in a Glob's Src/DestDir/DestName.
// It deliberately holds only stringified values so this package never
// needs to import the sample package.
type Placeholder struct {
	SampleID string
	Attrs    map[string]string
}

var placeholderPattern = regexp.MustCompile(`\{sample\.([A-Za-z0-9_]+)\}`)

// Expand substitutes p's {sample.id}/{sample.<attr>} tokens into s.
func (p Placeholder) Expand(s string) string {
	return p.expand(s)
}

func (p Placeholder) expand(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(tok string) string {
		key := placeholderPattern.FindStringSubmatch(tok)[1]
		if key == "id" {
			return p.SampleID
		}
		if v, ok := p.Attrs[key]; ok {
			return v
		}
		return tok
	})
}

// hasMeta reports whether pattern contains glob metacharacters, matching
// the source's heuristic for deciding whether a literal path or a glob
// expansion is required.
func hasMeta(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

func (g Glob) resolvedPattern(workdir string, ph Placeholder) string {
	expanded := ph.expand(g.Src)
	if filepath.IsAbs(expanded) {
		return expanded
	}
	return filepath.Join(workdir, expanded)
}

// Matches expands g against workdir and ph, returning the source paths it
// resolves to: the literal path if g.Src has no glob metacharacters, or
// every currently-existing match of the pattern otherwise.
func (g Glob) Matches(workdir string, ph Placeholder) ([]string, error) {
	pattern := g.resolvedPattern(workdir, ph)
	if !hasMeta(pattern) {
		return []string{pattern}, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("output: invalid pattern %q: %w", pattern, err)
	}
	return matches, nil
}

// CheckpointLabel returns g's checkpoint label with ph's placeholders
// expanded, defaulting to "main" when the declaration left it blank.
func (g Glob) CheckpointLabel(ph Placeholder) string {
	label := g.Checkpoint
	if label == "" {
		label = "main"
	}
	return ph.expand(label)
}
