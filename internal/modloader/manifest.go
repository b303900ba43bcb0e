package modloader

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Manifest is the declarative half of a module: everything the loader
// needs to know about a module's hooks, runners, mixins, and merge
// functions before any Go code runs. The Go source named by each Entry
// field supplies the behavior.
type Manifest struct {
	Hooks   []HookDecl   `hcl:"hook,block"`
	Runners []RunnerDecl `hcl:"runner,block"`
	Mixins  []MixinDecl  `hcl:"mixin,block"`
	Merges  []MergeDecl  `hcl:"merge,block"`
}

// HookDecl declares one pre_hook or post_hook: its scheduling label,
// kind, ordering constraints, and the interpreted entrypoint function
// that implements it.
type HookDecl struct {
	Label     string   `hcl:"label,label"`
	Kind      string   `hcl:"kind"`
	Entry     string   `hcl:"entry"`
	Before    []string `hcl:"before,optional"`
	After     []string `hcl:"after,optional"`
	Condition string   `hcl:"condition,optional"`
}

// RunnerDecl declares one runner: its label, split attribute (if any),
// entrypoint function, declared output patterns, and the name of the
// executor backend its submit callback dispatches to (defaults to
// "subprocess").
type RunnerDecl struct {
	Label    string       `hcl:"label,label"`
	Entry    string       `hcl:"entry"`
	SplitBy  string       `hcl:"split_by,optional"`
	Executor string       `hcl:"executor,optional"`
	Outputs  []OutputDecl `hcl:"output,block"`
}

// OutputDecl declares one of a runner's @output patterns: a source glob,
// resolved relative to the runner's workdir when it returns, plus the
// optional destination and checkpoint overrides.
type OutputDecl struct {
	Src        string `hcl:"src,label"`
	DestDir    string `hcl:"dest_dir,optional"`
	DestName   string `hcl:"dest_name,optional"`
	Checkpoint string `hcl:"checkpoint,optional"`
	Optional   bool   `hcl:"optional,optional"`
}

// MixinDecl declares one sample- or collection-scoped attribute
// contributed by this module.
type MixinDecl struct {
	Name    string `hcl:"name,label"`
	Scope   string `hcl:"scope"`
	Type    string `hcl:"type"`
	Default string `hcl:"default,optional"`
}

// MergeDecl declares a merge function for one (scope, attribute) pair.
type MergeDecl struct {
	Attr  string `hcl:"attr,label"`
	Scope string `hcl:"scope"`
	Entry string `hcl:"entry"`
}

// ParseManifest parses the HCL file at path into a Manifest.
func ParseManifest(path string) (*Manifest, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("modloader: parse %s: %w", path, diags)
	}

	var m Manifest
	if diags := gohcl.DecodeBody(f.Body, nil, &m); diags.HasErrors() {
		return nil, fmt.Errorf("modloader: decode %s: %w", path, diags)
	}
	return &m, nil
}

// EmptyManifest returns a Manifest that declares nothing. The loader uses
// it for a module directory with no manifest.hcl, treating the module (a
// pure-library module imported only for its side effects, if any).
func EmptyManifest() *Manifest {
	return &Manifest{}
}
