package modloader

import (
	"context"
	"fmt"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/merge"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/output"
	"github.com/zclconf/go-cty/cty"
)

// HookKind distinguishes a pre-hook, run once before dispatch, from a
// post-hook, run once after every runner has completed.
type HookKind int

const (
	PreHook HookKind = iota
	PostHook
)

// Payload is the plain-type projection of a sample collection passed
// across the yaegi boundary to a hook or runner entrypoint.
type Payload = map[string]any

// HookFunc is the shape every interpreted hook entrypoint must have.
type HookFunc func(ctx context.Context, collection Payload) (Payload, error)

// SubmitFunc lets a runner submit an external command to its shard's
// configured executor backend. Its parameters mirror
// executor.Executor.Submit's shape using only stdlib types, so an
// interpreted runner can declare a matching literal func type without the
// loader needing a custom Exports table.
type SubmitFunc func(cmd string, args []string, env map[string]string, workdir string, cpus, memory int, wait bool) (status string, code int, jobID string, err error)

// AddOutputFunc lets a runner attach an ad hoc output to one of its
// samples outside any static @output declaration, binding it to an
// optional checkpoint label ("" defaults to "main").
type AddOutputFunc func(sampleID, src, checkpointLabel string) error

// CheckpointCheckFunc reports whether label's live fingerprint still
// matches the one most recently stored to disk.
type CheckpointCheckFunc func(label string) bool

// CheckpointStoreFunc snapshots label's live fingerprint to disk.
type CheckpointStoreFunc func(label string) error

// CleanerRegisterFunc registers path with the shard's deferred cleaner,
// rejecting paths outside the shard workdir unless ignoreOutsideRoot.
type CleanerRegisterFunc func(path string, ignoreOutsideRoot bool)

// CleanerUnregisterFunc carves path back out of the shard's deferred
// cleaner, idempotently.
type CleanerUnregisterFunc func(path string)

// RunnerFunc is the shape every interpreted runner entrypoint must have.
// Unlike a hook, a runner is handed the host-provided callback closures
// spec.md requires reach a shard worker: a way to run external commands,
// attach ad hoc outputs, check/store checkpoint fingerprints, and
// register/unregister paths with its deferred cleaner.
type RunnerFunc func(
	ctx context.Context,
	collection Payload,
	submit SubmitFunc,
	addOutput AddOutputFunc,
	checkpointCheck CheckpointCheckFunc,
	checkpointStore CheckpointStoreFunc,
	cleanerRegister CleanerRegisterFunc,
	cleanerUnregister CleanerUnregisterFunc,
) (Payload, error)

// MergeFunc is the shape every interpreted merge entrypoint must have.
// this/that/the return value are the plain-Go projection of a cty.Value,
// the same representation attrs.Bag.AsMap produces.
type MergeFunc func(this, that any) (any, error)

// Hook is one registered, fully resolved hook.
type Hook struct {
	Label     string
	Kind      HookKind
	Before    []string
	After     []string
	Condition string
	Fn        HookFunc

	order int
}

// Order returns the hook's registration index, used by the scheduler as
// its stable tie-break between otherwise-equal orderings.
func (h Hook) Order() int { return h.order }

// Runner is one registered, fully resolved runner.
type Runner struct {
	Label   string
	SplitBy string
	Backend string
	Outputs []output.Glob
	Fn      RunnerFunc
}

// Registry is the process-wide, frozen union of every module's
// contributions: hooks, runners, the attribute schema, the merge
// registry, and the executor backends available by name.
type Registry struct {
	hooks     []Hook
	runners   map[string]Runner
	schema    *attrs.Schema
	merges    *merge.Registry
	backends  map[string]executor.Backend
	nextOrder int
	frozen    bool
}

// New returns an empty, mutable Registry.
func New() *Registry {
	return &Registry{
		runners:  map[string]Runner{},
		schema:   attrs.NewSchema(),
		merges:   merge.New(),
		backends: map[string]executor.Backend{},
	}
}

func (r *Registry) requireUnfrozen(action string) {
	if r.frozen {
		panic(fmt.Sprintf("modloader: cannot %s after the registry is frozen", action))
	}
}

// RegisterHook adds h to the registry. Hooks are kept in registration
// order, which the scheduler uses as its stable tie-break.
func (r *Registry) RegisterHook(h Hook) {
	r.requireUnfrozen("register hook " + h.Label)
	h.order = r.nextOrder
	r.nextOrder++
	r.hooks = append(r.hooks, h)
}

// RegisterRunner adds run to the registry. Registering the same label
// twice is a programming error and panics.
func (r *Registry) RegisterRunner(run Runner) {
	r.requireUnfrozen("register runner " + run.Label)
	if _, exists := r.runners[run.Label]; exists {
		panic(fmt.Sprintf("modloader: runner %q already registered", run.Label))
	}
	r.runners[run.Label] = run
}

// RegisterMixin adds an attribute field to the schema.
func (r *Registry) RegisterMixin(f attrs.Field) {
	r.requireUnfrozen("register mixin " + f.Name)
	r.schema.Register(f)
}

// RegisterExecutorBackend adds a named executor backend. Backends are
// host Go code, not interpreted modules: the module loader's registry is
// simply where the driver looks them up by name.
func (r *Registry) RegisterExecutorBackend(name string, backend executor.Backend) {
	r.requireUnfrozen("register executor backend " + name)
	if _, exists := r.backends[name]; exists {
		panic(fmt.Sprintf("modloader: executor backend %q already registered", name))
	}
	r.backends[name] = backend
}

// RegisterMerge adds a merge function for (scope, attr), wrapping fn's
// plain-value signature into the cty-typed signature merge.Registry
// expects.
func (r *Registry) RegisterMerge(scope attrs.Scope, attrName string, fn MergeFunc) {
	r.requireUnfrozen("register merge function for " + attrName)
	r.merges.Register(scope, attrName, adaptMerge(fn))
}

func adaptMerge(fn MergeFunc) merge.Func {
	return func(this, that cty.Value) (cty.Value, error) {
		result, err := fn(attrs.ValueToAny(this), attrs.ValueToAny(that))
		if err != nil {
			return cty.NilVal, err
		}
		return attrs.AnyToValue(result)
	}
}

// Freeze locks the registry: every Register* call after this point
// panics. The hook scheduler and dispatcher only ever see a frozen
// registry.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Hooks returns every hook of the given kind, in registration order.
func (r *Registry) Hooks(kind HookKind) []Hook {
	var out []Hook
	for _, h := range r.hooks {
		if h.Kind == kind {
			out = append(out, h)
		}
	}
	return out
}

// Runner looks up a registered runner by label.
func (r *Registry) Runner(label string) (Runner, bool) {
	run, ok := r.runners[label]
	return run, ok
}

// Runners returns every registered runner, in no particular order.
func (r *Registry) Runners() []Runner {
	out := make([]Runner, 0, len(r.runners))
	for _, run := range r.runners {
		out = append(out, run)
	}
	return out
}

// Schema returns the frozen attribute schema built from every module's
// mixins.
func (r *Registry) Schema() *attrs.Schema { return r.schema }

// Merges returns the merge function registry built from every module's
// merge declarations.
func (r *Registry) Merges() *merge.Registry { return r.merges }

// ExecutorBackend looks up a registered executor backend by name.
func (r *Registry) ExecutorBackend(name string) (executor.Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}
