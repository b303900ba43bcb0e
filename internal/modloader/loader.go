package modloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/fsutil"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/output"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"github.com/zclconf/go-cty/cty"
)

const manifestFile = "manifest.hcl"

// Load walks every immediate subdirectory of dir, treats each as one
// module, and registers its contributions into reg. It does not freeze
// reg; the caller freezes once every directory (and any host-registered
// executor backend) has been loaded.
func Load(ctx context.Context, dir string, reg *Registry) error {
	logger := ctxlog.FromContext(ctx)

	subdirs, err := fsutil.Subdirs(dir)
	if err != nil {
		return fmt.Errorf("modloader: list %s: %w", dir, err)
	}

	hookCount, runnerCount := 0, 0
	for _, sub := range subdirs {
		name := filepath.Base(sub)
		h, r, err := loadModule(ctx, sub, reg)
		if err != nil {
			return fmt.Errorf("modloader: failed to import module %q: %w", name, err)
		}
		hookCount += h
		runnerCount += r
	}

	logger.Info("Found hooks", "count", hookCount)
	logger.Info("Found runners", "count", runnerCount)
	return nil
}

func loadModule(ctx context.Context, dir string, reg *Registry) (hookCount, runnerCount int, err error) {
	logger := ctxlog.FromContext(ctx).With("module", filepath.Base(dir))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	manifestPath := filepath.Join(dir, manifestFile)
	manifest := EmptyManifest()
	if _, statErr := os.Stat(manifestPath); statErr == nil {
		manifest, err = ParseManifest(manifestPath)
		if err != nil {
			return 0, 0, err
		}
	} else if !os.IsNotExist(statErr) {
		return 0, 0, fmt.Errorf("stat manifest: %w", statErr)
	}

	goFiles, err := fsutil.FindFilesByExtension(dir, ".go")
	if err != nil {
		return 0, 0, fmt.Errorf("list go files: %w", err)
	}
	if len(goFiles) == 0 && len(manifest.Hooks)+len(manifest.Runners)+len(manifest.Merges) > 0 {
		return 0, 0, fmt.Errorf("manifest declares entrypoints but module has no .go files")
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return 0, 0, fmt.Errorf("initialize interpreter: %w", err)
	}
	for _, f := range goFiles {
		if _, err := i.EvalPath(f); err != nil {
			return 0, 0, fmt.Errorf("interpret %s: %w", f, err)
		}
	}

	for _, decl := range manifest.Mixins {
		field, err := mixinField(decl)
		if err != nil {
			return 0, 0, fmt.Errorf("mixin %q: %w", decl.Name, err)
		}
		reg.RegisterMixin(field)
	}

	for _, decl := range manifest.Merges {
		fnValue, err := evalEntry(i, decl.Entry)
		if err != nil {
			return 0, 0, fmt.Errorf("merge %q: %w", decl.Attr, err)
		}
		mergeFn, err := wrapMergeFunc(fnValue)
		if err != nil {
			return 0, 0, fmt.Errorf("merge %q: %w", decl.Attr, err)
		}
		reg.RegisterMerge(scopeFromString(decl.Scope), decl.Attr, mergeFn)
	}

	for _, decl := range manifest.Hooks {
		fnValue, err := evalEntry(i, decl.Entry)
		if err != nil {
			return 0, 0, fmt.Errorf("hook %q: %w", decl.Label, err)
		}
		hookFn, err := wrapHookFunc(fnValue)
		if err != nil {
			return 0, 0, fmt.Errorf("hook %q: %w", decl.Label, err)
		}
		kind, err := hookKindFromString(decl.Kind)
		if err != nil {
			return 0, 0, fmt.Errorf("hook %q: %w", decl.Label, err)
		}
		reg.RegisterHook(Hook{
			Label:     decl.Label,
			Kind:      kind,
			Before:    decl.Before,
			After:     decl.After,
			Condition: decl.Condition,
			Fn:        hookFn,
		})
		hookCount++
	}

	for _, decl := range manifest.Runners {
		fnValue, err := evalEntry(i, decl.Entry)
		if err != nil {
			return 0, 0, fmt.Errorf("runner %q: %w", decl.Label, err)
		}
		runFn, err := wrapRunnerFunc(fnValue)
		if err != nil {
			return 0, 0, fmt.Errorf("runner %q: %w", decl.Label, err)
		}
		reg.RegisterRunner(Runner{
			Label:   decl.Label,
			SplitBy: decl.SplitBy,
			Backend: orDefaultString(decl.Executor, "subprocess"),
			Outputs: outputGlobs(decl.Outputs),
			Fn:      runFn,
		})
		runnerCount++
	}

	logger.Debug("module imported", "hooks", hookCount, "runners", runnerCount)
	return hookCount, runnerCount, nil
}

func evalEntry(i *interp.Interpreter, name string) (reflect.Value, error) {
	v, err := i.Eval(name)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("entrypoint %q: %w", name, err)
	}
	if v.Kind() != reflect.Func {
		return reflect.Value{}, fmt.Errorf("entrypoint %q is not a function", name)
	}
	return v, nil
}

func outputGlobs(decls []OutputDecl) []output.Glob {
	globs := make([]output.Glob, len(decls))
	for i, d := range decls {
		globs[i] = output.Glob{
			Src:        d.Src,
			DestDir:    d.DestDir,
			DestName:   d.DestName,
			Checkpoint: d.Checkpoint,
			Optional:   d.Optional,
		}
	}
	return globs
}

func hookKindFromString(s string) (HookKind, error) {
	switch s {
	case "pre":
		return PreHook, nil
	case "post":
		return PostHook, nil
	default:
		return PreHook, fmt.Errorf("unknown hook kind %q, want \"pre\" or \"post\"", s)
	}
}

func scopeFromString(s string) attrs.Scope {
	if s == "collection" {
		return attrs.CollectionScope
	}
	return attrs.SampleScope
}

func mixinField(decl MixinDecl) (attrs.Field, error) {
	scope := scopeFromString(decl.Scope)
	switch decl.Type {
	case "string":
		def := cty.NullVal(cty.String)
		if decl.Default != "" {
			def = cty.StringVal(decl.Default)
		}
		return attrs.Field{Scope: scope, Name: decl.Name, Type: cty.String, Default: def}, nil
	case "number":
		def := cty.NullVal(cty.Number)
		if decl.Default != "" {
			v, err := cty.ParseNumberVal(decl.Default)
			if err != nil {
				return attrs.Field{}, fmt.Errorf("invalid default %q: %w", decl.Default, err)
			}
			def = v
		}
		return attrs.Field{Scope: scope, Name: decl.Name, Type: cty.Number, Default: def}, nil
	case "bool":
		def := cty.NullVal(cty.Bool)
		if decl.Default != "" {
			def = cty.BoolVal(decl.Default == "true")
		}
		return attrs.Field{Scope: scope, Name: decl.Name, Type: cty.Bool, Default: def}, nil
	default:
		return attrs.Field{}, fmt.Errorf("unsupported mixin type %q", decl.Type)
	}
}

func wrapHookFunc(fnValue reflect.Value) (HookFunc, error) {
	if fnValue.Type().NumIn() != 2 || fnValue.Type().NumOut() != 2 {
		return nil, fmt.Errorf("hook entrypoint must be func(context.Context, map[string]any) (map[string]any, error)")
	}
	return func(ctx context.Context, collection Payload) (Payload, error) {
		args := []reflect.Value{reflectArg(ctx, fnValue.Type().In(0)), reflectArg(map[string]any(collection), fnValue.Type().In(1))}
		results := fnValue.Call(args)
		return payloadResult(results)
	}, nil
}

// wrapRunnerFunc validates that fnValue has the runner entrypoint shape —
// context.Context, the collection, then the four host callbacks plus the
// two deferred-cleaner callbacks, returning (map[string]any, error) — and
// wraps it into a RunnerFunc that forwards real host closures on every
// call.
func wrapRunnerFunc(fnValue reflect.Value) (RunnerFunc, error) {
	t := fnValue.Type()
	if t.NumIn() != 8 || t.NumOut() != 2 {
		return nil, fmt.Errorf("runner entrypoint must be func(context.Context, map[string]any, submit, addOutput, checkpointCheck, checkpointStore, cleanerRegister, cleanerUnregister) (map[string]any, error)")
	}
	return func(
		ctx context.Context,
		collection Payload,
		submit SubmitFunc,
		addOutput AddOutputFunc,
		checkpointCheck CheckpointCheckFunc,
		checkpointStore CheckpointStoreFunc,
		cleanerRegister CleanerRegisterFunc,
		cleanerUnregister CleanerUnregisterFunc,
	) (Payload, error) {
		args := []reflect.Value{
			reflectArg(ctx, t.In(0)),
			reflectArg(map[string]any(collection), t.In(1)),
			reflectArg(submit, t.In(2)),
			reflectArg(addOutput, t.In(3)),
			reflectArg(checkpointCheck, t.In(4)),
			reflectArg(checkpointStore, t.In(5)),
			reflectArg(cleanerRegister, t.In(6)),
			reflectArg(cleanerUnregister, t.In(7)),
		}
		results := fnValue.Call(args)
		return payloadResult(results)
	}, nil
}

func orDefaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func wrapMergeFunc(fnValue reflect.Value) (MergeFunc, error) {
	if fnValue.Type().NumIn() != 2 || fnValue.Type().NumOut() != 2 {
		return nil, fmt.Errorf("merge entrypoint must be func(any, any) (any, error)")
	}
	return func(this, that any) (any, error) {
		args := []reflect.Value{
			reflectArg(this, fnValue.Type().In(0)),
			reflectArg(that, fnValue.Type().In(1)),
		}
		results := fnValue.Call(args)
		var outErr error
		if !results[1].IsNil() {
			if e, ok := results[1].Interface().(error); ok {
				outErr = e
			}
		}
		return results[0].Interface(), outErr
	}, nil
}

func reflectArg(v any, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	return reflect.ValueOf(v)
}

func payloadResult(results []reflect.Value) (Payload, error) {
	var outErr error
	if !results[1].IsNil() {
		if e, ok := results[1].Interface().(error); ok {
			outErr = e
		}
	}
	out, _ := results[0].Interface().(map[string]any)
	return out, outErr
}
