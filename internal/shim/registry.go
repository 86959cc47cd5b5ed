package shim

import (
	"fmt"
	"strings"

	"github.com/yangshun/nodepack-sub002/internal/engine"
	"github.com/yangshun/nodepack-sub002/internal/vfs"
)

// nativeNames lists the builtins backed by Go code rather than embedded JS
// source. Each must be instantiated per Context via NativeModule, since they
// close over host state (filesystem, entropy, process options) that no two
// Contexts should share.
var nativeNames = map[string]bool{
	"crypto":  true,
	"process": true,
	"fs":      true,
}

// Registry is the single source of truth for which specifiers resolve to a
// host-provided builtin, and how to materialize each one. It is
// consulted both by internal/modresolve (as the builtins set) and by the
// linker when it needs to produce a builtin's module source or value.
type Registry struct {
	jsSource map[string]string

	fsys        *vfs.FS
	entropy     EntropySource
	processOpts ProcessOptions
}

// NewRegistry loads the embedded JS builtins and wires the native ones
// against the given host state.
func NewRegistry(fsys *vfs.FS, entropy EntropySource, processOpts ProcessOptions) (*Registry, error) {
	entries, err := jsSources.ReadDir("js")
	if err != nil {
		return nil, fmt.Errorf("nodepack/shim: reading embedded builtin sources: %w", err)
	}
	src := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".js")
		data, err := jsSources.ReadFile("js/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("nodepack/shim: reading %s: %w", e.Name(), err)
		}
		src[name] = string(data)
	}
	return &Registry{
		jsSource:    src,
		fsys:        fsys,
		entropy:     entropy,
		processOpts: processOpts,
	}, nil
}

// Names reports every specifier this registry resolves as a builtin, bare
// ("fs") and without the "node:" prefix. It is the builtins map
// internal/modresolve.New expects.
func (r *Registry) Names() map[string]bool {
	names := make(map[string]bool, len(r.jsSource)+len(nativeNames))
	for name := range r.jsSource {
		names[name] = true
	}
	for name := range nativeNames {
		names[name] = true
	}
	return names
}

// IsNative reports whether name is backed by Go code (and so must go
// through NativeModule) rather than embedded JS source.
func (r *Registry) IsNative(name string) bool {
	return nativeNames[name]
}

// JSSource returns the embedded source for a pure-JS builtin, for the
// linker to wrap and evaluate as a CommonJS module like any other.
func (r *Registry) JSSource(name string) (string, bool) {
	src, ok := r.jsSource[name]
	return src, ok
}

// NativeModule builds the exports value for a Go-backed builtin inside ctx.
// Called once per Context the first time the module is required; the
// linker is responsible for caching the result like any other module.
func (r *Registry) NativeModule(ctx engine.Context, name string) (engine.Value, error) {
	switch name {
	case "crypto":
		return CryptoModule(ctx, r.entropy)
	case "process":
		return ProcessModule(ctx, r.processOpts)
	case "fs":
		return FSModule(ctx, r.fsys)
	default:
		return engine.Value{}, fmt.Errorf("nodepack/shim: %q is not a native builtin", name)
	}
}
