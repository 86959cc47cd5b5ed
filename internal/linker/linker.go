// Package linker implements the module linker: resolving, compiling, and
// linking CommonJS and ES modules against one engine Context, with a
// single cached instance per resolved specifier shared between require()
// and ES-module import.
package linker

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yangshun/nodepack-sub002/internal/engine"
	"github.com/yangshun/nodepack-sub002/internal/format"
	"github.com/yangshun/nodepack-sub002/internal/modresolve"
	"github.com/yangshun/nodepack-sub002/internal/shim"
	"github.com/yangshun/nodepack-sub002/internal/vfs"
)

type state int

const (
	stateLinking state = iota
	stateReady
	stateFailed
)

// cacheEntry tracks one resolved specifier's progress through the new →
// linking → ready/failed state machine. exports holds the live,
// possibly-partial value while linking (required so circular requires see
// the in-progress exports object, matching Node's own circular-require
// behavior) and the final value once ready.
type cacheEntry struct {
	state   state
	exports engine.Value
	err     error
}

// Linker loads and links modules into one engine Context. A Linker is not
// safe for concurrent use; nodepack's scheduling model never calls it from
// more than one goroutine at a time.
type Linker struct {
	ctx         engine.Context
	fs          *vfs.FS
	resolver    *modresolve.Resolver
	registry    *shim.Registry
	cache       map[string]*cacheEntry
	globalSeq   int
	formatCache *lru.Cache[string, format.Format]
}

// New creates a Linker bound to one Context and its filesystem/resolver.
func New(ctx engine.Context, fs *vfs.FS, resolver *modresolve.Resolver, registry *shim.Registry) *Linker {
	return &Linker{
		ctx:      ctx,
		fs:       fs,
		resolver: resolver,
		registry: registry,
		cache:    make(map[string]*cacheEntry),
	}
}

// SetFormatCache attaches a cache of resolved-path → detected format that
// outlives any single Linker, so repeated Execute calls on the same Runtime
// skip re-running the format classifier against an installed package's
// unchanged source. Exports themselves are never cached here — only the
// ESM/CJS classification, which cannot change for a given path's bytes.
func (l *Linker) SetFormatCache(c *lru.Cache[string, format.Format]) {
	l.formatCache = c
}

// detectFormat classifies src, consulting and populating the optional
// cross-execute format cache keyed by p.
func (l *Linker) detectFormat(p, src string) format.Format {
	if l.formatCache == nil {
		return format.Detect(src)
	}
	if f, ok := l.formatCache.Get(p); ok {
		return f
	}
	f := format.Detect(src)
	l.formatCache.Add(p, f)
	return f
}

// LoadEntry loads and links the top-level entry already written to entryPath,
// returning the default export (for an ES-module entry) or module.exports
// (for a CommonJS entry), matching the facade's collection rule.
func (l *Linker) LoadEntry(entryPath, source string) (engine.Value, error) {
	if l.detectFormat(entryPath, source) == format.ESM {
		ns, err := l.loadESMAt(entryPath, source)
		if err != nil {
			return engine.Value{}, err
		}
		def, err := l.ctx.Get(ns.Handle, "default")
		if err != nil {
			return engine.Value{}, fmt.Errorf("linker: reading default export of %s: %w", entryPath, err)
		}
		return def, nil
	}
	return l.loadCJSAt(entryPath, source)
}

// resolveAndLoad resolves specifier against referrerPath and loads whatever
// it resolves to, dispatching to a builtin or a filesystem path.
func (l *Linker) resolveAndLoad(specifier, referrerPath string, isESM bool) (engine.Value, error) {
	resolved, err := l.resolver.Resolve(specifier, referrerPath, isESM)
	if err != nil {
		return engine.Value{}, err
	}
	if resolved.Builtin != "" {
		return l.loadBuiltin(resolved.Builtin)
	}
	return l.loadPath(resolved.Path)
}

// loadPath loads an already-resolved VFS path, picking CJS or ESM linking
// by sniffing its source.
func (l *Linker) loadPath(p string) (engine.Value, error) {
	if entry, ok := l.cache[p]; ok {
		if entry.state == stateFailed {
			return engine.Value{}, entry.err
		}
		return entry.exports, nil
	}
	src, err := l.fs.ReadFileString(p)
	if err != nil {
		return engine.Value{}, fmt.Errorf("linker: reading %s: %w", p, err)
	}
	if l.detectFormat(p, src) == format.ESM {
		return l.loadESMAt(p, src)
	}
	return l.loadCJSAt(p, src)
}

// loadBuiltin loads a builtin by name (native Go-backed, or embedded JS run
// as a CommonJS module), caching the result under "builtin:<name>".
func (l *Linker) loadBuiltin(name string) (engine.Value, error) {
	key := "builtin:" + name
	if entry, ok := l.cache[key]; ok {
		if entry.state == stateFailed {
			return engine.Value{}, entry.err
		}
		return entry.exports, nil
	}

	if l.registry.IsNative(name) {
		entry := &cacheEntry{state: stateLinking}
		l.cache[key] = entry
		v, err := l.registry.NativeModule(l.ctx, name)
		if err != nil {
			delete(l.cache, key)
			return engine.Value{}, fmt.Errorf("linker: building builtin %q: %w", name, err)
		}
		entry.state = stateReady
		entry.exports = v
		return v, nil
	}

	src, ok := l.registry.JSSource(name)
	if !ok {
		return engine.Value{}, fmt.Errorf("linker: unknown builtin %q", name)
	}
	return l.loadCJSAt(key, src)
}

// loadCJSAt wraps src as a CommonJS module body: create module =
// {exports: {}}, install the cache entry in "linking" state, invoke, then
// mark "ready". require() is a function value scoped
// to this one call via Context.NewFunction, closing over p as the
// referrer path for its own relative resolution.
func (l *Linker) loadCJSAt(p, src string) (engine.Value, error) {
	entry := &cacheEntry{state: stateLinking}
	l.cache[p] = entry

	exportsHandle, err := l.ctx.ToHandle(engine.Object(map[string]engine.Value{}))
	if err != nil {
		delete(l.cache, p)
		return engine.Value{}, fmt.Errorf("linker: initializing exports for %s: %w", p, err)
	}
	// Seed the in-progress cache entry with a handle to the live exports
	// object so a circular require() sees whatever properties have been
	// assigned so far, not an empty placeholder.
	entry.exports = engine.Value{Kind: engine.KindHandle, Handle: exportsHandle}

	requireHandle, err := l.ctx.NewFunction("require", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		if len(args) == 0 || args[0].Kind != engine.KindString {
			return engine.Value{}, fmt.Errorf("linker: require() needs a string specifier")
		}
		return l.resolveAndLoad(args[0].String, p, false)
	})
	if err != nil {
		delete(l.cache, p)
		return engine.Value{}, fmt.Errorf("linker: defining require for %s: %w", p, err)
	}

	moduleHandle, err := l.ctx.ToHandle(engine.Object(map[string]engine.Value{
		"exports": {Kind: engine.KindHandle, Handle: exportsHandle},
	}))
	if err != nil {
		delete(l.cache, p)
		return engine.Value{}, fmt.Errorf("linker: initializing module object for %s: %w", p, err)
	}

	wrapped := fmt.Sprintf("(function(exports, require, module, __filename, __dirname) {%s\n})", src)
	fnHandle, err := l.ctx.EvalScript(p, wrapped)
	if err != nil {
		delete(l.cache, p)
		return engine.Value{}, fmt.Errorf("linker: compiling %s: %w", p, err)
	}
	defer fnHandle.Release()

	_, err = l.ctx.Call(fnHandle, nil, []engine.Value{
		{Kind: engine.KindHandle, Handle: exportsHandle},
		{Kind: engine.KindHandle, Handle: requireHandle},
		{Kind: engine.KindHandle, Handle: moduleHandle},
		engine.String(p),
		engine.String(path.Dir(p)),
	})
	if err != nil {
		delete(l.cache, p)
		return engine.Value{}, fmt.Errorf("linker: running %s: %w", p, err)
	}

	result, err := l.ctx.Get(moduleHandle, "exports")
	if err != nil {
		delete(l.cache, p)
		return engine.Value{}, fmt.Errorf("linker: reading module.exports for %s: %w", p, err)
	}

	entry.state = stateReady
	entry.exports = result
	return result, nil
}

// loadESMAt compiles and evaluates src as an ES module: the engine drives
// recursive resolution of its static imports through esmResolver. The
// returned value wraps the module's namespace object.
func (l *Linker) loadESMAt(p, src string) (engine.Value, error) {
	entry := &cacheEntry{state: stateLinking}
	l.cache[p] = entry

	h, err := l.ctx.EvalModule(p, src, l.esmResolver())
	if err != nil {
		delete(l.cache, p)
		return engine.Value{}, fmt.Errorf("linker: loading %s: %w", p, err)
	}

	ns := engine.Value{Kind: engine.KindHandle, Handle: h}
	entry.state = stateReady
	entry.exports = ns
	return ns, nil
}

// esmResolver is registered once per EvalModule call and handles every
// static import the engine encounters while building that module's graph.
// A dependency that is itself ES-module source is handed to the engine
// unmodified, so the engine keeps recursing through this same callback. A
// CommonJS or builtin dependency is instead executed eagerly here and
// bridged back as synthetic ES-module source exposing its value as both
// the default export and, where its exports are a plain object, one named
// export per enumerable key — this is how an ES-module importing a
// script-module receives module.exports as its default export and, when
// keys are statically enumerable, as named exports via a synthesized
// namespace.
func (l *Linker) esmResolver() engine.ModuleSourceLoader {
	return func(specifier, referrer string) (string, string, error) {
		resolved, err := l.resolver.Resolve(specifier, referrer, true)
		if err != nil {
			return "", "", err
		}

		if resolved.Builtin != "" {
			v, err := l.loadBuiltin(resolved.Builtin)
			if err != nil {
				return "", "", err
			}
			return l.bridgeSource("builtin:"+resolved.Builtin, v)
		}

		if entry, ok := l.cache[resolved.Path]; ok {
			if entry.state == stateFailed {
				return "", "", entry.err
			}
			return l.bridgeSource(resolved.Path, entry.exports)
		}

		src, err := l.fs.ReadFileString(resolved.Path)
		if err != nil {
			return "", "", fmt.Errorf("linker: reading %s: %w", resolved.Path, err)
		}
		if l.detectFormat(resolved.Path, src) == format.CJS {
			v, err := l.loadCJSAt(resolved.Path, src)
			if err != nil {
				return "", "", err
			}
			return l.bridgeSource(resolved.Path, v)
		}
		// First encounter of a pure ES-module dependency: the engine keeps
		// resolving its own imports through this callback directly. This
		// file only gets a cache entry once the engine finishes (loadESMAt
		// would be called again, independently, if something else
		// require()s this same path — a known limitation for paths reached
		// both ways within one execute() call, noted in DESIGN.md.
		return resolved.Path, src, nil
	}
}

// bridgeSource installs v under a freshly-named global and returns ES
// module source that re-exports it as both default and (for plain object
// values) one named binding per key.
func (l *Linker) bridgeSource(key string, v engine.Value) (string, string, error) {
	l.globalSeq++
	globalName := fmt.Sprintf("__nodepack_bridge_%d", l.globalSeq)
	if err := l.ctx.Set(l.ctx.Global(), globalName, v); err != nil {
		return "", "", fmt.Errorf("linker: bridging %s: %w", key, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "const __m = globalThis.%s;\n", globalName)
	b.WriteString("export default __m;\n")
	for _, name := range exportableNames(v) {
		fmt.Fprintf(&b, "export const %s = __m.%s;\n", name, name)
	}
	return "bridge:" + key, b.String(), nil
}

func exportableNames(v engine.Value) []string {
	if v.Kind != engine.KindObject {
		return nil
	}
	names := make([]string, 0, len(v.Object))
	for k := range v.Object {
		if isValidIdentifier(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '$':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
