package nodepack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/yangshun/nodepack-sub002/internal/console"
	"github.com/yangshun/nodepack-sub002/internal/engine"
	"github.com/yangshun/nodepack-sub002/internal/format"
	"github.com/yangshun/nodepack-sub002/internal/imports"
	"github.com/yangshun/nodepack-sub002/internal/linker"
	"github.com/yangshun/nodepack-sub002/internal/modresolve"
	"github.com/yangshun/nodepack-sub002/internal/npm"
	"github.com/yangshun/nodepack-sub002/internal/shim"
	"github.com/yangshun/nodepack-sub002/internal/vfs"
)

// formatCacheSize bounds the cross-execute cache of resolved-path → detected
// module format; 512 comfortably covers a dependency tree a few layers deep
// without growing unbounded across a long-lived Runtime.
const formatCacheSize = 512

const defaultEntryPath = "/main.js"

// Runtime is one sandboxed JavaScript execution environment: a virtual
// filesystem, an engine context, and the resolver/linker/npm-client
// machinery wired together. A Runtime is not safe for concurrent use —
// initialize and execute on it from one goroutine at a time.
type Runtime struct {
	cfg *config

	bridge   engine.Bridge
	ctx      engine.Context
	fsys     *vfs.FS
	registry *shim.Registry
	resolver *modresolve.Resolver
	npmClt   *npm.Client
	sink     *console.Sink
	cacheDB  *bolt.DB

	formatCache *lru.Cache[string, format.Format]
}

// New assembles a Runtime's configuration. It never fails — engine
// creation, like any other I/O, is deferred to Initialize.
func New(opts ...Option) *Runtime {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Runtime{cfg: cfg}
}

// Initialize creates the engine runtime and one default context, installs
// all builtins, and binds console and process. Safe to call more than
// once; later calls are no-ops once the first succeeds.
func (r *Runtime) Initialize() error {
	if r.ctx != nil {
		return nil
	}

	bridge, err := r.cfg.engineFactory(engine.Options{
		MemoryLimit: r.cfg.memoryLimit,
		Timeout:     r.cfg.timeout,
	})
	if err != nil {
		return fmt.Errorf("nodepack: creating engine: %w", err)
	}
	ctx, err := bridge.NewContext()
	if err != nil {
		bridge.Close()
		return fmt.Errorf("nodepack: creating engine context: %w", err)
	}

	fsys := vfs.New(func() time.Time { return r.cfg.clock.Now() })
	registry, err := shim.NewRegistry(fsys, r.cfg.entropy, shim.ProcessOptions{Version: "v0.0.0-nodepack"})
	if err != nil {
		ctx.Dispose()
		bridge.Close()
		return fmt.Errorf("nodepack: loading builtin shims: %w", err)
	}
	resolver := modresolve.New(fsys, registry.Names())

	var cacheDB *bolt.DB
	if r.cfg.cacheDir != "" {
		if err := os.MkdirAll(r.cfg.cacheDir, 0o755); err != nil {
			ctx.Dispose()
			bridge.Close()
			return fmt.Errorf("nodepack: creating cache directory: %w", err)
		}
		cacheDB, err = bolt.Open(filepath.Join(r.cfg.cacheDir, "npm-cache.db"), 0o600, nil)
		if err != nil {
			ctx.Dispose()
			bridge.Close()
			return fmt.Errorf("nodepack: opening npm cache database: %w", err)
		}
	}

	npmClt, err := npm.New(npm.Options{
		Fetcher:     r.cfg.fetcher,
		RegistryURL: r.cfg.registryURL,
		CacheDB:     cacheDB,
		Logger:      r.cfg.logger,
	})
	if err != nil {
		if cacheDB != nil {
			cacheDB.Close()
		}
		ctx.Dispose()
		bridge.Close()
		return fmt.Errorf("nodepack: creating npm client: %w", err)
	}

	sink := console.NewSink(nil)
	formatCache, err := lru.New[string, format.Format](formatCacheSize)
	if err != nil {
		if cacheDB != nil {
			cacheDB.Close()
		}
		ctx.Dispose()
		bridge.Close()
		return fmt.Errorf("nodepack: creating format cache: %w", err)
	}

	r.bridge, r.ctx, r.fsys, r.registry, r.resolver, r.npmClt, r.sink, r.cacheDB, r.formatCache =
		bridge, ctx, fsys, registry, resolver, npmClt, sink, cacheDB, formatCache

	if err := r.bindConsole(); err != nil {
		r.Terminate()
		return fmt.Errorf("nodepack: installing console: %w", err)
	}
	if err := r.bindProcess(ExecuteOptions{}); err != nil {
		r.Terminate()
		return fmt.Errorf("nodepack: installing process: %w", err)
	}
	return nil
}

func (r *Runtime) bindConsole() error {
	levels := []console.Level{console.Log, console.Warn, console.Error, console.Info, console.Debug}
	obj := make(map[string]engine.Value, len(levels))
	for _, lvl := range levels {
		lvl := lvl
		h, err := r.ctx.NewFunction(string(lvl), func(_ context.Context, args []engine.Value) (engine.Value, error) {
			r.sink.Capture(lvl, args)
			return engine.Null(), nil
		})
		if err != nil {
			return err
		}
		obj[string(lvl)] = engine.Value{Kind: engine.KindHandle, Handle: h}
	}
	return r.ctx.Set(r.ctx.Global(), "console", engine.Object(obj))
}

// bindProcess (re)installs the guest-visible process global, since argv
// and env are supplied per Execute call rather than fixed at Initialize.
func (r *Runtime) bindProcess(opts ExecuteOptions) error {
	argv := opts.Argv
	if argv == nil {
		argv = []string{"node", defaultEntryPath}
	}
	v, err := shim.ProcessModule(r.ctx, shim.ProcessOptions{
		Argv:    argv,
		Env:     opts.Env,
		Version: "v0.0.0-nodepack",
	})
	if err != nil {
		return err
	}
	return r.ctx.Set(r.ctx.Global(), "process", v)
}

// Execute writes source to a virtual entry path, pre-installs any bare
// packages its static imports name, links and evaluates it, and collects
// the result.
func (r *Runtime) Execute(source string, opts ExecuteOptions) ExecutionResult {
	if r.ctx == nil {
		return ExecutionResult{OK: false, Error: ErrNotInitialized.Error()}
	}

	entryPath := opts.EntryPath
	if entryPath == "" {
		entryPath = defaultEntryPath
	}

	r.sink.Reset()
	r.sink.SetOnLog(func(level console.Level, message string) {
		if opts.OnLog != nil {
			opts.OnLog(string(level), message)
		}
	})

	if err := r.bindProcess(opts); err != nil {
		return ExecutionResult{OK: false, Error: err.Error()}
	}

	if err := r.fsys.WriteFile(entryPath, []byte(source), 0o644); err != nil {
		return ExecutionResult{OK: false, Error: err.Error(), Logs: r.sink.Records()}
	}

	for _, pkgName := range imports.Detect(source) {
		if _, err := r.npmClt.Install(context.Background(), r.fsys, "/node_modules", pkgName, "latest", npm.InstallOptions{}); err != nil {
			return ExecutionResult{OK: false, Error: err.Error(), Logs: r.sink.Records()}
		}
	}

	l := linker.New(r.ctx, r.fsys, r.resolver, r.registry)
	l.SetFormatCache(r.formatCache)
	result, err := l.LoadEntry(entryPath, source)
	if err != nil {
		return ExecutionResult{OK: false, Error: err.Error(), Logs: r.sink.Records()}
	}

	return ExecutionResult{OK: true, Data: valueToAny(result), Logs: r.sink.Records()}
}

// GetFilesystem exposes the virtual filesystem backing this Runtime, for
// seeding fixtures or inspecting what a script wrote.
func (r *Runtime) GetFilesystem() *vfs.FS {
	return r.fsys
}

// Terminate disposes the engine context and runtime, forcibly releasing
// any outstanding handles, and closes the npm cache database. Idempotent.
func (r *Runtime) Terminate() error {
	if r.ctx != nil {
		r.ctx.Dispose()
		r.ctx = nil
	}
	if r.bridge != nil {
		r.bridge.Close()
		r.bridge = nil
	}
	if r.cacheDB != nil {
		r.cacheDB.Close()
		r.cacheDB = nil
	}
	return nil
}
