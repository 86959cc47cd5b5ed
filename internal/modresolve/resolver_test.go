package modresolve_test

import (
	"errors"
	"testing"

	"github.com/yangshun/nodepack-sub002/internal/modresolve"
	"github.com/yangshun/nodepack-sub002/internal/vfs"
)

func newFS(t *testing.T) *vfs.FS {
	t.Helper()
	return vfs.New(nil)
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func builtins() map[string]bool {
	return map[string]bool{"fs": true, "path": true, "crypto": true}
}

func TestResolveRelativeExactMatch(t *testing.T) {
	fs := newFS(t)
	must(t, fs.Mkdir("/lib", vfs.MkdirOptions{Recursive: true}))
	must(t, fs.WriteFile("/lib/helper.js", []byte("x"), 0))
	r := modresolve.New(fs, builtins())

	got, err := r.Resolve("./helper.js", "/lib/main.js", true)
	must(t, err)
	if got.Path != "/lib/helper.js" {
		t.Errorf("Path = %q", got.Path)
	}
}

func TestResolveRelativeAppendsExtension(t *testing.T) {
	fs := newFS(t)
	must(t, fs.Mkdir("/lib", vfs.MkdirOptions{Recursive: true}))
	must(t, fs.WriteFile("/lib/helper.js", []byte("x"), 0))
	r := modresolve.New(fs, builtins())

	got, err := r.Resolve("./helper", "/lib/main.js", true)
	must(t, err)
	if got.Path != "/lib/helper.js" {
		t.Errorf("Path = %q", got.Path)
	}
}

func TestResolveRelativeIndexFallback(t *testing.T) {
	fs := newFS(t)
	must(t, fs.Mkdir("/lib/sub", vfs.MkdirOptions{Recursive: true}))
	must(t, fs.WriteFile("/lib/sub/index.js", []byte("x"), 0))
	r := modresolve.New(fs, builtins())

	got, err := r.Resolve("./sub", "/lib/main.js", true)
	must(t, err)
	if got.Path != "/lib/sub/index.js" {
		t.Errorf("Path = %q", got.Path)
	}
}

func TestResolveNodeScheme(t *testing.T) {
	fs := newFS(t)
	r := modresolve.New(fs, builtins())

	got, err := r.Resolve("node:fs", "/main.js", true)
	must(t, err)
	if got.Builtin != "fs" {
		t.Errorf("Builtin = %q, want fs", got.Builtin)
	}
}

func TestResolveBareBuiltin(t *testing.T) {
	fs := newFS(t)
	r := modresolve.New(fs, builtins())

	got, err := r.Resolve("fs", "/main.js", true)
	must(t, err)
	if got.Builtin != "fs" {
		t.Errorf("Builtin = %q, want fs", got.Builtin)
	}
}

func TestResolveBarePackageMainField(t *testing.T) {
	fs := newFS(t)
	must(t, fs.Mkdir("/node_modules/leftpad", vfs.MkdirOptions{Recursive: true}))
	must(t, fs.WriteFile("/node_modules/leftpad/package.json", []byte(`{"main":"index.js"}`), 0))
	must(t, fs.WriteFile("/node_modules/leftpad/index.js", []byte("module.exports = 1"), 0))
	r := modresolve.New(fs, builtins())

	got, err := r.Resolve("leftpad", "/main.js", false)
	must(t, err)
	if got.Path != "/node_modules/leftpad/index.js" {
		t.Errorf("Path = %q", got.Path)
	}
}

func TestResolveBarePackagePrefersModuleFieldForESM(t *testing.T) {
	fs := newFS(t)
	must(t, fs.Mkdir("/node_modules/dual", vfs.MkdirOptions{Recursive: true}))
	must(t, fs.WriteFile("/node_modules/dual/package.json", []byte(`{"main":"cjs.js","module":"esm.js"}`), 0))
	must(t, fs.WriteFile("/node_modules/dual/esm.js", []byte("export default 1"), 0))
	must(t, fs.WriteFile("/node_modules/dual/cjs.js", []byte("module.exports = 1"), 0))
	r := modresolve.New(fs, builtins())

	got, err := r.Resolve("dual", "/main.js", true)
	must(t, err)
	if got.Path != "/node_modules/dual/esm.js" {
		t.Errorf("Path = %q, want esm.js", got.Path)
	}
}

func TestResolveBarePackageWalksUpNodeModules(t *testing.T) {
	fs := newFS(t)
	must(t, fs.Mkdir("/a/b/node_modules", vfs.MkdirOptions{Recursive: true}))
	must(t, fs.WriteFile("/a/main.js", []byte("x"), 0))
	must(t, fs.Mkdir("/node_modules/dep", vfs.MkdirOptions{Recursive: true}))
	must(t, fs.WriteFile("/node_modules/dep/package.json", []byte(`{"main":"index.js"}`), 0))
	must(t, fs.WriteFile("/node_modules/dep/index.js", []byte("x"), 0))
	r := modresolve.New(fs, builtins())

	got, err := r.Resolve("dep", "/a/b/deep.js", false)
	must(t, err)
	if got.Path != "/node_modules/dep/index.js" {
		t.Errorf("Path = %q", got.Path)
	}
}

func TestResolveExportsSubpathMap(t *testing.T) {
	fs := newFS(t)
	must(t, fs.Mkdir("/node_modules/pkg", vfs.MkdirOptions{Recursive: true}))
	manifest := `{"exports":{".":"./index.js","./utils":"./lib/utils.js"}}`
	must(t, fs.WriteFile("/node_modules/pkg/package.json", []byte(manifest), 0))
	must(t, fs.Mkdir("/node_modules/pkg/lib", vfs.MkdirOptions{Recursive: true}))
	must(t, fs.WriteFile("/node_modules/pkg/index.js", []byte("x"), 0))
	must(t, fs.WriteFile("/node_modules/pkg/lib/utils.js", []byte("x"), 0))
	r := modresolve.New(fs, builtins())

	root, err := r.Resolve("pkg", "/main.js", true)
	must(t, err)
	if root.Path != "/node_modules/pkg/index.js" {
		t.Errorf("root Path = %q", root.Path)
	}

	sub, err := r.Resolve("pkg/utils", "/main.js", true)
	must(t, err)
	if sub.Path != "/node_modules/pkg/lib/utils.js" {
		t.Errorf("sub Path = %q", sub.Path)
	}
}

func TestResolveExportsUnmappedSubpathFails(t *testing.T) {
	fs := newFS(t)
	must(t, fs.Mkdir("/node_modules/pkg", vfs.MkdirOptions{Recursive: true}))
	must(t, fs.WriteFile("/node_modules/pkg/package.json", []byte(`{"exports":{".":"./index.js"}}`), 0))
	must(t, fs.WriteFile("/node_modules/pkg/index.js", []byte("x"), 0))
	r := modresolve.New(fs, builtins())

	_, err := r.Resolve("pkg/secret", "/main.js", true)
	var notMapped *modresolve.ExportsNotMappedError
	if !errors.As(err, &notMapped) {
		t.Fatalf("got %v, want *ExportsNotMappedError", err)
	}
}

func TestResolveExportsConditional(t *testing.T) {
	fs := newFS(t)
	must(t, fs.Mkdir("/node_modules/pkg", vfs.MkdirOptions{Recursive: true}))
	manifest := `{"exports":{"import":"./esm.js","require":"./cjs.js"}}`
	must(t, fs.WriteFile("/node_modules/pkg/package.json", []byte(manifest), 0))
	must(t, fs.WriteFile("/node_modules/pkg/esm.js", []byte("x"), 0))
	must(t, fs.WriteFile("/node_modules/pkg/cjs.js", []byte("x"), 0))
	r := modresolve.New(fs, builtins())

	esm, err := r.Resolve("pkg", "/main.js", true)
	must(t, err)
	if esm.Path != "/node_modules/pkg/esm.js" {
		t.Errorf("esm Path = %q", esm.Path)
	}

	cjs, err := r.Resolve("pkg", "/main.js", false)
	must(t, err)
	if cjs.Path != "/node_modules/pkg/cjs.js" {
		t.Errorf("cjs Path = %q", cjs.Path)
	}
}

func TestResolveBrowserFieldStringOverride(t *testing.T) {
	fs := newFS(t)
	must(t, fs.Mkdir("/node_modules/pkg", vfs.MkdirOptions{Recursive: true}))
	must(t, fs.WriteFile("/node_modules/pkg/package.json", []byte(`{"main":"index.js","browser":"browser.js"}`), 0))
	must(t, fs.WriteFile("/node_modules/pkg/browser.js", []byte("x"), 0))
	must(t, fs.WriteFile("/node_modules/pkg/index.js", []byte("x"), 0))
	r := modresolve.New(fs, builtins())

	got, err := r.Resolve("pkg", "/main.js", false)
	must(t, err)
	if got.Path != "/node_modules/pkg/browser.js" {
		t.Errorf("Path = %q, want browser.js", got.Path)
	}
}

func TestResolveModuleNotFound(t *testing.T) {
	fs := newFS(t)
	r := modresolve.New(fs, builtins())

	_, err := r.Resolve("missing-pkg", "/main.js", true)
	var notFound *modresolve.ModuleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("got %v, want *ModuleNotFoundError", err)
	}
}
