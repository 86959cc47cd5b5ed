package linker_test

import (
	"testing"
	"time"

	"github.com/yangshun/nodepack-sub002/internal/engine"
	"github.com/yangshun/nodepack-sub002/internal/linker"
	"github.com/yangshun/nodepack-sub002/internal/modresolve"
	"github.com/yangshun/nodepack-sub002/internal/shim"
	"github.com/yangshun/nodepack-sub002/internal/vfs"
)

type zeroEntropy struct{}

func (zeroEntropy) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func newLinker(t *testing.T) (*linker.Linker, *vfs.FS) {
	t.Helper()
	b, err := engine.NewBridge(engine.Options{MemoryLimit: 64 << 20})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	ctx, err := b.NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(ctx.Dispose)

	fsys := vfs.New(func() time.Time { return time.Unix(0, 0) })
	registry, err := shim.NewRegistry(fsys, zeroEntropy{}, shim.ProcessOptions{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	resolver := modresolve.New(fsys, registry.Names())
	return linker.New(ctx, fsys, resolver, registry), fsys
}

func TestLoadEntryRequiresBuiltinPath(t *testing.T) {
	l, _ := newLinker(t)

	result, err := l.LoadEntry("/main.js", `
		const p = require('path');
		module.exports = p.join('x', 'y');
	`)
	if err != nil {
		t.Fatalf("LoadEntry: %v", err)
	}
	if result.Kind != engine.KindString || result.String != "x/y" {
		t.Fatalf("result = %+v, want string \"x/y\"", result)
	}
}

func TestLoadEntryRequiresLocalCJSDependency(t *testing.T) {
	l, fsys := newLinker(t)
	if err := fsys.WriteFile("/lib.js", []byte(`module.exports = { greet: function(name) { return 'hi ' + name; } };`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := l.LoadEntry("/main.js", `
		const lib = require('./lib.js');
		module.exports = lib.greet('world');
	`)
	if err != nil {
		t.Fatalf("LoadEntry: %v", err)
	}
	if result.Kind != engine.KindString || result.String != "hi world" {
		t.Fatalf("result = %+v, want \"hi world\"", result)
	}
}

func TestLoadEntrySharesSingleInstanceAcrossRequires(t *testing.T) {
	l, fsys := newLinker(t)
	if err := fsys.WriteFile("/counter.js", []byte(`
		let n = 0;
		module.exports = { next: function() { n += 1; return n; } };
	`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := l.LoadEntry("/main.js", `
		const a = require('./counter.js');
		const b = require('./counter.js');
		a.next();
		b.next();
		module.exports = a.next();
	`)
	if err != nil {
		t.Fatalf("LoadEntry: %v", err)
	}
	if result.Kind != engine.KindNumber || result.Number != 3 {
		t.Fatalf("result = %+v, want 3 (same counter instance across both requires)", result)
	}
}

func TestLoadEntryESMDefaultExport(t *testing.T) {
	l, _ := newLinker(t)

	result, err := l.LoadEntry("/main.js", `
		const value = 1 + 2;
		export default value;
	`)
	if err != nil {
		t.Fatalf("LoadEntry: %v", err)
	}
	if result.Kind != engine.KindNumber || result.Number != 3 {
		t.Fatalf("result = %+v, want 3", result)
	}
}

func TestLoadEntryESMImportsBuiltin(t *testing.T) {
	l, _ := newLinker(t)

	result, err := l.LoadEntry("/main.js", `
		import path from 'path';
		export default path.join('a', 'b');
	`)
	if err != nil {
		t.Fatalf("LoadEntry: %v", err)
	}
	if result.Kind != engine.KindString || result.String != "a/b" {
		t.Fatalf("result = %+v, want \"a/b\"", result)
	}
}

func TestLoadEntryESMImportsLocalCJSModule(t *testing.T) {
	l, fsys := newLinker(t)
	if err := fsys.WriteFile("/lib.js", []byte(`module.exports = { value: 42 };`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := l.LoadEntry("/main.js", `
		import { value } from './lib.js';
		export default value;
	`)
	if err != nil {
		t.Fatalf("LoadEntry: %v", err)
	}
	if result.Kind != engine.KindNumber || result.Number != 42 {
		t.Fatalf("result = %+v, want 42", result)
	}
}

func TestLoadEntryCJSRequiresNativeCrypto(t *testing.T) {
	l, _ := newLinker(t)

	result, err := l.LoadEntry("/main.js", `
		const crypto = require('crypto');
		module.exports = crypto.createHash('sha256').update('abc').digest('hex');
	`)
	if err != nil {
		t.Fatalf("LoadEntry: %v", err)
	}
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if result.Kind != engine.KindString || result.String != want {
		t.Fatalf("result = %+v, want %q", result, want)
	}
}

func TestLoadEntryNodeSchemeBuiltin(t *testing.T) {
	l, _ := newLinker(t)

	result, err := l.LoadEntry("/main.js", `
		const path = require('node:path');
		module.exports = path.basename('/a/b/c.js');
	`)
	if err != nil {
		t.Fatalf("LoadEntry: %v", err)
	}
	if result.Kind != engine.KindString || result.String != "c.js" {
		t.Fatalf("result = %+v, want \"c.js\"", result)
	}
}
