// Package modresolve implements the module resolution algorithm:
// relative/absolute path resolution with the file-extension algorithm,
// bare-specifier resolution through node_modules with conditional exports
// and the legacy main/module/browser fields, and node: scheme routing to
// the builtin shim registry.
package modresolve

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/yangshun/nodepack-sub002/internal/vfs"
)

// Resolved is the outcome of a successful resolution: either an absolute
// VFS path to evaluate, or a builtin shim name.
type Resolved struct {
	Path    string // absolute VFS path; empty when Builtin is set
	Builtin string // builtin shim name (e.g. "fs"); empty when Path is set
}

// Resolver resolves import/require specifiers against a virtual filesystem.
type Resolver struct {
	fs       *vfs.FS
	builtins map[string]bool
}

// New creates a Resolver. builtins is the set of specifier names routed to
// the builtin shim registry instead of the filesystem (kept in sync with
// internal/shim's registrations, the same coupling internal/imports notes).
func New(fs *vfs.FS, builtins map[string]bool) *Resolver {
	return &Resolver{fs: fs, builtins: builtins}
}

// Resolve resolves specifier as imported/required from referrerPath (an
// absolute VFS path, or a root directory for the synthetic entry
// referrer). isESM selects the "module"/"import" condition over
// "main"/"require" where the two diverge.
func (r *Resolver) Resolve(specifier, referrerPath string, isESM bool) (Resolved, error) {
	if bare, ok := stripNodeScheme(specifier); ok {
		if r.builtins[bare] {
			return Resolved{Builtin: bare}, nil
		}
		return Resolved{}, &ModuleNotFoundError{Spec: specifier, From: referrerPath}
	}
	if r.builtins[specifier] {
		return Resolved{Builtin: specifier}, nil
	}

	referrerDir := path.Dir(referrerPath)
	if spec, ok := r.rewriteViaBrowserField(specifier, referrerDir); ok {
		specifier = spec
	}

	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") {
		joined := path.Join(referrerDir, specifier)
		p, err := r.resolveFileOrDir(joined)
		if err != nil {
			return Resolved{}, &ModuleNotFoundError{Spec: specifier, From: referrerPath}
		}
		return Resolved{Path: p}, nil
	}
	if strings.HasPrefix(specifier, "/") {
		p, err := r.resolveFileOrDir(specifier)
		if err != nil {
			return Resolved{}, &ModuleNotFoundError{Spec: specifier, From: referrerPath}
		}
		return Resolved{Path: p}, nil
	}

	p, err := r.resolveBare(specifier, referrerDir, isESM)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Path: p}, nil
}

func stripNodeScheme(spec string) (string, bool) {
	const prefix = "node:"
	if strings.HasPrefix(spec, prefix) {
		return strings.TrimPrefix(spec, prefix), true
	}
	return "", false
}

// resolveFileOrDir applies the file-extension algorithm: exact match, then
// ".js", then ".json", then treat as a directory and look for "index.js".
func (r *Resolver) resolveFileOrDir(p string) (string, error) {
	clean := path.Clean(p)
	for _, candidate := range []string{clean, clean + ".js", clean + ".json"} {
		if info, err := r.fs.Stat(candidate); err == nil && info.IsFile() {
			return candidate, nil
		}
	}
	if info, err := r.fs.Stat(clean); err == nil && info.IsDirectory() {
		index := path.Join(clean, "index.js")
		if info, err := r.fs.Stat(index); err == nil && info.IsFile() {
			return index, nil
		}
	}
	return "", fmt.Errorf("modresolve: no file found for %q", p)
}

// resolveBare walks up from referrerDir looking for a node_modules
// directory containing the package, then resolves the package's entry
// point (or a subpath within it) per its manifest.
func (r *Resolver) resolveBare(specifier, referrerDir string, isESM bool) (string, error) {
	pkgName, subpath := splitPackageSpecifier(specifier)

	dir := referrerDir
	for {
		pkgDir := path.Join(dir, "node_modules", pkgName)
		if info, err := r.fs.Stat(pkgDir); err == nil && info.IsDirectory() {
			return r.resolveWithinPackage(pkgDir, subpath, isESM, specifier, referrerDir)
		}
		if dir == "/" || dir == "." {
			break
		}
		parent := path.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", &ModuleNotFoundError{Spec: specifier, From: referrerDir}
}

func splitPackageSpecifier(specifier string) (pkgName, subpath string) {
	if strings.HasPrefix(specifier, "@") {
		parts := strings.SplitN(specifier, "/", 3)
		if len(parts) >= 2 {
			pkgName = parts[0] + "/" + parts[1]
		} else {
			pkgName = specifier
		}
		if len(parts) == 3 {
			subpath = parts[2]
		}
		return pkgName, subpath
	}
	parts := strings.SplitN(specifier, "/", 2)
	pkgName = parts[0]
	if len(parts) == 2 {
		subpath = parts[1]
	}
	return pkgName, subpath
}

func (r *Resolver) resolveWithinPackage(pkgDir, subpath string, isESM bool, specifier, referrerDir string) (string, error) {
	manifestPath := path.Join(pkgDir, "package.json")
	raw, err := r.fs.ReadFile(manifestPath)
	var manifest packageManifest
	if err == nil {
		_ = json.Unmarshal(raw, &manifest)
	}

	if manifest.Exports != nil {
		target, ok := resolveExports(manifest.Exports, subpath, isESM)
		if !ok {
			return "", &ExportsNotMappedError{Package: path.Base(pkgDir), Subpath: subpath}
		}
		return r.resolveFileOrDir(path.Join(pkgDir, target))
	}

	if subpath != "" {
		return r.resolveFileOrDir(path.Join(pkgDir, subpath))
	}

	entry := pickEntry(manifest, isESM)
	return r.resolveFileOrDir(path.Join(pkgDir, entry))
}

func pickEntry(m packageManifest, isESM bool) string {
	if browserStr, ok := m.browserString(); ok {
		return browserStr
	}
	if isESM && m.Module != "" {
		return m.Module
	}
	if m.Main != "" {
		return m.Main
	}
	return "index.js"
}

// rewriteViaBrowserField looks up the nearest package.json above
// referrerDir and, if it declares a browser field mapping (object form),
// rewrites specifier per that map before normal resolution continues.
func (r *Resolver) rewriteViaBrowserField(specifier, referrerDir string) (string, bool) {
	dir := referrerDir
	for {
		manifestPath := path.Join(dir, "package.json")
		if raw, err := r.fs.ReadFile(manifestPath); err == nil {
			var m packageManifest
			if json.Unmarshal(raw, &m) == nil {
				if mapping, ok := m.browserMap(); ok {
					if to, ok := mapping[specifier]; ok {
						return to, true
					}
				}
			}
			break // first package.json found wins, whether or not it remaps
		}
		if dir == "/" || dir == "." {
			break
		}
		parent := path.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return specifier, false
}

type packageManifest struct {
	Main    string          `json:"main"`
	Module  string          `json:"module"`
	Browser json.RawMessage `json:"browser"`
	Exports json.RawMessage `json:"exports"`
}

func (m packageManifest) browserString() (string, bool) {
	if len(m.Browser) == 0 {
		return "", false
	}
	var s string
	if json.Unmarshal(m.Browser, &s) == nil && s != "" {
		return s, true
	}
	return "", false
}

func (m packageManifest) browserMap() (map[string]string, bool) {
	if len(m.Browser) == 0 {
		return nil, false
	}
	var mp map[string]string
	if json.Unmarshal(m.Browser, &mp) == nil {
		return mp, true
	}
	return nil, false
}

// resolveExports implements a practical subset of Node's conditional
// exports algorithm: a string shorthand for the whole package, a subpath
// map (keys starting with "."), or a bare condition object for the package
// root. Wildcard subpath patterns ("./*") are supported; anything else
// unmatched is reported as unmapped.
func resolveExports(raw json.RawMessage, subpath string, isESM bool) (string, bool) {
	key := "."
	if subpath != "" {
		key = "./" + subpath
	}

	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		if subpath == "" {
			return asString, true
		}
		return "", false
	}

	var asMap map[string]json.RawMessage
	if json.Unmarshal(raw, &asMap) != nil {
		return "", false
	}

	if isSubpathMap(asMap) {
		if target, ok := asMap[key]; ok {
			return stringOrCondition(target, isESM)
		}
		for k, target := range asMap {
			if prefix, suffix, ok := wildcardParts(k); ok {
				if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix) {
					matched := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
					if s, ok := stringOrCondition(target, isESM); ok {
						return strings.Replace(s, "*", matched, 1), true
					}
				}
			}
		}
		return "", false
	}

	if subpath != "" {
		return "", false
	}
	return stringOrCondition(raw, isESM)
}

func isSubpathMap(m map[string]json.RawMessage) bool {
	for k := range m {
		if strings.HasPrefix(k, ".") {
			return true
		}
	}
	return false
}

func wildcardParts(pattern string) (prefix, suffix string, ok bool) {
	i := strings.Index(pattern, "*")
	if i < 0 {
		return "", "", false
	}
	return pattern[:i], pattern[i+1:], true
}

// stringOrCondition resolves a single exports value: either a literal
// string target, or a nested condition object picked by import/require
// then default.
func stringOrCondition(raw json.RawMessage, isESM bool) (string, bool) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return "", false
	}
	order := []string{"require", "default"}
	if isESM {
		order = []string{"import", "default"}
	}
	for _, cond := range order {
		if v, ok := obj[cond]; ok {
			return stringOrCondition(v, isESM)
		}
	}
	return "", false
}

// ModuleNotFoundError reports that specifier could not be resolved.
type ModuleNotFoundError struct {
	Spec string
	From string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("modresolve: module %q not found (imported from %q)", e.Spec, e.From)
}

// ExportsNotMappedError reports a subpath falling outside a package's
// "exports" map.
type ExportsNotMappedError struct {
	Package string
	Subpath string
}

func (e *ExportsNotMappedError) Error() string {
	return fmt.Sprintf("modresolve: subpath %q is not exported by package %q", e.Subpath, e.Package)
}
