// Package imports scans ES-module source for bare specifiers so the
// runtime can pre-install them from npm before linking begins.
package imports

import (
	"regexp"
	"strings"
)

// builtinSet is the set of host-shim specifiers that are never resolved
// via npm, kept in sync with internal/shim's registrations.
var builtinSet = map[string]bool{
	"path": true, "events": true, "url": true, "querystring": true,
	"buffer": true, "crypto": true, "stream": true, "util": true,
	"process": true, "module": true, "child_process": true, "fs": true,
}

var (
	// import x from '...'; import {a,b} from "..."; import * as ns from '...'
	importFromRe = regexp.MustCompile(`(?m)^\s*import\s+(?:[^'"]+?\s+from\s+)?['"]([^'"]+)['"]`)
)

// Detect returns the unique set of bare package-name specifiers imported by
// src, in first-seen order. Relative ("./", "../"), absolute ("/"), and
// host-builtin specifiers are skipped.
func Detect(src string) []string {
	var out []string
	seen := make(map[string]bool)

	for _, m := range importFromRe.FindAllStringSubmatch(src, -1) {
		spec := m[1]
		name, ok := normalize(spec)
		if !ok {
			continue
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// normalize reduces an import specifier to an installable package name, or
// returns ok=false if the specifier should be skipped (relative, absolute,
// or a builtin).
func normalize(spec string) (string, bool) {
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || strings.HasPrefix(spec, "/") {
		return "", false
	}
	bare := strings.TrimPrefix(spec, "node:")
	if bare != spec && builtinSet[bare] {
		return "", false
	}
	if builtinSet[spec] {
		return "", false
	}

	if strings.HasPrefix(spec, "@") {
		parts := strings.SplitN(spec, "/", 3)
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1], true
		}
		return spec, true
	}

	parts := strings.SplitN(spec, "/", 2)
	return parts[0], true
}
