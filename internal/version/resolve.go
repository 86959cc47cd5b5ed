// Package version resolves an npm version range or dist-tag against a
// registry manifest's version set, following the precedence rules a
// registry client needs: exact dist-tag, wildcard, then maximum-satisfying
// semver range.
package version

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Metadata is the subset of a registry manifest the resolver needs.
type Metadata struct {
	DistTags map[string]string // e.g. {"latest": "2.1.0"}
	Versions []string          // all published version strings
}

// NoMatchingVersionError is returned when no published version satisfies range.
type NoMatchingVersionError struct {
	Range     string
	Available []string // a few available versions, for diagnostics
}

func (e *NoMatchingVersionError) Error() string {
	avail := e.Available
	if len(avail) > 5 {
		avail = avail[:5]
	}
	return fmt.Sprintf("version: no version matching range %q (available: %v)", e.Range, avail)
}

// Resolve picks the concrete version string satisfying rng against meta.
//
// Precedence, matching the reference registry client:
//  1. rng matches a dist-tag name exactly (e.g. "latest") → that tag's version.
//  2. rng is "*" or "" (wildcard) → dist-tags["latest"].
//  3. otherwise → the maximum version in meta.Versions satisfying rng as a
//     semver range.
//
// Resolve is idempotent: calling it twice with the same arguments returns
// the same version.
func Resolve(rng string, meta Metadata) (string, error) {
	if v, ok := meta.DistTags[rng]; ok {
		return v, nil
	}
	if rng == "*" || rng == "" {
		if v, ok := meta.DistTags["latest"]; ok {
			return v, nil
		}
		return "", &NoMatchingVersionError{Range: rng, Available: meta.Versions}
	}

	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return "", fmt.Errorf("version: invalid range %q: %w", rng, err)
	}

	var best *semver.Version
	var bestStr string
	for _, vs := range meta.Versions {
		v, err := semver.NewVersion(vs)
		if err != nil {
			continue // skip unparsable published versions rather than fail the whole resolve
		}
		if !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestStr = vs
		}
	}
	if best == nil {
		avail := append([]string(nil), meta.Versions...)
		sort.Strings(avail)
		return "", &NoMatchingVersionError{Range: rng, Available: avail}
	}
	return bestStr, nil
}
