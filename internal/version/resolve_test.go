package version_test

import (
	"testing"

	"github.com/yangshun/nodepack-sub002/internal/version"
)

func meta() version.Metadata {
	return version.Metadata{
		DistTags: map[string]string{"latest": "2.1.0", "next": "3.0.0-beta.1"},
		Versions: []string{"1.0.0", "1.2.0", "2.0.0", "2.1.0", "3.0.0-beta.1"},
	}
}

func TestResolveDistTag(t *testing.T) {
	got, err := version.Resolve("latest", meta())
	if err != nil {
		t.Fatal(err)
	}
	if got != "2.1.0" {
		t.Errorf("got %q, want 2.1.0", got)
	}
}

func TestResolveWildcard(t *testing.T) {
	for _, rng := range []string{"*", ""} {
		got, err := version.Resolve(rng, meta())
		if err != nil {
			t.Fatalf("rng=%q: %v", rng, err)
		}
		if got != "2.1.0" {
			t.Errorf("rng=%q: got %q, want 2.1.0 (dist-tags.latest)", rng, got)
		}
	}
}

func TestResolveCaretRange(t *testing.T) {
	got, err := version.Resolve("^1.0.0", meta())
	if err != nil {
		t.Fatal(err)
	}
	if got != "1.2.0" {
		t.Errorf("got %q, want 1.2.0 (max satisfying ^1.0.0)", got)
	}
}

func TestResolveIdempotent(t *testing.T) {
	m := meta()
	a, err := version.Resolve("^2.0.0", m)
	if err != nil {
		t.Fatal(err)
	}
	b, err := version.Resolve("^2.0.0", m)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("Resolve not idempotent: %q != %q", a, b)
	}
}

func TestResolveNoMatch(t *testing.T) {
	_, err := version.Resolve("^9.0.0", meta())
	if err == nil {
		t.Fatal("expected NoMatchingVersionError")
	}
	nmv, ok := err.(*version.NoMatchingVersionError)
	if !ok {
		t.Fatalf("expected *NoMatchingVersionError, got %T", err)
	}
	if nmv.Range != "^9.0.0" {
		t.Errorf("Range = %q", nmv.Range)
	}
}

func TestResolveExactVersion(t *testing.T) {
	got, err := version.Resolve("1.0.0", meta())
	if err != nil {
		t.Fatal(err)
	}
	if got != "1.0.0" {
		t.Errorf("got %q, want 1.0.0", got)
	}
}
