package npm_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"testing"

	"github.com/yangshun/nodepack-sub002/internal/npm"
	"github.com/yangshun/nodepack-sub002/internal/vfs"
)

// fakeFetcher serves fixed responses keyed by exact URL, the same shape as
// npm_test's registry fixtures would come from an httptest.Server without
// needing to stand one up.
type fakeFetcher struct {
	responses map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	data, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("fakeFetcher: no response for %q", url)
	}
	return data, nil
}

// buildTarball constructs a gzipped ustar archive containing the given
// files, each nested under "package/" per npm convention.
func buildTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{
			Name: "package/" + name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip Close: %v", err)
	}
	return buf.Bytes()
}

func TestInstallSimplePackage(t *testing.T) {
	tgz := buildTarball(t, map[string]string{
		"package.json": `{"name":"leftpad","version":"1.0.0","main":"index.js"}`,
		"index.js":     "module.exports = function leftpad(s) { return s }",
	})
	manifest := `{
		"name": "leftpad",
		"dist-tags": {"latest": "1.0.0"},
		"versions": {
			"1.0.0": {"name":"leftpad","version":"1.0.0","dist":{"tarball":"https://registry.example/leftpad/-/leftpad-1.0.0.tgz"}}
		}
	}`
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"https://registry.example/leftpad":                       []byte(manifest),
		"https://registry.example/leftpad/-/leftpad-1.0.0.tgz": tgz,
	}}

	client, err := npm.New(npm.Options{Fetcher: fetcher, RegistryURL: "https://registry.example"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fsys := vfs.New(nil)
	rec, err := client.Install(context.Background(), fsys, "/node_modules", "leftpad", "^1.0.0", npm.InstallOptions{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if rec.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", rec.Version)
	}
	if rec.Path != "/node_modules/leftpad" {
		t.Errorf("Path = %q", rec.Path)
	}

	data, err := fsys.ReadFile("/node_modules/leftpad/index.js")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "module.exports = function leftpad(s) { return s }" {
		t.Errorf("index.js content = %q", data)
	}
}

func TestInstallRecursesDependencies(t *testing.T) {
	depTgz := buildTarball(t, map[string]string{
		"package.json": `{"name":"dep","version":"2.0.0"}`,
		"index.js":     "module.exports = 1",
	})
	rootTgz := buildTarball(t, map[string]string{
		"package.json": `{"name":"root","version":"1.0.0","dependencies":{"dep":"^2.0.0"}}`,
		"index.js":     "module.exports = require('dep')",
	})
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"https://registry.example/root": []byte(`{
			"dist-tags": {"latest": "1.0.0"},
			"versions": {"1.0.0": {"dist":{"tarball":"https://registry.example/root.tgz"}}}
		}`),
		"https://registry.example/root.tgz": rootTgz,
		"https://registry.example/dep": []byte(`{
			"dist-tags": {"latest": "2.0.0"},
			"versions": {"2.0.0": {"dist":{"tarball":"https://registry.example/dep.tgz"}}}
		}`),
		"https://registry.example/dep.tgz": depTgz,
	}}

	client, err := npm.New(npm.Options{Fetcher: fetcher, RegistryURL: "https://registry.example"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fsys := vfs.New(nil)
	_, err = client.Install(context.Background(), fsys, "/node_modules", "root", "^1.0.0", npm.InstallOptions{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	if _, err := fsys.Stat("/node_modules/root/node_modules/dep/index.js"); err != nil {
		t.Errorf("dependency not installed into nested node_modules: %v", err)
	}
}

func TestInstallCacheHitSkipsRefetch(t *testing.T) {
	tgz := buildTarball(t, map[string]string{
		"package.json": `{"name":"once","version":"1.0.0"}`,
		"index.js":     "module.exports = 1",
	})
	calls := 0
	fetcher := &countingFetcher{
		inner: &fakeFetcher{responses: map[string][]byte{
			"https://registry.example/once": []byte(`{
				"dist-tags": {"latest": "1.0.0"},
				"versions": {"1.0.0": {"dist":{"tarball":"https://registry.example/once.tgz"}}}
			}`),
			"https://registry.example/once.tgz": tgz,
		}},
		calls: &calls,
	}

	client, err := npm.New(npm.Options{Fetcher: fetcher, RegistryURL: "https://registry.example"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fsys := vfs.New(nil)
	ctx := context.Background()

	if _, err := client.Install(ctx, fsys, "/node_modules", "once", "^1.0.0", npm.InstallOptions{}); err != nil {
		t.Fatalf("first Install: %v", err)
	}
	firstCalls := calls
	if _, err := client.Install(ctx, fsys, "/node_modules", "once", "^1.0.0", npm.InstallOptions{}); err != nil {
		t.Fatalf("second Install: %v", err)
	}
	if calls != firstCalls {
		t.Errorf("second Install made %d additional fetches, want 0 (cache hit)", calls-firstCalls)
	}
}

type countingFetcher struct {
	inner *fakeFetcher
	calls *int
}

func (f *countingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	*f.calls++
	return f.inner.Fetch(ctx, url)
}
