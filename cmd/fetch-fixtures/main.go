// Command fetch-fixtures downloads real npm package tarballs and saves them
// under testdata/npm-fixtures/ alongside a manifest.json recording each
// package's resolved version and checksum.
//
// The fixtures let tests exercise the full acquisition pipeline (registry
// metadata shape, tarball extraction) through a StaticFetcher instead of
// reaching the real network on every run.
//
// Usage:
//
//	fetch-fixtures -pkg lodash -pkg left-pad@1.3.0
//	fetch-fixtures                      # fetches the default fixture set
package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const registryBase = "https://registry.npmjs.org"

// defaultPkgs is fetched when -pkg is never passed: a small spread of real
// packages covering a scoped name, a package with dependencies, and a
// single-file package with none.
var defaultPkgs = []string{"left-pad", "is-odd", "@babel/code-frame"}

// Manifest is written to testdata/npm-fixtures/manifest.json.
type Manifest struct {
	Packages []PackageFixture `json:"packages"`
}

// PackageFixture describes one vendored package tarball plus the registry
// metadata response it was resolved from.
type PackageFixture struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	TarballSHA256 string `json:"tarballSha256"`
	TarballFile   string `json:"tarballFile"`
	MetadataFile  string `json:"metadataFile"`
}

type pkgFlag []string

func (p *pkgFlag) String() string { return strings.Join(*p, ",") }
func (p *pkgFlag) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("fetch-fixtures: ")

	var pkgs pkgFlag
	flag.Var(&pkgs, "pkg", "package to fetch, as name or name@version (repeatable)")
	outDirFlag := flag.String("out", filepath.Join("testdata", "npm-fixtures"), "output directory")
	flag.Parse()

	if len(pkgs) == 0 {
		pkgs = defaultPkgs
	}

	if err := fetchAll(*outDirFlag, pkgs); err != nil {
		log.Fatal(err)
	}
}

// splitPkgSpec splits "name@version" into its parts, handling a scoped
// name's own leading "@" (e.g. "@babel/code-frame@7.0.0").
func splitPkgSpec(spec string) (name, version string) {
	scoped := strings.HasPrefix(spec, "@")
	if scoped {
		spec = spec[1:]
	}
	name, version, _ = strings.Cut(spec, "@")
	if scoped {
		name = "@" + name
	}
	return name, version
}

func fetchAll(outDir string, pkgs []string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	manifest := Manifest{Packages: make([]PackageFixture, 0, len(pkgs))}

	for _, spec := range pkgs {
		name, wantVersion := splitPkgSpec(spec)

		log.Printf("fetching metadata for %s", name)
		metaBytes, err := fetchMetadata(client, name)
		if err != nil {
			return fmt.Errorf("fetching metadata for %s: %w", name, err)
		}

		var meta registryMetadata
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return fmt.Errorf("decoding metadata for %s: %w", name, err)
		}

		version := wantVersion
		if version == "" {
			version = meta.DistTags["latest"]
		}
		vinfo, ok := meta.Versions[version]
		if !ok {
			return fmt.Errorf("package %s has no metadata for resolved version %q", name, version)
		}

		log.Printf("  [%s] downloading %s@%s", name, name, version)
		tarballData, err := fetchBytes(client, vinfo.Dist.Tarball)
		if err != nil {
			return fmt.Errorf("fetching tarball for %s@%s: %w", name, version, err)
		}

		safeName := strings.ReplaceAll(strings.TrimPrefix(name, "@"), "/", "__")
		tarballFile := safeName + "-" + version + ".tgz"
		metadataFile := safeName + ".metadata.json"

		if err := os.WriteFile(filepath.Join(outDir, tarballFile), tarballData, 0o644); err != nil {
			return fmt.Errorf("writing tarball for %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(outDir, metadataFile), metaBytes, 0o644); err != nil {
			return fmt.Errorf("writing metadata for %s: %w", name, err)
		}

		sum := sha256.Sum256(tarballData)
		manifest.Packages = append(manifest.Packages, PackageFixture{
			Name:          name,
			Version:       version,
			TarballSHA256: fmt.Sprintf("%x", sum),
			TarballFile:   tarballFile,
			MetadataFile:  metadataFile,
		})
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	manifestPath := filepath.Join(outDir, "manifest.json")
	if err := os.WriteFile(manifestPath, manifestJSON, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	log.Printf("wrote %d fixtures + manifest to %s", len(manifest.Packages), outDir)
	return nil
}

// registryMetadata is the subset of a registry package document this
// command needs: dist-tags for default-version resolution and each
// version's tarball URL.
type registryMetadata struct {
	DistTags map[string]string `json:"dist-tags"`
	Versions map[string]struct {
		Dist struct {
			Tarball string `json:"tarball"`
		} `json:"dist"`
	} `json:"versions"`
}

func fetchMetadata(client *http.Client, name string) ([]byte, error) {
	return fetchBytes(client, registryBase+"/"+name)
}

func fetchBytes(client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: HTTP %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
