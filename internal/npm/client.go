// Package npm implements the npm acquisition pipeline: registry metadata
// fetch, version resolution, tarball download and extraction into a
// virtual filesystem, and recursive dependency installation with
// per-parent nested node_modules.
package npm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/yangshun/nodepack-sub002/internal/tarball"
	"github.com/yangshun/nodepack-sub002/internal/vfs"
	"github.com/yangshun/nodepack-sub002/internal/version"
)

// Fetcher is the subset of the host's network capability the npm client
// needs. Defined locally (rather than imported from the root package) so
// this package has no dependency on nodepack's public API.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

var tarballBucket = []byte("tarballs")

// Options configures a Client.
type Options struct {
	Fetcher     Fetcher
	RegistryURL string // defaults to the public npm registry
	CacheDB     *bolt.DB
	Logger      *slog.Logger
	ManifestLRU int // manifest cache size; 0 uses a sane default
}

// InstallOptions controls one Install call.
type InstallOptions struct {
	IncludeDev bool
	Force      bool
}

// InstallRecord describes one package installed into the VFS.
type InstallRecord struct {
	Name    string
	Version string
	Path    string // absolute VFS directory the package was installed to
}

// Client drives package installation into a vfs.FS.
type Client struct {
	fetcher     Fetcher
	registryURL string
	cacheDB     *bolt.DB
	logger      *slog.Logger
	manifests   *lru.Cache[string, Manifest]
	installed   map[string]InstallRecord // key: installPath + "|" + name@version
}

// New creates a Client. opts.Fetcher must be non-nil for any real install
// to succeed; a nil fetcher is valid for tests that only exercise the
// cache path.
func New(opts Options) (*Client, error) {
	registryURL := opts.RegistryURL
	if registryURL == "" {
		registryURL = "https://registry.npmjs.org"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := opts.ManifestLRU
	if size <= 0 {
		size = 256
	}
	manifests, err := lru.New[string, Manifest](size)
	if err != nil {
		return nil, fmt.Errorf("nodepack/npm: creating manifest cache: %w", err)
	}

	if opts.CacheDB != nil {
		if err := opts.CacheDB.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(tarballBucket)
			return err
		}); err != nil {
			return nil, fmt.Errorf("nodepack/npm: preparing tarball cache bucket: %w", err)
		}
	}

	return &Client{
		fetcher:     opts.Fetcher,
		registryURL: registryURL,
		cacheDB:     opts.CacheDB,
		logger:      logger,
		manifests:   manifests,
		installed:   make(map[string]InstallRecord),
	}, nil
}

// Install resolves name@range against the registry and installs it, with
// its dependency closure, into fsys under installPath/<name>. Dependencies
// are installed recursively; devDependencies are added only when
// opts.IncludeDev is set, and only for this top-level package.
func (c *Client) Install(ctx context.Context, fsys *vfs.FS, installPath, name, rng string, opts InstallOptions) (InstallRecord, error) {
	return c.install(ctx, fsys, installPath, name, rng, opts, map[string]InstallRecord{})
}

// install carries seen, a name→record map of every package already placed
// at an ancestor node_modules along the current path from the closure's
// root. A dependency already satisfied by an ancestor at the same version
// is left alone rather than installed a second time nested under its
// dependent — module resolution walks up through node_modules directories
// anyway, so the ancestor copy is reachable from here.
// Version conflicts still produce separate nested copies: seen is copied
// (not shared by reference) into each child call, so a package installed
// nested because it conflicted with an ancestor only shadows that branch,
// not its siblings.
func (c *Client) install(ctx context.Context, fsys *vfs.FS, installPath, name, rng string, opts InstallOptions, seen map[string]InstallRecord) (InstallRecord, error) {
	manifest, err := c.fetchManifest(ctx, name)
	if err != nil {
		return InstallRecord{}, err
	}

	resolved, err := version.Resolve(rng, version.Metadata{
		DistTags: manifest.DistTags,
		Versions: manifest.versionList(),
	})
	if err != nil {
		return InstallRecord{}, fmt.Errorf("nodepack/npm: resolving %s@%s: %w", name, rng, err)
	}

	if ancestor, ok := seen[name]; ok && ancestor.Version == resolved && !opts.Force {
		c.logger.Debug("npm install satisfied by ancestor", slog.String("name", name), slog.String("version", resolved), slog.String("path", ancestor.Path))
		return ancestor, nil
	}

	key := installPath + "|" + name + "@" + resolved
	if rec, ok := c.installed[key]; ok && !opts.Force {
		c.logger.Debug("npm install cache hit", slog.String("name", name), slog.String("version", resolved))
		return rec, nil
	}

	vinfo, ok := manifest.Versions[resolved]
	if !ok {
		return InstallRecord{}, fmt.Errorf("nodepack/npm: resolved version %q has no manifest entry for %s", resolved, name)
	}

	pkgDir := path.Join(installPath, name)
	if err := c.installTarball(ctx, fsys, pkgDir, name, resolved, vinfo.Dist.Tarball); err != nil {
		return InstallRecord{}, err
	}

	record := InstallRecord{Name: name, Version: resolved, Path: pkgDir}
	c.installed[key] = record
	c.logger.Info("npm install complete", slog.String("name", name), slog.String("version", resolved), slog.String("path", pkgDir))

	deps := map[string]string{}
	for k, v := range vinfo.Dependencies {
		deps[k] = v
	}
	if opts.IncludeDev {
		for k, v := range vinfo.DevDependencies {
			deps[k] = v
		}
	}
	childSeen := make(map[string]InstallRecord, len(seen)+1)
	for k, v := range seen {
		childSeen[k] = v
	}
	childSeen[name] = record

	nestedInstallPath := path.Join(pkgDir, "node_modules")
	for depName, depRange := range deps {
		if _, err := c.install(ctx, fsys, nestedInstallPath, depName, depRange, InstallOptions{IncludeDev: false, Force: opts.Force}, childSeen); err != nil {
			return InstallRecord{}, fmt.Errorf("nodepack/npm: installing dependency %s of %s: %w", depName, name, err)
		}
	}

	return record, nil
}

func (c *Client) fetchManifest(ctx context.Context, name string) (Manifest, error) {
	if cached, ok := c.manifests.Get(name); ok {
		return cached, nil
	}
	if c.fetcher == nil {
		return Manifest{}, fmt.Errorf("nodepack/npm: no fetcher configured, cannot fetch metadata for %q", name)
	}

	url := c.registryURL + "/" + encodePackagePath(name)
	c.logger.Debug("fetching npm metadata", slog.String("name", name), slog.String("url", url))
	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return Manifest{}, fmt.Errorf("nodepack/npm: fetching metadata for %q: %w", name, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("nodepack/npm: decoding metadata for %q: %w", name, err)
	}
	c.manifests.Add(name, m)
	return m, nil
}

func (c *Client) installTarball(ctx context.Context, fsys *vfs.FS, pkgDir, name, resolvedVersion, tarballURL string) error {
	data, err := c.fetchTarballBytes(ctx, name, resolvedVersion, tarballURL)
	if err != nil {
		return err
	}

	entries, err := tarball.Extract(data)
	if err != nil {
		return fmt.Errorf("nodepack/npm: extracting %s@%s: %w", name, resolvedVersion, err)
	}

	if err := fsys.Mkdir(pkgDir, vfs.MkdirOptions{Recursive: true}); err != nil {
		return fmt.Errorf("nodepack/npm: creating install directory %q: %w", pkgDir, err)
	}
	for _, e := range entries {
		target := path.Join(pkgDir, e.CleanPath)
		switch e.Type {
		case tarball.TypeDirectory:
			if err := fsys.Mkdir(target, vfs.MkdirOptions{Recursive: true}); err != nil {
				return fmt.Errorf("nodepack/npm: creating %q: %w", target, err)
			}
		case tarball.TypeFile:
			if err := fsys.Mkdir(path.Dir(target), vfs.MkdirOptions{Recursive: true}); err != nil {
				return fmt.Errorf("nodepack/npm: creating parent of %q: %w", target, err)
			}
			mode := e.Mode
			if mode == 0 {
				mode = 0o644
			}
			if err := fsys.WriteFile(target, e.Data, mode); err != nil {
				return fmt.Errorf("nodepack/npm: writing %q: %w", target, err)
			}
		}
	}
	return nil
}

// fetchTarballBytes serves from the content-addressed bbolt cache (keyed
// by name@version) when available, falling back to the network and
// populating the cache on success.
func (c *Client) fetchTarballBytes(ctx context.Context, name, resolvedVersion, tarballURL string) ([]byte, error) {
	cacheKey := []byte(name + "@" + resolvedVersion)

	if c.cacheDB != nil {
		var cached []byte
		_ = c.cacheDB.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(tarballBucket)
			if v := b.Get(cacheKey); v != nil {
				cached = make([]byte, len(v))
				copy(cached, v)
			}
			return nil
		})
		if cached != nil {
			c.logger.Debug("tarball cache hit", slog.String("name", name), slog.String("version", resolvedVersion))
			return cached, nil
		}
	}

	if c.fetcher == nil {
		return nil, fmt.Errorf("nodepack/npm: no fetcher configured, cannot fetch tarball for %s@%s", name, resolvedVersion)
	}
	c.logger.Debug("fetching tarball", slog.String("name", name), slog.String("version", resolvedVersion), slog.String("url", tarballURL))
	data, err := c.fetcher.Fetch(ctx, tarballURL)
	if err != nil {
		return nil, fmt.Errorf("nodepack/npm: fetching tarball %q: %w", tarballURL, err)
	}

	if c.cacheDB != nil {
		_ = c.cacheDB.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(tarballBucket)
			return b.Put(cacheKey, data)
		})
	}
	return data, nil
}

// encodePackagePath handles scoped package names ("@scope/name" must be
// percent-encoded as a single path segment per the registry's own
// convention of accepting "@scope%2Fname" interchangeably with
// "@scope/name"; nodepack keeps the unescaped form since every registry in
// the pack's retrieval accepts it directly).
func encodePackagePath(name string) string {
	return name
}
