package nodepack

import (
	"log/slog"
	"time"

	"github.com/yangshun/nodepack-sub002/internal/engine"
)

// EngineFactory creates a new engine bridge. Overridable for tests that
// want to substitute a fake bridge instead of the real QuickJS one.
type EngineFactory func(opts engine.Options) (engine.Bridge, error)

// Option configures a Runtime.
type Option func(*config)

type config struct {
	fetcher       Fetcher
	entropy       EntropySource
	clock         Clock
	registryURL   string
	cacheDir      string
	memoryLimit   int
	timeout       time.Duration
	engineFactory EngineFactory
	logger        *slog.Logger
}

func defaultConfig() *config {
	return &config{
		fetcher:       DenyFetcher{},
		entropy:       CryptoEntropySource{},
		clock:         SystemClock{},
		registryURL:   "https://registry.npmjs.org",
		timeout:       30 * time.Second,
		engineFactory: engine.NewBridge,
		logger:        slog.New(slog.DiscardHandler),
	}
}

// WithFetcher sets the fetcher used for npm registry access. By default, all
// network access is denied (DenyFetcher).
func WithFetcher(f Fetcher) Option {
	return func(c *config) { c.fetcher = f }
}

// WithRegistryURL overrides the npm registry base URL. Defaults to the
// public npm registry.
func WithRegistryURL(url string) Option {
	return func(c *config) { c.registryURL = url }
}

// WithEntropySource sets the source of randomness for the crypto shim's
// randomBytes/randomUUID. Defaults to crypto/rand.
func WithEntropySource(e EntropySource) Option {
	return func(c *config) { c.entropy = e }
}

// WithClock sets the source of the current time for virtual filesystem
// modification times. Defaults to the real wall clock.
func WithClock(cl Clock) Option {
	return func(c *config) { c.clock = cl }
}

// WithMemoryLimit sets the maximum memory, in bytes, for the QuickJS
// runtime. Zero means no limit.
func WithMemoryLimit(bytes int) Option {
	return func(c *config) { c.memoryLimit = bytes }
}

// WithTimeout sets the maximum duration for a single Execute call.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithCacheDir sets the directory backing the npm content-addressed
// tarball cache (a bbolt database file under this directory). If unset,
// installs are not cached across Runtime instances.
func WithCacheDir(dir string) Option {
	return func(c *config) { c.cacheDir = dir }
}

// WithEngineFactory overrides how the underlying engine bridge is
// constructed. Intended for tests that substitute a fake Bridge.
func WithEngineFactory(f EngineFactory) Option {
	return func(c *config) { c.engineFactory = f }
}

// WithLogger sets the logger used by the npm client for fetch/resolve/
// install/cache-hit events. Library packages otherwise stay silent;
// defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
