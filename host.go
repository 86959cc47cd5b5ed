package nodepack

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher controls how nodepack reaches the npm registry; no builtin shim
// gives guest code network access of its own. By default, all network
// access is denied — a sandboxed guest has no ambient authority.
type Fetcher interface {
	// Fetch retrieves the content at url, already GET-only and read-only by
	// contract: nodepack never needs to send a body.
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DenyFetcher denies all network access. This is the default.
type DenyFetcher struct{}

func (DenyFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	return nil, fmt.Errorf("nodepack: network access denied for %q (no fetcher configured)", url)
}

// HTTPFetcher allows fetching resources over HTTP and HTTPS, optionally
// restricted to an allowlist of hostnames (e.g. the configured registry's
// own host plus its CDN).
type HTTPFetcher struct {
	Client         *http.Client
	AllowedDomains []string // if non-empty, only these hostnames are permitted
}

// NewHTTPFetcher creates a fetcher that allows HTTP(S) requests. If client
// is nil, http.DefaultClient is used.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("nodepack: invalid URL %q: %w", rawURL, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("nodepack: unsupported scheme %q in URL %q", scheme, rawURL)
	}
	if len(f.AllowedDomains) > 0 {
		hostname := parsed.Hostname()
		allowed := false
		for _, d := range f.AllowedDomains {
			if strings.EqualFold(hostname, d) {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("nodepack: domain %q not in allowed list for URL %q", hostname, rawURL)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("nodepack: failed to create request for %q: %w", rawURL, err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nodepack: failed to fetch %q: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("nodepack: HTTP %d fetching %q", resp.StatusCode, rawURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("nodepack: failed to read response from %q: %w", rawURL, err)
	}
	return data, nil
}

// StaticFetcher returns a fixed byte slice for a fixed set of URLs,
// regardless of call order. Useful for tests and for vendoring a known
// dependency graph without touching the network.
type StaticFetcher struct {
	Responses map[string][]byte
}

func (f *StaticFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	data, ok := f.Responses[url]
	if !ok {
		return nil, fmt.Errorf("nodepack: StaticFetcher has no response for %q", url)
	}
	return data, nil
}

// EntropySource supplies random bytes to the guest-visible crypto shim
// (randomBytes, randomUUID). Sandboxed guests never read
// the host's real entropy pool directly.
type EntropySource interface {
	Read(p []byte) (n int, err error)
}

// CryptoEntropySource draws from crypto/rand. This is the default.
type CryptoEntropySource struct{}

func (CryptoEntropySource) Read(p []byte) (int, error) { return rand.Read(p) }

// Clock supplies the current time used for virtual filesystem modification
// times. Guest code's Date is not routed through it. Injectable so
// filesystem state is reproducible in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the real wall-clock time. This is the default.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant, for deterministic tests.
type FixedClock struct{ At time.Time }

func (c FixedClock) Now() time.Time { return c.At }
