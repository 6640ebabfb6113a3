package keyset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source tags where the currently cached keyset came from.
type Source string

const (
	SourceNone           Source = "none"
	SourceWellKnown      Source = "well-known"
	SourcePinnedOnly     Source = "pinned-only"
	SourcePinnedFallback Source = "pinned-fallback"
	// SourceDevBypass marks a verification the handler skipped entirely
	// under Config.DevModeSkipVerify; never produced by the resolver itself.
	SourceDevBypass Source = "dev-bypass"
)

// ErrKeysetUnavailable is surfaced when a fetch fails and no pinned key can
// cover the gap. The gate maps this to NOOTERRA_PAY_KEYSET_UNAVAILABLE.
var ErrKeysetUnavailable = errors.New("keyset: NOOTERRA_PAY_KEYSET_UNAVAILABLE")

// ResolverConfig configures a Resolver. It mirrors the `nooterraPay` block
// of the gate's Configuration table (spec §6).
type ResolverConfig struct {
	KeysetURL          string
	PinnedPublicKeyPem string
	PinnedKeyID        string
	PinnedOnly         bool
	DefaultMaxAge      time.Duration
	PinnedMaxAge       time.Duration
	FetchTimeout       time.Duration
	HTTPClient         *http.Client // optional; defaults to one timing out at FetchTimeout
	Now                func() time.Time
}

// Resolver resolves the currently trusted keyset, caching the result for
// Cache-Control's max-age (or a configured default) and coalescing
// concurrent cache misses behind a single in-flight fetch.
type Resolver struct {
	cfg        ResolverConfig
	httpClient *http.Client
	now        func() time.Time

	mu           sync.RWMutex
	cached       Keyset
	cachedSource Source
	expiresAt    time.Time

	group singleflight.Group
}

// NewResolver constructs a Resolver from config.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.DefaultMaxAge <= 0 {
		cfg.DefaultMaxAge = 5 * time.Minute
	}
	if cfg.PinnedMaxAge <= 0 {
		cfg.PinnedMaxAge = time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Resolver{
		cfg:          cfg,
		httpClient:   client,
		now:          now,
		cachedSource: SourceNone,
	}
}

type resolved struct {
	keyset Keyset
	source Source
}

// GetKeyset returns the currently trusted keyset and where it came from.
func (r *Resolver) GetKeyset(ctx context.Context) (Keyset, Source, error) {
	if ks, src, ok := r.cachedFresh(); ok {
		return ks, src, nil
	}

	// A single "leader" fetch serves every concurrent cache miss; the rest
	// observe its result instead of stampeding the well-known endpoint.
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		return r.refresh(ctx)
	})
	if err != nil {
		return Keyset{}, SourceNone, err
	}
	res := v.(resolved)
	return res.keyset, res.source, nil
}

// ClearCache zeroes the cached keyset and forces the next GetKeyset call to
// refetch.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = Keyset{}
	r.cachedSource = SourceNone
	r.expiresAt = time.Time{}
}

func (r *Resolver) cachedFresh() (Keyset, Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cachedSource == SourceNone || !r.now().Before(r.expiresAt) {
		return Keyset{}, SourceNone, false
	}
	return r.cached, r.cachedSource, true
}

func (r *Resolver) refresh(ctx context.Context) (resolved, error) {
	// Re-check: another goroutine may have refreshed while we waited to
	// become the singleflight leader for a *subsequent* call.
	if ks, src, ok := r.cachedFresh(); ok {
		return resolved{ks, src}, nil
	}

	if r.cfg.PinnedOnly {
		return r.usePinned(SourcePinnedOnly)
	}

	ks, maxAge, err := r.fetchWellKnown(ctx)
	if err != nil {
		if r.cfg.PinnedPublicKeyPem != "" {
			return r.usePinned(SourcePinnedFallback)
		}
		return resolved{}, fmt.Errorf("%w: %v", ErrKeysetUnavailable, err)
	}

	r.store(ks, SourceWellKnown, maxAge)
	return resolved{ks, SourceWellKnown}, nil
}

func (r *Resolver) usePinned(source Source) (resolved, error) {
	if r.cfg.PinnedPublicKeyPem == "" {
		return resolved{}, fmt.Errorf("%w: no pinned public key configured", ErrKeysetUnavailable)
	}

	ks, err := Single(r.cfg.PinnedKeyID, r.cfg.PinnedPublicKeyPem, r.now())
	if err != nil {
		return resolved{}, fmt.Errorf("%w: pinned key invalid: %v", ErrKeysetUnavailable, err)
	}

	r.store(ks, source, r.cfg.PinnedMaxAge)
	return resolved{ks, source}, nil
}

func (r *Resolver) store(ks Keyset, source Source, maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = ks
	r.cachedSource = source
	r.expiresAt = r.now().Add(maxAge)
}

func (r *Resolver) fetchWellKnown(ctx context.Context) (Keyset, time.Duration, error) {
	if r.cfg.KeysetURL == "" {
		return Keyset{}, 0, errors.New("keyset: no keysetUrl configured")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, r.cfg.KeysetURL, nil)
	if err != nil {
		return Keyset{}, 0, fmt.Errorf("keyset: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Keyset{}, 0, fmt.Errorf("keyset: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Keyset{}, 0, fmt.Errorf("keyset: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Keyset{}, 0, fmt.Errorf("keyset: read body: %w", err)
	}

	var ks Keyset
	if err := json.Unmarshal(body, &ks); err != nil {
		return Keyset{}, 0, fmt.Errorf("keyset: parse body: %w", err)
	}
	if ks.SchemaVersion != SchemaVersion {
		return Keyset{}, 0, fmt.Errorf("keyset: unexpected schemaVersion %q", ks.SchemaVersion)
	}
	if err := ks.Validate(); err != nil {
		return Keyset{}, 0, fmt.Errorf("keyset: invalid document: %w", err)
	}

	maxAge := parseMaxAge(resp.Header.Get("Cache-Control"))
	if maxAge <= 0 {
		maxAge = r.cfg.DefaultMaxAge
	}

	return ks, maxAge, nil
}

// parseMaxAge extracts max-age=<n> from a Cache-Control header; every other
// directive is ignored per spec §6. Returns 0 when absent or invalid.
func parseMaxAge(header string) time.Duration {
	if header == "" {
		return 0
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToLower(part), "max-age=") {
			continue
		}
		n, err := strconv.Atoi(part[len("max-age="):])
		if err != nil || n < 0 {
			return 0
		}
		return time.Duration(n) * time.Second
	}
	return 0
}
