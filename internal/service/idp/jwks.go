package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"github.com/dzerik/oauth-relay/pkg/logger"
)

// minKeyRefresh limits refetches triggered by unknown key ids.
const minKeyRefresh = 30 * time.Second

var errKeyNotFound = errors.New("signing key not found")

// keySet caches the provider's JWKS and refetches it on a key miss.
type keySet struct {
	url    string
	client *http.Client

	mu          sync.RWMutex
	set         jwk.Set
	lastRefresh time.Time
}

func newKeySet(url string, client *http.Client) *keySet {
	return &keySet{url: url, client: client}
}

// lookup returns the raw public key for kid. An empty kid matches a set
// holding exactly one key.
func (k *keySet) lookup(ctx context.Context, kid string) (interface{}, error) {
	k.mu.RLock()
	set, lastRefresh := k.set, k.lastRefresh
	k.mu.RUnlock()

	if key, ok := findKey(set, kid); ok {
		return rawKey(key)
	}

	if set != nil && time.Since(lastRefresh) < minKeyRefresh {
		return nil, fmt.Errorf("%w: kid %q", errKeyNotFound, kid)
	}

	if err := k.refresh(ctx); err != nil {
		return nil, err
	}

	k.mu.RLock()
	set = k.set
	k.mu.RUnlock()

	if key, ok := findKey(set, kid); ok {
		return rawKey(key)
	}
	return nil, fmt.Errorf("%w: kid %q", errKeyNotFound, kid)
}

func (k *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch JWKS: HTTP %d", resp.StatusCode)
	}

	set, err := jwk.ParseReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	k.mu.Lock()
	k.set = set
	k.lastRefresh = time.Now()
	k.mu.Unlock()

	logger.Debug("provider JWKS refreshed", zap.Int("keys", set.Len()))
	return nil
}

func findKey(set jwk.Set, kid string) (jwk.Key, bool) {
	if set == nil {
		return nil, false
	}
	if kid != "" {
		return set.LookupKeyID(kid)
	}
	if set.Len() == 1 {
		return set.Key(0)
	}
	return nil, false
}

func rawKey(key jwk.Key) (interface{}, error) {
	var raw interface{}
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to export key: %w", err)
	}
	return raw, nil
}
