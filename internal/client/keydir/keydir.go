// Package keydir resolves recipient public keys from the server's key
// directory, with a bounded in-memory cache. Public keys are immutable
// per user in this system, so cached entries never expire.
package keydir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hirewire/messaging/internal/common"
)

const defaultCacheSize = 1024

// Directory fetches and caches public keys.
type Directory struct {
	baseURL string
	token   string
	client  *http.Client

	mu      sync.Mutex
	cache   map[string][]byte
	maxSize int
}

func New(baseURL, token string) *Directory {
	return &Directory{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[string][]byte),
		maxSize: defaultCacheSize,
	}
}

// PublicKey returns the PEM-encoded public key of userID. A recipient
// with no registered key yields common.ErrKeyNotFound.
func (d *Directory) PublicKey(ctx context.Context, userID string) ([]byte, error) {
	d.mu.Lock()
	cached, ok := d.cache[userID]
	d.mu.Unlock()
	if ok {
		return cached, nil
	}

	pem, err := d.fetch(ctx, userID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if len(d.cache) >= d.maxSize {
		// Keys are cheap to refetch; a full reset beats bookkeeping.
		d.cache = make(map[string][]byte)
	}
	d.cache[userID] = pem
	d.mu.Unlock()

	return pem, nil
}

type keyResponse struct {
	UserID    string `json:"userId"`
	PublicKey string `json:"publicKey"`
}

func (d *Directory) fetch(ctx context.Context, userID string) ([]byte, error) {
	url := fmt.Sprintf("%s/public_key/%s", d.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build key request: %w", err)
	}
	req.Header.Set(common.AuthorizationHeaderName, "Bearer "+d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch public key: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: user %s", common.ErrKeyNotFound, userID)
	case http.StatusUnauthorized:
		return nil, common.ErrUnauthorized
	default:
		return nil, fmt.Errorf("key directory returned %d", resp.StatusCode)
	}

	var body keyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode key response: %w", err)
	}
	if body.PublicKey == "" {
		return nil, fmt.Errorf("%w: user %s", common.ErrKeyNotFound, userID)
	}

	return []byte(body.PublicKey), nil
}
