package keydir

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/messaging/internal/common"
)

func newDirectoryServer(t *testing.T, keys map[string]string, hits *atomic.Int64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if r.Header.Get(common.AuthorizationHeaderName) != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		userID := strings.TrimPrefix(r.URL.Path, "/public_key/")
		pem, ok := keys[userID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"userId": userID, "publicKey": pem})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPublicKeyCached(t *testing.T) {
	var hits atomic.Int64
	srv := newDirectoryServer(t, map[string]string{"bob": "BOB-PEM"}, &hits)

	dir := New(srv.URL, "good-token")

	pem, err := dir.PublicKey(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "BOB-PEM", string(pem))

	// Second lookup is served from cache.
	pem, err = dir.PublicKey(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "BOB-PEM", string(pem))
	assert.Equal(t, int64(1), hits.Load())
}

func TestPublicKeyNotFound(t *testing.T) {
	var hits atomic.Int64
	srv := newDirectoryServer(t, map[string]string{}, &hits)

	dir := New(srv.URL, "good-token")

	_, err := dir.PublicKey(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestPublicKeyUnauthorized(t *testing.T) {
	var hits atomic.Int64
	srv := newDirectoryServer(t, map[string]string{"bob": "BOB-PEM"}, &hits)

	dir := New(srv.URL, "bad-token")

	_, err := dir.PublicKey(context.Background(), "bob")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestCacheResetWhenFull(t *testing.T) {
	var hits atomic.Int64
	keys := map[string]string{"a": "PA", "b": "PB", "c": "PC"}
	srv := newDirectoryServer(t, keys, &hits)

	dir := New(srv.URL, "good-token")
	dir.maxSize = 2

	for _, id := range []string{"a", "b", "c"} {
		_, err := dir.PublicKey(context.Background(), id)
		require.NoError(t, err)
	}

	// a and b were evicted by the reset when c arrived.
	_, err := dir.PublicKey(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int64(4), hits.Load())
}
