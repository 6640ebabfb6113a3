package keyset

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stronghold/internal/cryptoutil"
)

func newTestKeyset(t *testing.T) (Keyset, cryptoutil.Keypair) {
	t.Helper()
	kp, err := cryptoutil.GenerateEd25519()
	require.NoError(t, err)
	keyID, err := cryptoutil.KeyIdFromPublicKeyPem(kp.PublicKeyPem)
	require.NoError(t, err)
	return Keyset{
		SchemaVersion: SchemaVersion,
		Keys:          []KeyEntry{{KeyID: keyID, PublicKeyPem: kp.PublicKeyPem, Status: StatusActive}},
		RefreshedAt:   time.Now(),
	}, kp
}

func TestResolver_FetchesWellKnownAndCachesByMaxAge(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	ks, _ := newTestKeyset(t)
	body, err := json.Marshal(ks)
	require.NoError(t, err)

	calls := 0
	httpmock.RegisterResponder("GET", "https://provider.test/.well-known/nooterra-pay-keyset",
		func(req *http.Request) (*http.Response, error) {
			calls++
			resp := httpmock.NewBytesResponse(200, body)
			resp.Header.Set("Cache-Control", "max-age=60")
			return resp, nil
		})

	r := NewResolver(ResolverConfig{
		KeysetURL:  "https://provider.test/.well-known/nooterra-pay-keyset",
		HTTPClient: client,
	})

	got, src, err := r.GetKeyset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceWellKnown, src)
	assert.Equal(t, ks.Keys[0].KeyID, got.Keys[0].KeyID)

	// Second call within max-age must be served from cache, not refetched.
	_, _, err = r.GetKeyset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestResolver_FallsBackToPinnedOnFetchFailure(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://provider.test/.well-known/nooterra-pay-keyset",
		httpmock.NewErrorResponder(assert.AnError))

	pinned, _ := newTestKeyset(t)

	r := NewResolver(ResolverConfig{
		KeysetURL:          "https://provider.test/.well-known/nooterra-pay-keyset",
		PinnedPublicKeyPem: pinned.Keys[0].PublicKeyPem,
		PinnedKeyID:        pinned.Keys[0].KeyID,
		HTTPClient:         client,
	})

	got, src, err := r.GetKeyset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourcePinnedFallback, src)
	assert.Equal(t, pinned.Keys[0].KeyID, got.Keys[0].KeyID)
}

func TestResolver_SurfacesErrorWhenNoPinnedFallback(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://provider.test/.well-known/nooterra-pay-keyset",
		httpmock.NewErrorResponder(assert.AnError))

	r := NewResolver(ResolverConfig{
		KeysetURL:  "https://provider.test/.well-known/nooterra-pay-keyset",
		HTTPClient: client,
	})

	_, _, err := r.GetKeyset(context.Background())
	assert.ErrorIs(t, err, ErrKeysetUnavailable)
}

func TestResolver_PinnedOnlyNeverFetches(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		t.Fatal("pinned-only resolver must not perform an HTTP fetch")
		return nil, nil
	})

	pinned, _ := newTestKeyset(t)
	r := NewResolver(ResolverConfig{
		PinnedOnly:         true,
		PinnedPublicKeyPem: pinned.Keys[0].PublicKeyPem,
		HTTPClient:         client,
	})

	_, src, err := r.GetKeyset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourcePinnedOnly, src)
}

func TestResolver_ClearCacheForcesRefetch(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	ks, _ := newTestKeyset(t)
	body, err := json.Marshal(ks)
	require.NoError(t, err)

	calls := 0
	httpmock.RegisterResponder("GET", "https://provider.test/.well-known/nooterra-pay-keyset",
		func(req *http.Request) (*http.Response, error) {
			calls++
			resp := httpmock.NewBytesResponse(200, body)
			resp.Header.Set("Cache-Control", "max-age=60")
			return resp, nil
		})

	r := NewResolver(ResolverConfig{KeysetURL: "https://provider.test/.well-known/nooterra-pay-keyset", HTTPClient: client})

	_, _, err = r.GetKeyset(context.Background())
	require.NoError(t, err)
	r.ClearCache()
	_, _, err = r.GetKeyset(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}
