package attestation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stronghold/internal/cryptoutil"
)

func TestSignVerify_RoundTrips(t *testing.T) {
	kp, err := cryptoutil.GenerateEd25519()
	require.NoError(t, err)

	body := []byte(`{"ok":true,"provider":"provider-publish-e2e","query":""}`)
	a, err := Sign(SignInput{Body: body, PrivateKeyPem: kp.PrivateKeyPem, PublicKeyPem: kp.PublicKeyPem, Now: time.Now()})
	require.NoError(t, err)

	ok, err := Verify(body, a)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_RejectsMutatedBody(t *testing.T) {
	kp, err := cryptoutil.GenerateEd25519()
	require.NoError(t, err)

	body := []byte("hello")
	a, err := Sign(SignInput{Body: body, PrivateKeyPem: kp.PrivateKeyPem, PublicKeyPem: kp.PublicKeyPem, Now: time.Now()})
	require.NoError(t, err)

	ok, err := Verify([]byte("hellO"), a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSign_NonceIs16BytesHex(t *testing.T) {
	kp, err := cryptoutil.GenerateEd25519()
	require.NoError(t, err)

	a, err := Sign(SignInput{Body: []byte("x"), PrivateKeyPem: kp.PrivateKeyPem, PublicKeyPem: kp.PublicKeyPem, Now: time.Now()})
	require.NoError(t, err)
	assert.Len(t, a.Nonce, 32)
}

func TestSign_NoncesAreFreshPerCall(t *testing.T) {
	kp, err := cryptoutil.GenerateEd25519()
	require.NoError(t, err)

	a1, err := Sign(SignInput{Body: []byte("x"), PrivateKeyPem: kp.PrivateKeyPem, PublicKeyPem: kp.PublicKeyPem, Now: time.Now()})
	require.NoError(t, err)
	a2, err := Sign(SignInput{Body: []byte("x"), PrivateKeyPem: kp.PrivateKeyPem, PublicKeyPem: kp.PublicKeyPem, Now: time.Now()})
	require.NoError(t, err)

	assert.NotEqual(t, a1.Nonce, a2.Nonce)
}
