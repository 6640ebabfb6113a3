package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashHexOf(t *testing.T, s string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestSignAndVerifyHashHex_RoundTrips(t *testing.T) {
	kp, err := GenerateEd25519()
	require.NoError(t, err)

	h := hashHexOf(t, "hello world")
	sig, err := SignHashHex(h, kp.PrivateKeyPem)
	require.NoError(t, err)

	ok, err := VerifyHashHex(VerifyHashHexInput{HashHex: h, SignatureBase64: sig, PublicKeyPem: kp.PublicKeyPem})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyHashHex_RejectsTamperedSignature(t *testing.T) {
	kp, err := GenerateEd25519()
	require.NoError(t, err)

	h := hashHexOf(t, "hello world")
	sig, err := SignHashHex(h, kp.PrivateKeyPem)
	require.NoError(t, err)

	other := hashHexOf(t, "goodbye world")
	ok, err := VerifyHashHex(VerifyHashHexInput{HashHex: other, SignatureBase64: sig, PublicKeyPem: kp.PublicKeyPem})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyHashHex_RejectsWrongKey(t *testing.T) {
	kp1, err := GenerateEd25519()
	require.NoError(t, err)
	kp2, err := GenerateEd25519()
	require.NoError(t, err)

	h := hashHexOf(t, "hello world")
	sig, err := SignHashHex(h, kp1.PrivateKeyPem)
	require.NoError(t, err)

	ok, err := VerifyHashHex(VerifyHashHexInput{HashHex: h, SignatureBase64: sig, PublicKeyPem: kp2.PublicKeyPem})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyIdFromPublicKeyPem_IsInjective(t *testing.T) {
	kp1, err := GenerateEd25519()
	require.NoError(t, err)
	kp2, err := GenerateEd25519()
	require.NoError(t, err)

	id1, err := KeyIdFromPublicKeyPem(kp1.PublicKeyPem)
	require.NoError(t, err)
	id2, err := KeyIdFromPublicKeyPem(kp2.PublicKeyPem)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Len(t, id1, 64)
}

func TestKeyIdFromPublicKeyPem_IsDeterministic(t *testing.T) {
	kp, err := GenerateEd25519()
	require.NoError(t, err)

	id1, err := KeyIdFromPublicKeyPem(kp.PublicKeyPem)
	require.NoError(t, err)
	id2, err := KeyIdFromPublicKeyPem(kp.PublicKeyPem)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestKeyIdFromPublicKeyPem_RejectsGarbage(t *testing.T) {
	_, err := KeyIdFromPublicKeyPem("not a pem")
	require.ErrorIs(t, err, ErrKeyInvalid)
}
