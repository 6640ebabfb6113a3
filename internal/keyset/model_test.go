package keyset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stronghold/internal/cryptoutil"
)

func newTestKeyEntry(t *testing.T, status Status) KeyEntry {
	t.Helper()
	kp, err := cryptoutil.GenerateEd25519()
	require.NoError(t, err)
	keyID, err := cryptoutil.KeyIdFromPublicKeyPem(kp.PublicKeyPem)
	require.NoError(t, err)
	return KeyEntry{KeyID: keyID, PublicKeyPem: kp.PublicKeyPem, Status: status}
}

func TestKeyset_ValidateRejectsEmpty(t *testing.T) {
	ks := Keyset{SchemaVersion: SchemaVersion}
	assert.ErrorIs(t, ks.Validate(), ErrEmptyKeyset)
}

func TestKeyset_ValidateRejectsNoActive(t *testing.T) {
	ks := Keyset{SchemaVersion: SchemaVersion, Keys: []KeyEntry{newTestKeyEntry(t, StatusRotated)}}
	assert.ErrorIs(t, ks.Validate(), ErrNoActive)
}

func TestKeyset_ValidateRejectsMultipleActive(t *testing.T) {
	ks := Keyset{SchemaVersion: SchemaVersion, Keys: []KeyEntry{
		newTestKeyEntry(t, StatusActive),
		newTestKeyEntry(t, StatusActive),
	}}
	assert.ErrorIs(t, ks.Validate(), ErrMultipleActive)
}

func TestKeyset_ValidateRejectsKeyIDMismatch(t *testing.T) {
	entry := newTestKeyEntry(t, StatusActive)
	entry.KeyID = "0000000000000000000000000000000000000000000000000000000000000000"
	ks := Keyset{SchemaVersion: SchemaVersion, Keys: []KeyEntry{entry}}
	assert.ErrorIs(t, ks.Validate(), ErrKeyIDMismatch)
}

func TestKeyset_FindReturnsRotatedKeys(t *testing.T) {
	active := newTestKeyEntry(t, StatusActive)
	rotated := newTestKeyEntry(t, StatusRotated)
	ks := Keyset{SchemaVersion: SchemaVersion, Keys: []KeyEntry{active, rotated}, RefreshedAt: time.Now()}
	require.NoError(t, ks.Validate())

	found, ok := ks.Find(rotated.KeyID)
	assert.True(t, ok)
	assert.Equal(t, rotated.PublicKeyPem, found.PublicKeyPem)
}

func TestSingle_DerivesKeyIDWhenOmitted(t *testing.T) {
	kp, err := cryptoutil.GenerateEd25519()
	require.NoError(t, err)

	ks, err := Single("", kp.PublicKeyPem, time.Now())
	require.NoError(t, err)

	wantID, err := cryptoutil.KeyIdFromPublicKeyPem(kp.PublicKeyPem)
	require.NoError(t, err)
	assert.Equal(t, wantID, ks.Keys[0].KeyID)
}
