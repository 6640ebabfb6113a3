// Package keyset models the NooterraPayKeyset.v1 envelope and resolves it
// from a provider's well-known endpoint, a pinned fallback key, or both.
package keyset

import (
	"errors"
	"fmt"
	"time"

	"stronghold/internal/cryptoutil"
)

// SchemaVersion is the only accepted schema tag for a keyset document.
const SchemaVersion = "NooterraPayKeyset.v1"

// Status is the lifecycle state of a single key entry.
type Status string

const (
	StatusActive  Status = "active"
	StatusRotated Status = "rotated"
)

// KeyEntry is one trusted verification key.
type KeyEntry struct {
	KeyID        string `json:"keyId"`
	PublicKeyPem string `json:"publicKeyPem"`
	Status       Status `json:"status"`
}

// Keyset is the versioned envelope enumerating currently trusted keys.
type Keyset struct {
	SchemaVersion string     `json:"schemaVersion"`
	Keys          []KeyEntry `json:"keys"`
	RefreshedAt   time.Time  `json:"refreshedAt"`
}

// ErrEmptyKeyset is returned when a keyset document has no keys.
var ErrEmptyKeyset = errors.New("keyset: keys[] must not be empty")

// ErrMultipleActive is returned when more than one key is marked active.
var ErrMultipleActive = errors.New("keyset: exactly one key may be active")

// ErrNoActive is returned when no key is marked active.
var ErrNoActive = errors.New("keyset: exactly one key must be active")

// ErrKeyIDMismatch is returned when a keyId does not match the SHA-256 of
// the DER SubjectPublicKeyInfo of its associated public key.
var ErrKeyIDMismatch = errors.New("keyset: keyId does not match its public key")

// Validate enforces the invariants of §3: non-empty keys, exactly one
// active entry, and keyId == derivation(publicKeyPem) for every entry.
func (k Keyset) Validate() error {
	if len(k.Keys) == 0 {
		return ErrEmptyKeyset
	}

	activeCount := 0
	for _, entry := range k.Keys {
		if entry.Status == StatusActive {
			activeCount++
		}

		derived, err := cryptoutil.KeyIdFromPublicKeyPem(entry.PublicKeyPem)
		if err != nil {
			return fmt.Errorf("keyset: key %q: %w", entry.KeyID, err)
		}
		if derived != entry.KeyID {
			return fmt.Errorf("%w: entry %q derives %q", ErrKeyIDMismatch, entry.KeyID, derived)
		}
	}

	if activeCount == 0 {
		return ErrNoActive
	}
	if activeCount > 1 {
		return ErrMultipleActive
	}

	return nil
}

// Find returns the entry with the given keyId, if present. Verification
// accepts any listed keyId whose public key validates the signature,
// active or rotated.
func (k Keyset) Find(keyID string) (KeyEntry, bool) {
	for _, entry := range k.Keys {
		if entry.KeyID == keyID {
			return entry, true
		}
	}
	return KeyEntry{}, false
}

// Single builds a one-key keyset around a pinned key, used by the resolver
// when operating in pinned-only or pinned-fallback mode.
func Single(keyID, publicKeyPem string, refreshedAt time.Time) (Keyset, error) {
	if keyID == "" {
		derived, err := cryptoutil.KeyIdFromPublicKeyPem(publicKeyPem)
		if err != nil {
			return Keyset{}, err
		}
		keyID = derived
	}
	ks := Keyset{
		SchemaVersion: SchemaVersion,
		Keys: []KeyEntry{
			{KeyID: keyID, PublicKeyPem: publicKeyPem, Status: StatusActive},
		},
		RefreshedAt: refreshedAt,
	}
	return ks, ks.Validate()
}
