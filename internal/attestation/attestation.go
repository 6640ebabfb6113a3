// Package attestation signs the response body of an executed paid request,
// producing a verifiable "the provider actually returned this" proof.
package attestation

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"stronghold/internal/cryptoutil"
)

// Attestation is signed proof that keyId produced responseHash at signedAt.
type Attestation struct {
	Algorithm       string `json:"algorithm"`
	KeyID           string `json:"keyId"`
	PublicKeyPem    string `json:"publicKeyPem"`
	SignedAt        int64  `json:"signedAt"`
	Nonce           string `json:"nonce"`
	ResponseHash    string `json:"responseHash"`
	SignatureBase64 string `json:"signatureBase64"`
}

// SignInput supplies the response bytes and signing identity for Sign.
type SignInput struct {
	Body          []byte
	PrivateKeyPem string
	PublicKeyPem  string
	KeyID         string
	Now           time.Time
}

// Sign hashes body and signs it, attaching a fresh 16-byte hex nonce and the
// current time.
func Sign(in SignInput) (Attestation, error) {
	kid := in.KeyID
	if kid == "" {
		derived, err := cryptoutil.KeyIdFromPublicKeyPem(in.PublicKeyPem)
		if err != nil {
			return Attestation{}, fmt.Errorf("attestation: derive kid: %w", err)
		}
		kid = derived
	}

	sum := sha256.Sum256(in.Body)
	responseHash := hex.EncodeToString(sum[:])

	sig, err := cryptoutil.SignHashHex(responseHash, in.PrivateKeyPem)
	if err != nil {
		return Attestation{}, fmt.Errorf("attestation: sign: %w", err)
	}

	nonce, err := randomHex(16)
	if err != nil {
		return Attestation{}, fmt.Errorf("attestation: generate nonce: %w", err)
	}

	return Attestation{
		Algorithm:       "ed25519",
		KeyID:           kid,
		PublicKeyPem:    in.PublicKeyPem,
		SignedAt:        in.Now.Unix(),
		Nonce:           nonce,
		ResponseHash:    responseHash,
		SignatureBase64: sig,
	}, nil
}

// Verify recomputes the response hash and checks the signature against it.
func Verify(body []byte, a Attestation) (bool, error) {
	sum := sha256.Sum256(body)
	responseHash := hex.EncodeToString(sum[:])
	if responseHash != a.ResponseHash {
		return false, nil
	}
	return cryptoutil.VerifyHashHex(cryptoutil.VerifyHashHexInput{
		HashHex:         a.ResponseHash,
		SignatureBase64: a.SignatureBase64,
		PublicKeyPem:    a.PublicKeyPem,
	})
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
