// Package cryptoutil wraps Ed25519 keypair generation, key-id derivation,
// and raw-hash sign/verify for the payment token and attestation codecs.
package cryptoutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrKeyInvalid means a PEM block could not be decoded into a usable
// Ed25519 key. Maps to CRYPTO_KEY_INVALID.
var ErrKeyInvalid = errors.New("cryptoutil: CRYPTO_KEY_INVALID")

// ErrVerifyError means signature verification failed to even run (malformed
// signature encoding, wrong length). A clean "signature doesn't match" is
// not this error; see VerifyHashHex's bool return. Maps to CRYPTO_VERIFY_ERROR.
var ErrVerifyError = errors.New("cryptoutil: CRYPTO_VERIFY_ERROR")

// Keypair holds a generated Ed25519 keypair as PEM-encoded PKCS8/PKIX blocks.
type Keypair struct {
	PublicKeyPem  string
	PrivateKeyPem string
}

// GenerateEd25519 creates a fresh Ed25519 keypair.
func GenerateEd25519() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("cryptoutil: generate key: %w", err)
	}

	pubPem, err := encodePublicKeyPem(pub)
	if err != nil {
		return Keypair{}, err
	}
	privPem, err := encodePrivateKeyPem(priv)
	if err != nil {
		return Keypair{}, err
	}

	return Keypair{PublicKeyPem: pubPem, PrivateKeyPem: privPem}, nil
}

func encodePublicKeyPem(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: marshal public key: %v", ErrKeyInvalid, err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func encodePrivateKeyPem(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("%w: marshal private key: %v", ErrKeyInvalid, err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// KeyIdFromPublicKeyPem derives the lowercase hex SHA-256 digest of the
// DER-encoded SubjectPublicKeyInfo of an Ed25519 public key. Two PEMs that
// encode the same key always derive the same keyId; the derivation is
// injective over valid Ed25519 keys.
func KeyIdFromPublicKeyPem(publicKeyPem string) (string, error) {
	_, der, err := decodePublicKeyDER(publicKeyPem)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

func decodePublicKeyDER(publicKeyPem string) (ed25519.PublicKey, []byte, error) {
	block, _ := pem.Decode([]byte(publicKeyPem))
	if block == nil {
		return nil, nil, fmt.Errorf("%w: not a PEM block", ErrKeyInvalid)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse PKIX public key: %v", ErrKeyInvalid, err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("%w: not an Ed25519 public key", ErrKeyInvalid)
	}

	// Re-marshal so the key-id is derived from the canonical DER encoding
	// Go itself produces, not whatever bytes the caller happened to hand in.
	der, err := x509.MarshalPKIXPublicKey(edPub)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: re-marshal public key: %v", ErrKeyInvalid, err)
	}
	return edPub, der, nil
}

func decodePrivateKey(privateKeyPem string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privateKeyPem))
	if block == nil {
		return nil, fmt.Errorf("%w: not a PEM block", ErrKeyInvalid)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse PKCS8 private key: %v", ErrKeyInvalid, err)
	}
	edPriv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 private key", ErrKeyInvalid)
	}
	return edPriv, nil
}

// SignHashHex signs the 32 raw bytes of a lowercase hex-encoded SHA-256
// digest (not the hex text itself) and returns the standard-base64
// signature.
func SignHashHex(hashHex string, privateKeyPem string) (string, error) {
	raw, err := hex.DecodeString(hashHex)
	if err != nil {
		return "", fmt.Errorf("%w: hashHex is not valid hex: %v", ErrKeyInvalid, err)
	}

	priv, err := decodePrivateKey(privateKeyPem)
	if err != nil {
		return "", err
	}

	sig := ed25519.Sign(priv, raw)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyHashHexInput bundles the arguments to VerifyHashHex.
type VerifyHashHexInput struct {
	HashHex         string
	SignatureBase64 string
	PublicKeyPem    string
}

// VerifyHashHex verifies an Ed25519 signature over the 32 raw bytes of a
// hex-encoded SHA-256 digest. Malformed inputs (bad hex, bad base64, wrong
// key type) return ErrVerifyError; a well-formed but non-matching signature
// returns (false, nil).
func VerifyHashHex(in VerifyHashHexInput) (bool, error) {
	raw, err := hex.DecodeString(in.HashHex)
	if err != nil {
		return false, fmt.Errorf("%w: hashHex is not valid hex: %v", ErrVerifyError, err)
	}

	sig, err := base64.StdEncoding.DecodeString(in.SignatureBase64)
	if err != nil {
		return false, fmt.Errorf("%w: signature is not valid base64: %v", ErrVerifyError, err)
	}

	pub, _, err := decodePublicKeyDER(in.PublicKeyPem)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrVerifyError, err)
	}

	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}

	return ed25519.Verify(pub, raw, sig), nil
}
