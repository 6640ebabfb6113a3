// Package quote builds and signs Provider Quote Payload v1 attestations: the
// server-derived "offer proof" a gate returns on 402 to bind a quote to the
// payment token the caller will mint next.
package quote

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"stronghold/internal/canonjson"
	"stronghold/internal/cryptoutil"
)

// SchemaVersion is the only accepted schema tag for a quote payload.
const SchemaVersion = "ToolProviderQuote.v1"

// Payload is the Provider Quote Payload v1 (§3).
type Payload struct {
	SchemaVersion          string `json:"schemaVersion"`
	ProviderID             string `json:"providerId"`
	ToolID                 string `json:"toolId"`
	AmountCents            int64  `json:"amountCents"`
	Currency               string `json:"currency"`
	Address                string `json:"address"`
	Network                string `json:"network"`
	RequestBindingMode     string `json:"requestBindingMode"`
	RequestBindingSha256   string `json:"requestBindingSha256,omitempty"`
	QuoteRequired          bool   `json:"quoteRequired"`
	QuoteID                string `json:"quoteId"`
	SpendAuthorizationMode string `json:"spendAuthorizationMode"`
	QuotedAt               int64  `json:"quotedAt"`
	ExpiresAt              int64  `json:"expiresAt"`
}

// Signature is the Quote Signature v1 (§3): Ed25519 over
// sha256Hex(canonicalJson(quote)) with a fresh nonce per signature.
type Signature struct {
	Algorithm       string `json:"algorithm"`
	KeyID           string `json:"keyId"`
	PublicKeyPem    string `json:"publicKeyPem"`
	SignedAt        int64  `json:"signedAt"`
	Nonce           string `json:"nonce"`
	QuoteHash       string `json:"quoteHash"`
	SignatureBase64 string `json:"signatureBase64"`
}

// BuildInput supplies the offer fields and timestamps needed to derive a
// Provider Quote Payload v1.
type BuildInput struct {
	ProviderID             string
	ToolID                 string
	AmountCents            int64
	Currency               string
	Address                string
	Network                string
	RequestBindingMode     string
	RequestBindingSha256   string
	QuoteRequired          bool
	QuoteID                string // pinned by the offer; derived deterministically when empty
	SpendAuthorizationMode string
	Method                 string
	PathWithQuery          string
	Now                    time.Time
	TTL                    time.Duration
}

// Build normalizes a BuildInput into a Payload, deriving quoteId
// deterministically when the offer did not pin one (§4.4).
func Build(in BuildInput) Payload {
	quoteID := in.QuoteID
	if quoteID == "" {
		quoteID = deriveQuoteID(in)
	}

	quotedAt := in.Now.Unix()
	ttl := in.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return Payload{
		SchemaVersion:          SchemaVersion,
		ProviderID:             in.ProviderID,
		ToolID:                 in.ToolID,
		AmountCents:            in.AmountCents,
		Currency:               in.Currency,
		Address:                in.Address,
		Network:                in.Network,
		RequestBindingMode:     in.RequestBindingMode,
		RequestBindingSha256:   in.RequestBindingSha256,
		QuoteRequired:          in.QuoteRequired,
		QuoteID:                quoteID,
		SpendAuthorizationMode: in.SpendAuthorizationMode,
		QuotedAt:               quotedAt,
		ExpiresAt:              in.Now.Add(ttl).Unix(),
	}
}

// deriveQuoteID computes the deterministic quoteId of §4.4:
// "pquote_" + sha256Hex(canonicalJson({providerId, toolId, amountCents,
// currency, requestBindingMode, requestBindingSha256||"", method,
// pathWithQuery})).slice(0,32)
func deriveQuoteID(in BuildInput) string {
	seed := map[string]any{
		"providerId":           in.ProviderID,
		"toolId":               in.ToolID,
		"amountCents":          in.AmountCents,
		"currency":             in.Currency,
		"requestBindingMode":   in.RequestBindingMode,
		"requestBindingSha256": in.RequestBindingSha256,
		"method":               in.Method,
		"pathWithQuery":        in.PathWithQuery,
	}
	h, err := canonjson.Hash(seed)
	if err != nil {
		// seed is a plain map of strings/ints/bools; Hash only fails on
		// unsafe numbers or cycles, neither of which this shape can produce.
		panic(fmt.Sprintf("quote: unexpected hash failure: %v", err))
	}
	return "pquote_" + h[:32]
}

// SignInput supplies the signing identity for Sign.
type SignInput struct {
	Quote         Payload
	PrivateKeyPem string
	PublicKeyPem  string
	KeyID         string
	Now           time.Time
}

// Sign produces a Quote Signature v1 over the quote's canonical-JSON hash,
// with a fresh 16-byte random nonce.
func Sign(in SignInput) (Signature, error) {
	kid := in.KeyID
	if kid == "" {
		derived, err := cryptoutil.KeyIdFromPublicKeyPem(in.PublicKeyPem)
		if err != nil {
			return Signature{}, fmt.Errorf("quote: derive kid: %w", err)
		}
		kid = derived
	}

	quoteHash, err := canonjson.Hash(in.Quote)
	if err != nil {
		return Signature{}, fmt.Errorf("quote: hash quote: %w", err)
	}

	sig, err := cryptoutil.SignHashHex(quoteHash, in.PrivateKeyPem)
	if err != nil {
		return Signature{}, fmt.Errorf("quote: sign: %w", err)
	}

	nonce, err := randomHex(16)
	if err != nil {
		return Signature{}, fmt.Errorf("quote: generate nonce: %w", err)
	}

	return Signature{
		Algorithm:       "ed25519",
		KeyID:           kid,
		PublicKeyPem:    in.PublicKeyPem,
		SignedAt:        in.Now.Unix(),
		Nonce:           nonce,
		QuoteHash:       quoteHash,
		SignatureBase64: sig,
	}, nil
}

// Verify checks a Quote Signature v1 against its quote.
func Verify(q Payload, sig Signature) (bool, error) {
	quoteHash, err := canonjson.Hash(q)
	if err != nil {
		return false, fmt.Errorf("quote: hash quote: %w", err)
	}
	if quoteHash != sig.QuoteHash {
		return false, nil
	}
	return cryptoutil.VerifyHashHex(cryptoutil.VerifyHashHexInput{
		HashHex:         sig.QuoteHash,
		SignatureBase64: sig.SignatureBase64,
		PublicKeyPem:    sig.PublicKeyPem,
	})
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
