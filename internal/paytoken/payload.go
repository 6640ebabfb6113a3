// Package paytoken implements the Payment Token Payload v1 envelope: shape
// validation, normalization, minting, and verification against a keyset.
package paytoken

import (
	"errors"
	"fmt"
	"regexp"
)

// SpendAuthorizationVersion is the default stamped onto a payload the moment
// any spend-authorization claim is present.
const SpendAuthorizationVersion = "SpendAuthorization.v1"

const (
	bindingModeNone   = "none"
	bindingModeStrict = "strict"
)

var (
	idPattern       = regexp.MustCompile(`^[A-Za-z0-9:_-]+$`)
	hexPattern      = regexp.MustCompile(`^[0-9a-f]{64}$`)
	currencyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{2,11}$`)
)

const (
	maxIDLen       = 200
	maxFreeformLen = 256
)

// ErrPayloadInvalid wraps every shape/range violation of §3. The codec maps
// it to NOOTERRA_PAY_PAYLOAD_INVALID.
var ErrPayloadInvalid = errors.New("paytoken: NOOTERRA_PAY_PAYLOAD_INVALID")

// Payload is the Payment Token Payload v1 (canonical JSON, field order
// irrelevant — hashing runs over canonical-JSON bytes).
type Payload struct {
	Iss              string `json:"iss"`
	Aud              string `json:"aud"`
	GateID           string `json:"gateId"`
	AuthorizationRef string `json:"authorizationRef"`
	AmountCents      int64  `json:"amountCents"`
	Currency         string `json:"currency"`
	PayeeProviderID  string `json:"payeeProviderId"`
	Iat              int64  `json:"iat"`
	Exp              int64  `json:"exp"`

	RequestBindingMode        string `json:"requestBindingMode,omitempty"`
	RequestBindingSha256      string `json:"requestBindingSha256,omitempty"`
	QuoteID                   string `json:"quoteId,omitempty"`
	QuoteSha256               string `json:"quoteSha256,omitempty"`
	IdempotencyKey            string `json:"idempotencyKey,omitempty"`
	Nonce                     string `json:"nonce,omitempty"`
	SponsorRef                string `json:"sponsorRef,omitempty"`
	SponsorWalletRef          string `json:"sponsorWalletRef,omitempty"`
	AgentKeyID                string `json:"agentKeyId,omitempty"`
	DelegationRef             string `json:"delegationRef,omitempty"`
	PolicyVersion             string `json:"policyVersion,omitempty"`
	PolicyFingerprint         string `json:"policyFingerprint,omitempty"`
	SpendAuthorizationVersion string `json:"spendAuthorizationVersion,omitempty"`
}

// hasSpendAuthorizationClaim reports whether any of the spend-authorization
// claims checked by the handler's S6 (quoteId, idempotencyKey, nonce,
// sponsorRef, sponsorWalletRef, agentKeyId, delegationRef, policyVersion,
// policyFingerprint) is present.
func (p Payload) hasSpendAuthorizationClaim() bool {
	return p.QuoteID != "" || p.IdempotencyKey != "" || p.Nonce != "" ||
		p.SponsorRef != "" || p.SponsorWalletRef != "" || p.AgentKeyID != "" ||
		p.DelegationRef != "" || p.PolicyVersion != "" || p.PolicyFingerprint != ""
}

// Normalize applies the defaulting rules of §3: requestBindingMode is left
// as-is (the offer, not the payload, owns its default), spendAuthorizationVersion
// defaults once any spend-authorization claim is set, and policyFingerprint is
// lowercased (quoteId stays case-sensitive per design note §9).
func Normalize(p Payload) Payload {
	out := p
	if out.SpendAuthorizationVersion == "" && out.hasSpendAuthorizationClaim() {
		out.SpendAuthorizationVersion = SpendAuthorizationVersion
	}
	out.PolicyFingerprint = lower(out.PolicyFingerprint)
	return out
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Validate enforces the shape/range rules of §3. It does not check
// audience/payee/expiry/binding against a request — that is the codec's job.
func Validate(p Payload) error {
	required := map[string]string{
		"iss":              p.Iss,
		"aud":              p.Aud,
		"gateId":           p.GateID,
		"authorizationRef": p.AuthorizationRef,
		"payeeProviderId":  p.PayeeProviderID,
	}
	for field, v := range required {
		if v == "" {
			return fmt.Errorf("%w: %s is required", ErrPayloadInvalid, field)
		}
	}

	if p.AmountCents <= 0 {
		return fmt.Errorf("%w: amountCents must be > 0", ErrPayloadInvalid)
	}
	if p.Exp <= p.Iat {
		return fmt.Errorf("%w: exp must be > iat", ErrPayloadInvalid)
	}
	if !currencyPattern.MatchString(p.Currency) {
		return fmt.Errorf("%w: currency %q does not match required pattern", ErrPayloadInvalid, p.Currency)
	}

	ids := map[string]string{
		"iss":              p.Iss,
		"aud":              p.Aud,
		"gateId":           p.GateID,
		"authorizationRef": p.AuthorizationRef,
		"payeeProviderId":  p.PayeeProviderID,
		"quoteId":          p.QuoteID,
		"idempotencyKey":   p.IdempotencyKey,
		"nonce":            p.Nonce,
		"sponsorRef":       p.SponsorRef,
		"sponsorWalletRef": p.SponsorWalletRef,
		"agentKeyId":       p.AgentKeyID,
		"delegationRef":    p.DelegationRef,
	}
	for field, v := range ids {
		if v == "" {
			continue
		}
		if len(v) > maxIDLen {
			return fmt.Errorf("%w: %s exceeds %d characters", ErrPayloadInvalid, field, maxIDLen)
		}
		if !idPattern.MatchString(v) {
			return fmt.Errorf("%w: %s does not match required pattern", ErrPayloadInvalid, field)
		}
	}

	freeform := map[string]string{
		"policyVersion":             p.PolicyVersion,
		"spendAuthorizationVersion": p.SpendAuthorizationVersion,
	}
	for field, v := range freeform {
		if len(v) > maxFreeformLen {
			return fmt.Errorf("%w: %s exceeds %d characters", ErrPayloadInvalid, field, maxFreeformLen)
		}
	}

	hexFields := map[string]string{
		"requestBindingSha256": p.RequestBindingSha256,
		"quoteSha256":          p.QuoteSha256,
		"policyFingerprint":    p.PolicyFingerprint,
	}
	for field, v := range hexFields {
		if v == "" {
			continue
		}
		if !hexPattern.MatchString(v) {
			return fmt.Errorf("%w: %s must be lowercase 64-hex", ErrPayloadInvalid, field)
		}
	}

	switch p.RequestBindingMode {
	case "", bindingModeNone, bindingModeStrict:
	default:
		return fmt.Errorf("%w: requestBindingMode %q is not one of none|strict", ErrPayloadInvalid, p.RequestBindingMode)
	}

	return nil
}

// requestBindingStrictMissingHash reports whether p declares strict request
// binding without the hash that binding mode requires. Deliberately kept out
// of Validate: Verify needs to surface this as its own
// NOOTERRA_PAY_REQUEST_BINDING_MISSING code (§4.3), distinct from the
// generic NOOTERRA_PAY_PAYLOAD_INVALID shape-violation bucket.
func requestBindingStrictMissingHash(p Payload) bool {
	return p.RequestBindingMode == bindingModeStrict && p.RequestBindingSha256 == ""
}
