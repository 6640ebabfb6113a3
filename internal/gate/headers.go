package gate

import (
	"strconv"
	"strings"
)

// HTTP headers exchanged with callers, per §6.
const (
	HeaderPaymentRequired        = "x-payment-required"
	HeaderPaymentRequiredLegacy  = "PAYMENT-REQUIRED"
	HeaderPaymentError           = "x-nooterra-payment-error"
	HeaderProviderQuote          = "x-nooterra-provider-quote"
	HeaderProviderQuoteSignature = "x-nooterra-provider-quote-signature"

	HeaderProviderKeyID        = "x-nooterra-provider-key-id"
	HeaderProviderSignedAt     = "x-nooterra-provider-signed-at"
	HeaderProviderNonce        = "x-nooterra-provider-nonce"
	HeaderProviderResponseHash = "x-nooterra-provider-response-sha256"
	HeaderProviderSignature    = "x-nooterra-provider-signature"
	HeaderAuthorizationRef     = "x-nooterra-provider-authorization-ref"
	HeaderGateID               = "x-nooterra-provider-gate-id"
	HeaderQuoteID              = "x-nooterra-provider-quote-id"
	HeaderTokenSha256          = "x-nooterra-provider-token-sha256"
	HeaderKeysetSource         = "x-nooterra-keyset-source"
	HeaderRequestBindingMode   = "x-nooterra-request-binding-mode"
	HeaderRequestBindingSha256 = "x-nooterra-request-binding-sha256"
	HeaderReplay               = "x-nooterra-provider-replay"

	ReplayDuplicate = "duplicate"

	authorizationScheme = "nooterrapay"
)

// paymentRequiredHeaderValue builds the "; "-joined k=v list of
// x-payment-required, always including the core offer fields and
// conditionally quoteRequired/quoteId/spendAuthorizationMode.
func paymentRequiredHeaderValue(o Offer) string {
	parts := []string{
		"amountCents=" + strconv.FormatInt(o.AmountCents, 10),
		"currency=" + o.Currency,
		"providerId=" + o.ProviderID,
		"toolId=" + o.ToolID,
		"address=" + o.Address,
		"network=" + o.Network,
		"requestBindingMode=" + string(o.RequestBindingMode),
	}
	if o.QuoteRequired {
		parts = append(parts, "quoteRequired=1")
	}
	if o.QuoteID != "" {
		parts = append(parts, "quoteId="+o.QuoteID)
	}
	if o.SpendAuthorizationMode == SpendAuthRequired {
		parts = append(parts, "spendAuthorizationMode=required")
	}
	return strings.Join(parts, "; ")
}

// parseAuthorizationHeader extracts the token from an
// "Authorization: NooterraPay <token>" header; the scheme match is
// ASCII-case-insensitive. Returns ("", false) if absent or malformed.
func parseAuthorizationHeader(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	idx := strings.IndexByte(raw, ' ')
	if idx < 0 {
		return "", false
	}
	scheme, token := raw[:idx], strings.TrimSpace(raw[idx+1:])
	if !strings.EqualFold(scheme, "NooterraPay") && strings.ToLower(scheme) != authorizationScheme {
		return "", false
	}
	if token == "" {
		return "", false
	}
	return token, true
}
