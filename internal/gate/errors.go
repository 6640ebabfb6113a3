package gate

import "stronghold/internal/paytoken"

// Payment-gating error codes beyond the token-codec taxonomy re-exported
// from internal/paytoken (§4.3, §7 class 2).
const (
	CodePaymentRequired        = "PAYMENT_REQUIRED"
	CodeKeysetUnavailable      = "NOOTERRA_PAY_KEYSET_UNAVAILABLE"
	CodeProviderMismatch       = "NOOTERRA_PAY_PROVIDER_MISMATCH"
	CodeAmountMismatch         = "NOOTERRA_PAY_AMOUNT_MISMATCH"
	CodeCurrencyMismatch       = "NOOTERRA_PAY_CURRENCY_MISMATCH"
	CodeQuoteRequired          = "NOOTERRA_PAY_QUOTE_REQUIRED"
	CodeQuoteMismatch          = "NOOTERRA_PAY_QUOTE_MISMATCH"
	CodeSpendAuthRequired      = "NOOTERRA_PAY_SPEND_AUTH_REQUIRED"
	CodeRequestBodyTooLarge    = "NOOTERRA_PAY_REQUEST_BODY_TOO_LARGE"
	CodeUnknownKid             = paytoken.CodeUnknownKid
	CodeSignatureInvalid       = paytoken.CodeSignatureInvalid
	CodePayloadInvalid         = paytoken.CodePayloadInvalidCode
	CodeExpired                = paytoken.CodeExpired
	CodeAudienceMismatch       = paytoken.CodeAudienceMismatch
	CodePayeeMismatch          = paytoken.CodePayeeMismatch
	CodeRequestBindingMissing  = paytoken.CodeRequestBindingMissing
	CodeRequestBindingRequired = paytoken.CodeRequestBindingRequired
	CodeRequestBindingMismatch = paytoken.CodeRequestBindingMismatch
)

// PaymentError is a class-2 failure (§7): always surfaced as HTTP 402 with a
// stable code, never retried by the gate itself.
type PaymentError struct {
	Code          string
	Message       string
	MissingClaims []string
}

func (e *PaymentError) Error() string { return e.Code + ": " + e.Message }

func paymentError(code, message string) *PaymentError {
	return &PaymentError{Code: code, Message: message}
}
