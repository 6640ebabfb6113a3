package gate

// Idempotency classifies how safely a tool invocation can be retried;
// Offer's RequestBindingMode default derives from it (§3).
type Idempotency string

const (
	IdempotencySafe          Idempotency = "safe"
	IdempotencyIdempotent    Idempotency = "idempotent"
	IdempotencyNonIdempotent Idempotency = "non_idempotent"
	IdempotencySideEffecting Idempotency = "side_effecting"
)

// RequestBindingMode is an explicit two-variant tag in place of the source's
// duck-typed offer field, per the spec's own redesign note.
type RequestBindingMode string

const (
	BindingNone   RequestBindingMode = "none"
	BindingStrict RequestBindingMode = "strict"
)

// SpendAuthorizationMode is likewise an explicit tag.
type SpendAuthorizationMode string

const (
	SpendAuthOptional SpendAuthorizationMode = "optional"
	SpendAuthRequired SpendAuthorizationMode = "required"
)

// Offer is the normalized, per-request price quote produced by a handler's
// PriceFunc (§3).
type Offer struct {
	AmountCents            int64
	Currency               string
	ProviderID             string
	ToolID                 string
	Address                string
	Network                string
	Idempotency            Idempotency
	RequestBindingMode     RequestBindingMode
	QuoteRequired          bool
	QuoteID                string
	SpendAuthorizationMode SpendAuthorizationMode
}

// Normalize fills in RequestBindingMode and SpendAuthorizationMode when the
// caller's PriceFunc left them unset, applying the defaulting rules of §3.
func (o Offer) Normalize() Offer {
	out := o
	if out.RequestBindingMode == "" {
		if out.Idempotency == IdempotencyNonIdempotent || out.Idempotency == IdempotencySideEffecting {
			out.RequestBindingMode = BindingStrict
		} else {
			out.RequestBindingMode = BindingNone
		}
	}
	if out.SpendAuthorizationMode == "" {
		if out.QuoteRequired {
			out.SpendAuthorizationMode = SpendAuthRequired
		} else {
			out.SpendAuthorizationMode = SpendAuthOptional
		}
	}
	return out
}
