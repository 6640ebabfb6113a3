package gate

// PricingEntry is one tool's published, unpriced offer shape — enough for a
// caller to mint a correctly-shaped payment token without guessing at
// amounts. It deliberately omits anything request-specific (quote nonces,
// signatures): those only exist once a real request hits the tool's route.
type PricingEntry struct {
	ToolID                 string                 `json:"toolId"`
	AmountCents            int64                  `json:"amountCents"`
	Currency               string                 `json:"currency"`
	Idempotency            Idempotency            `json:"idempotency,omitempty"`
	RequestBindingMode     RequestBindingMode     `json:"requestBindingMode"`
	QuoteRequired          bool                   `json:"quoteRequired,omitempty"`
	QuoteID                string                 `json:"quoteId,omitempty"`
	SpendAuthorizationMode SpendAuthorizationMode `json:"spendAuthorizationMode"`
}

// PricingListing normalizes offers into a stable, free-to-fetch pricing
// listing. It never prices a specific request and never requires payment —
// it is the gate's counterpart to the teacher's pricing.go route, scoped
// down to "what would this cost", not a full marketplace listing.
func PricingListing(offers []Offer) []PricingEntry {
	entries := make([]PricingEntry, 0, len(offers))
	for _, o := range offers {
		n := o.Normalize()
		entries = append(entries, PricingEntry{
			ToolID:                 n.ToolID,
			AmountCents:            n.AmountCents,
			Currency:               n.Currency,
			Idempotency:            n.Idempotency,
			RequestBindingMode:     n.RequestBindingMode,
			QuoteRequired:          n.QuoteRequired,
			QuoteID:                n.QuoteID,
			SpendAuthorizationMode: n.SpendAuthorizationMode,
		})
	}
	return entries
}
