package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"stronghold/internal/quote"
)

func newInspectQuoteCmd() *cobra.Command {
	var quoteB64, signatureB64 string

	cmd := &cobra.Command{
		Use:   "inspect-quote",
		Short: "Decode and verify a Provider Quote Payload v1 / Quote Signature v1 pair",
		Long: `Decode the base64url-encoded x-nooterra-provider-quote and
x-nooterra-provider-quote-signature header values a gate returned on a 402,
print the decoded JSON, and report whether the signature verifies.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, sig, err := decodeQuote(quoteB64, signatureB64)
			if err != nil {
				return err
			}

			qJSON, err := json.MarshalIndent(q, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal quote: %w", err)
			}
			sigJSON, err := json.MarshalIndent(sig, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal signature: %w", err)
			}

			fmt.Printf("quote:\n%s\n\nsignature:\n%s\n\n", qJSON, sigJSON)

			ok, err := quote.Verify(q, sig)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			if ok {
				fmt.Println("signature: VALID")
			} else {
				fmt.Println("signature: INVALID")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&quoteB64, "quote", "", "base64url-encoded x-nooterra-provider-quote header value (required)")
	cmd.Flags().StringVar(&signatureB64, "signature", "", "base64url-encoded x-nooterra-provider-quote-signature header value (required)")
	cmd.MarkFlagRequired("quote")
	cmd.MarkFlagRequired("signature")

	return cmd
}

func decodeQuote(quoteB64, signatureB64 string) (quote.Payload, quote.Signature, error) {
	quoteBytes, err := base64.RawURLEncoding.DecodeString(quoteB64)
	if err != nil {
		return quote.Payload{}, quote.Signature{}, fmt.Errorf("decode --quote: %w", err)
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(signatureB64)
	if err != nil {
		return quote.Payload{}, quote.Signature{}, fmt.Errorf("decode --signature: %w", err)
	}

	var q quote.Payload
	if err := json.Unmarshal(quoteBytes, &q); err != nil {
		return quote.Payload{}, quote.Signature{}, fmt.Errorf("parse quote JSON: %w", err)
	}
	var sig quote.Signature
	if err := json.Unmarshal(sigBytes, &sig); err != nil {
		return quote.Payload{}, quote.Signature{}, fmt.Errorf("parse signature JSON: %w", err)
	}

	return q, sig, nil
}
