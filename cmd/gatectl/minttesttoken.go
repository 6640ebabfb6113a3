package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"stronghold/internal/cryptoutil"
	"stronghold/internal/paytoken"
)

func newMintTestTokenCmd() *cobra.Command {
	var (
		providerID           string
		gateID               string
		amountCents          int64
		currency             string
		ttl                  time.Duration
		requestBindingSha256 string
		quoteID              string
		idempotencyKey       string
		sponsorRef           string
		agentKeyID           string
		policyFingerprint    string
	)

	cmd := &cobra.Command{
		Use:   "mint-test-token",
		Short: "Mint a throwaway Payment Token Payload v1 for manual testing",
		Long: `Mint a Payment Token Payload v1 signed by a freshly generated (or
supplied) agent keypair, printing the Authorization header value ready to
paste into a curl request against a running gate.

This is a development aid, not an issuer: a real deployment mints tokens
from the agent's own signing key, never from this CLI.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			agentKeys, err := cryptoutil.GenerateEd25519()
			if err != nil {
				return fmt.Errorf("generate agent keypair: %w", err)
			}

			now := time.Now()
			payload := paytoken.Payload{
				Iss:              "agent_" + uuid.NewString(),
				Aud:              providerID,
				GateID:           gateID,
				AuthorizationRef: "authref_" + uuid.NewString(),
				AmountCents:      amountCents,
				Currency:         currency,
				PayeeProviderID:  providerID,
				Iat:              now.Unix(),
				Exp:              now.Add(ttl).Unix(),
			}

			if requestBindingSha256 != "" {
				payload.RequestBindingMode = "strict"
				payload.RequestBindingSha256 = requestBindingSha256
			}
			payload.QuoteID = quoteID
			payload.IdempotencyKey = idempotencyKey
			payload.SponsorRef = sponsorRef
			payload.AgentKeyID = agentKeyID
			payload.PolicyFingerprint = policyFingerprint

			result, err := paytoken.Mint(paytoken.MintInput{
				Payload:       payload,
				PrivateKeyPem: agentKeys.PrivateKeyPem,
				PublicKeyPem:  agentKeys.PublicKeyPem,
			})
			if err != nil {
				return fmt.Errorf("mint token: %w", err)
			}

			fmt.Printf("Authorization: NooterraPay %s\n", result.Token)
			fmt.Printf("agent public key PEM (register with the gate's keyset):\n%s\n", agentKeys.PublicKeyPem)
			fmt.Printf("tokenSha256: %s\n", result.TokenSha256)
			return nil
		},
	}

	cmd.Flags().StringVar(&providerID, "provider-id", "prov_demo", "aud / payeeProviderId claim")
	cmd.Flags().StringVar(&gateID, "gate-id", "gate_demo", "gateId claim")
	cmd.Flags().Int64Var(&amountCents, "amount-cents", 500, "amountCents claim")
	cmd.Flags().StringVar(&currency, "currency", "USD", "currency claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 5*time.Minute, "token lifetime (iat..exp)")
	cmd.Flags().StringVar(&requestBindingSha256, "request-binding-sha256", "", "bind the token to a specific request (sets requestBindingMode=strict); compute it with ComputeRequestBindingHash or inspect-quote")
	cmd.Flags().StringVar(&quoteID, "quote-id", "", "quoteId claim, to match a quote the gate returned on 402")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotencyKey claim")
	cmd.Flags().StringVar(&sponsorRef, "sponsor-ref", "", "sponsorRef claim")
	cmd.Flags().StringVar(&agentKeyID, "agent-key-id", "", "agentKeyId claim")
	cmd.Flags().StringVar(&policyFingerprint, "policy-fingerprint", "", "64-hex policyFingerprint claim")

	return cmd
}
