package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stronghold/internal/cryptoutil"
)

func newKeygenCmd() *cobra.Command {
	var outPrivate, outPublic string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 provider signing keypair",
		Long: `Generate a fresh Ed25519 keypair suitable for
PROVIDER_PRIVATE_KEY_PEM / PROVIDER_PUBLIC_KEY_PEM, and print its derived
keyId (the hex SHA-256 of the DER-encoded SubjectPublicKeyInfo).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := cryptoutil.GenerateEd25519()
			if err != nil {
				return fmt.Errorf("generate keypair: %w", err)
			}

			kid, err := cryptoutil.KeyIdFromPublicKeyPem(kp.PublicKeyPem)
			if err != nil {
				return fmt.Errorf("derive keyId: %w", err)
			}

			if outPrivate != "" {
				if err := writeFile(outPrivate, kp.PrivateKeyPem); err != nil {
					return err
				}
			} else {
				fmt.Println(kp.PrivateKeyPem)
			}

			if outPublic != "" {
				if err := writeFile(outPublic, kp.PublicKeyPem); err != nil {
					return err
				}
			} else {
				fmt.Println(kp.PublicKeyPem)
			}

			fmt.Printf("keyId: %s\n", kid)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPrivate, "out-private", "", "write the private key PEM to this file instead of stdout")
	cmd.Flags().StringVar(&outPublic, "out-public", "", "write the public key PEM to this file instead of stdout")

	return cmd
}
