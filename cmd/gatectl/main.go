package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "gatectl",
		Short: "Nooterra Pay Gate control CLI",
		Long: `gatectl operates a Nooterra Pay Gate: generate provider signing keys,
run a demo paid-tool gate, mint a throwaway payment token against it, and
decode a quote header for inspection.`,
		Version: version,
	}

	rootCmd.AddCommand(
		newKeygenCmd(),
		newServeCmd(),
		newMintTestTokenCmd(),
		newInspectQuoteCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
