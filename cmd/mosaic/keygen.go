package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newKeygenCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a validator key file and print the public key",

		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}

			seed := hex.EncodeToString(priv.Seed()) + "\n"
			if err := os.WriteFile(outPath, []byte(seed), 0o600); err != nil {
				return fmt.Errorf("failed to write key file: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(pub))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "validator.key", "path for the generated key file")

	return cmd
}
