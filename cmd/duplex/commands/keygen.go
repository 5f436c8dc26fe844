package commands

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"duplex/internal/crypto"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an X25519 key pair for the session handshake",
		RunE: func(cmd *cobra.Command, args []string) error {
			pair, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Printf("Private:     %s\n", base64.StdEncoding.EncodeToString(pair.Private[:]))
			fmt.Printf("Public:      %s\n", base64.StdEncoding.EncodeToString(pair.Public[:]))
			fmt.Printf("Fingerprint: %s\n", crypto.Fingerprint(pair.Public))
			return nil
		},
	}
}
