package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ElMoorish/ComLock/pkg/identity"
	"github.com/ElMoorish/ComLock/pkg/qr"
)

var identityShowQR bool

// identityCmd generates a fresh identity and prints its fingerprint,
// mirroring Ciphera's fingerprint command but against a freshly generated
// identity rather than one loaded from disk, since this CLI carries no
// persistent identity store.
func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Generate a fresh identity and print its fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.New()
			if err != nil {
				return fmt.Errorf("generating identity: %w", err)
			}

			fmt.Printf("Fingerprint: %s\n", id.Fingerprint())
			fmt.Printf("KEM public key bytes: %d\n", len(id.KEM.PublicKey.Bytes()))

			if !identityShowQR {
				return nil
			}

			payload := identity.NewQRPayload(id, id.IdentityDH.MarshalPublicKey(), id.KEM.PublicKey.Bytes())
			return qr.Render(os.Stdout, payload)
		},
	}
	cmd.Flags().BoolVar(&identityShowQR, "qr", false, "also print a scannable QR code for the identity")
	return cmd
}
