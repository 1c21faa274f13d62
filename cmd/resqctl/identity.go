package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/resqhq/resq/internal/config"
	"github.com/resqhq/resq/services"
)

var signInput string

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the instance signing identity",
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the instance ID and public key",
	Long: `Load the instance keypair from the data directory (generating one if
none exists) and print the public half. The same key is what the API serves
on /identity/public-key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity, err := loadIdentity()
		if err != nil {
			return err
		}
		pub, err := identity.PublicKeyPEM()
		if err != nil {
			return err
		}
		fmt.Printf("Instance ID: %s\n", identity.InstanceID())
		fmt.Printf("Algorithm:   ECDSA-P256-SHA256\n\n")
		fmt.Print(pub)
		return nil
	},
}

var identitySignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a file with the instance key",
	Long: `Sign the contents of a file and print the raw R||S hex signature.

Example:
  resqctl identity sign --in payload.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if signInput == "" {
			return fmt.Errorf("--in is required")
		}
		data, err := os.ReadFile(signInput)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", signInput, err)
		}

		identity, err := loadIdentity()
		if err != nil {
			return err
		}
		sig, err := identity.Sign(data)
		if err != nil {
			return err
		}
		fmt.Println(sig)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identitySignCmd)

	identitySignCmd.Flags().StringVar(&signInput, "in", "", "File to sign")
}

// loadIdentity uses file-only mode: the CLI reads the same data directory as
// the server but never touches the database.
func loadIdentity() (*services.IdentityService, error) {
	if err := config.LoadConfig(os.Getenv("RESQ_CONFIG_PATH")); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return services.NewIdentityService(config.App.DataDir, config.App.InstanceID)
}
