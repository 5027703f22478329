package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/spf13/cobra"
)

var utilCmd = &cobra.Command{
	Use:     "util",
	Aliases: []string{"utils"},
	Short:   "Utility commands for fieldauth",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("Available utility commands:")
		fmt.Println("  generate-secret - Generate a secure store secret")
		fmt.Println("  inspect-token   - Print the claims of a JWT without verifying it")
	},
}

var utilGenerateSecretCmd = &cobra.Command{
	Use:   "generate-secret",
	Short: "Generate a secure store secret",
	Run: func(_ *cobra.Command, _ []string) {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Errorf("failed to generate secret: %w", err))
		}
		fmt.Println(base64.StdEncoding.EncodeToString(secret))
	},
}

var utilInspectTokenCmd = &cobra.Command{
	Use:   "inspect-token <token>",
	Args:  cobra.ExactArgs(1),
	Short: "Print the claims of a JWT without verifying it",
	Run: func(_ *cobra.Command, args []string) {
		tok, err := jwt.Parse([]byte(args[0]), jwt.WithVerify(false), jwt.WithValidate(false))
		if err != nil {
			fmt.Fprintf(os.Stderr, "not a parseable JWT: %v\n", err)
			os.Exit(1)
		}
		if sub := tok.Subject(); sub != "" {
			fmt.Printf("sub: %s\n", sub)
		}
		if exp := tok.Expiration(); !exp.IsZero() {
			fmt.Printf("exp: %s\n", exp)
		}
		for k, v := range tok.PrivateClaims() {
			fmt.Printf("%s: %v\n", k, v)
		}
	},
}

func init() {
	rootCmd.AddCommand(utilCmd)
	utilCmd.AddCommand(utilGenerateSecretCmd)
	utilCmd.AddCommand(utilInspectTokenCmd)
}
