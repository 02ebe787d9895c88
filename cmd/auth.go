package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unlist-sh/unlist/pkg/services"
)

// authCmd groups backend authentication subcommands.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authenticate against the backend services",
}

// authRedeemCmd implements: unlist auth redeem <code>
// Exchanges an invite code for an access token and stores it in the config,
// so later runs can reach the captcha and email services.
var authRedeemCmd = &cobra.Command{
	Use:   "redeem <code>",
	Short: "Redeem an invite code for an access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL := viper.GetString("backend.url")
		if baseURL == "" {
			return fmt.Errorf("no backend URL configured. Set backend.url in the config")
		}

		svc := &services.AuthService{Client: backendClient(), BaseURL: baseURL}
		token, err := svc.RedeemInviteCode(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		viper.Set("backend.authtoken", token)
		if err := viper.WriteConfig(); err != nil {
			return fmt.Errorf("token redeemed but could not be saved: %w", err)
		}

		fmt.Println("Invite code redeemed. The access token was saved to the config.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authRedeemCmd)
}
