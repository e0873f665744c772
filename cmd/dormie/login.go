package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	dormie "github.com/dormiehq/dormie-go"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the portal and save the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Default.BaseURL == "" {
			return fmt.Errorf("no base URL configured; run: dormie config set default.base_url <url>")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		api := dormie.NewClient(cfg.Default.BaseURL, "")
		res, err := api.Login(ctx, loginEmail, loginPassword)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth.Token = res.Token
		cfg.Auth.UserID = res.User.ID
		cfg.Auth.DisplayName = res.User.Name
		cfg.Auth.Role = string(res.User.Role)
		if err := saveConfig(cfg); err != nil {
			return err
		}

		fmt.Printf("logged in as %s (%s)\n", res.User.Name, res.User.Role)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "portal account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "portal account password")
	loginCmd.MarkFlagRequired("email")
	loginCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(loginCmd)
}
