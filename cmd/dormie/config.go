package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Printf("config file: %s\n\n", path)
		fmt.Printf("default.base_url  = %s\n", cfg.Default.BaseURL)
		fmt.Printf("auth.user_id      = %s\n", cfg.Auth.UserID)
		fmt.Printf("auth.display_name = %s\n", cfg.Auth.DisplayName)
		fmt.Printf("auth.role         = %s\n", cfg.Auth.Role)
		if cfg.Auth.Token != "" {
			fmt.Println("auth.token        = (set)")
		} else {
			fmt.Println("auth.token        = (not set)")
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value (e.g. dormie config set default.base_url https://portal.example.edu)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Printf("set %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
