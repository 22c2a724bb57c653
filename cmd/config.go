package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zpam/mailclass/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Generate and manage mailclass configuration files`,
}

var configGenCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := "config.yaml"
		if len(args) > 0 {
			configPath = args[0]
		}

		if _, err := os.Stat(configPath); err == nil {
			overwrite, _ := cmd.Flags().GetBool("force")
			if !overwrite {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
			}
		}

		if err := config.DefaultConfig().SaveConfig(configPath); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("✅ Configuration file generated: %s\n", configPath)
		fmt.Printf("🚀 Use 'mailclass train --config %s' to use the configuration\n", configPath)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <config-file>",
	Short: "Validate configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := args[0]

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("❌ Configuration validation failed: %w", err)
		}

		fmt.Printf("✅ Configuration is valid: %s\n", configPath)

		if warnings := validateConfigLogic(cfg); len(warnings) > 0 {
			fmt.Printf("\n⚠️  Warnings:\n")
			for _, warning := range warnings {
				fmt.Printf("  - %s\n", warning)
			}
		}

		fmt.Printf("\n📊 Configuration Summary:\n")
		fmt.Printf("  Iterations: %d, cutoff: %d\n", cfg.Training.Iterations, cfg.Training.Cutoff)
		fmt.Printf("  Store: %s\n", cfg.Store.Backend)
		fmt.Printf("  Milter: %s://%s\n", cfg.Milter.Network, cfg.Milter.Address)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [config-file]",
	Short: "Show current configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if len(args) > 0 {
			var err error
			cfg, err = config.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			fmt.Printf("# Configuration: %s\n", args[0])
		} else {
			fmt.Printf("# Default configuration\n")
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

// validateConfigLogic reports settings that are valid but likely mistakes
func validateConfigLogic(cfg *config.Config) []string {
	var warnings []string

	if cfg.Training.TrainRatio == 1 {
		warnings = append(warnings, "train_ratio is 1, accuracy cannot be measured")
	}
	if cfg.Training.Iterations < 10 {
		warnings = append(warnings, "Few training iterations, the model may not converge")
	}
	if cfg.Store.Backend == "file" && !cfg.Store.Fallback {
		warnings = append(warnings, "Fallback disabled, training fails if model_path is not writable")
	}
	if cfg.Milter.AddHeaders && !cfg.Milter.CanAddHeaders {
		warnings = append(warnings, "add_headers is set but can_add_headers is not negotiated")
	}
	if cfg.Milter.RejectThreshold < 0.9 {
		warnings = append(warnings, "Low reject_threshold might reject legitimate mail")
	}

	return warnings
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGenCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configGenCmd.Flags().Bool("force", false, "Overwrite existing config file")
}
