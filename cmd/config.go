package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spamlens/spamlens/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Generate and manage spamlens configuration files`,
}

var configGenCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Long:  `Generate a configuration file with every option set to its default`,
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
		fmt.Printf("📝 Edit the file to point training at your corpus\n")
		fmt.Printf("🚀 Use 'spamlens train --config %s' to train with it\n", configPath)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate a configuration file (with SPAMLENS_* overrides applied) for syntax and logical errors`,
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
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [config-file]",
	Short: "Show current configuration",
	Long:  `Display the effective configuration with all values`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if path != "" {
			fmt.Printf("Configuration: %s\n\n", path)
		} else {
			fmt.Printf("Default Configuration:\n\n")
		}

		fmt.Printf("🔤 Normalization:\n")
		fmt.Printf("  Profile: %s\n", cfg.Normalization.Profile)

		fmt.Printf("\n📐 Vectorizer:\n")
		fmt.Printf("  Max vocabulary: %d\n", cfg.Vectorizer.MaxVocabularySize)
		fmt.Printf("  Stop words: %s\n", cfg.Vectorizer.StopWordPolicy)
		fmt.Printf("  N-grams: %d-%d\n", cfg.Vectorizer.NgramMin, cfg.Vectorizer.NgramMax)
		fmt.Printf("  Alpha: %.2f\n", cfg.Classifier.Alpha)

		fmt.Printf("\n🧠 Training:\n")
		fmt.Printf("  Spam dir: %s\n", cfg.Training.SpamDir)
		fmt.Printf("  Normal dir: %s\n", cfg.Training.NormalDir)
		if cfg.Training.TSVPath != "" {
			fmt.Printf("  TSV corpus: %s\n", cfg.Training.TSVPath)
		}
		fmt.Printf("  Minimum examples: %d\n", cfg.Training.MinExamples)
		fmt.Printf("  Test ratio: %.2f (seed %d)\n", cfg.Training.TestRatio, cfg.Training.Seed)

		fmt.Printf("\n🖼️  OCR:\n")
		fmt.Printf("  Engine: %s (lang %s, psm %d)\n", cfg.OCR.Tesseract, cfg.OCR.Lang, cfg.OCR.PSM)
		fmt.Printf("  Median radius: %d\n", cfg.OCR.MedianRadius)
		fmt.Printf("  Minimum text: %d chars\n", cfg.OCR.MinTextLength)

		fmt.Printf("\n💾 Storage:\n")
		fmt.Printf("  Backend: %s\n", cfg.Storage.Backend)
		fmt.Printf("  Location: %s\n", storeLocation(cfg))
		fmt.Printf("  Generations kept: %d\n", cfg.Storage.KeepGenerations)

		fmt.Printf("\n🌐 Server:\n")
		fmt.Printf("  Address: %s\n", cfg.Server.Address)
		fmt.Printf("  Upload limit: %d MB\n", cfg.Server.MaxUploadMB)

		fmt.Printf("\n📬 Milter:\n")
		fmt.Printf("  Listen: %s://%s\n", cfg.Milter.Network, cfg.Milter.Address)
		fmt.Printf("  Reject spam: %v (>= %.0f%%)\n", cfg.Milter.RejectSpam, cfg.Milter.RejectConfidence)

		fmt.Printf("\n📜 History:\n")
		fmt.Printf("  Enabled: %v (%s)\n", cfg.History.Enabled, cfg.History.Path)
		return nil
	},
}

// validateConfigLogic reports settings that are valid but probably not intended.
func validateConfigLogic(cfg *config.Config) []string {
	var warnings []string

	if cfg.Training.MinExamples < 10 {
		warnings = append(warnings, "Minimum examples below 10 produces unreliable models")
	}
	if cfg.Training.TestRatio > 0.5 {
		warnings = append(warnings, "More than half of the corpus is held out for evaluation")
	}
	if cfg.Vectorizer.NgramMax > 3 {
		warnings = append(warnings, "N-grams longer than 3 rarely help and inflate the vocabulary")
	}
	if cfg.Storage.KeepGenerations < 1 {
		warnings = append(warnings, "No previous generations are kept, a bad model cannot be rolled back")
	}
	if cfg.Milter.RejectSpam && cfg.Milter.RejectConfidence < 90 {
		warnings = append(warnings, "Rejecting spam below 90% confidence will bounce legitimate mail")
	}
	if cfg.Server.MaxUploadMB > 64 {
		warnings = append(warnings, "Large upload limit: images are held in memory while OCR runs")
	}
	if cfg.Training.SpamDir == cfg.Training.NormalDir && cfg.Training.SpamDir != "" {
		warnings = append(warnings, fmt.Sprintf("Spam and normal directories are the same: %s", cfg.Training.SpamDir))
	}

	return warnings
}

func init() {
	configCmd.AddCommand(configGenCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configGenCmd.Flags().Bool("force", false, "Overwrite existing config file")

	rootCmd.AddCommand(configCmd)
}
