package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	configFile string
	debugLog   bool
)

var rootCmd = &cobra.Command{
	Use:   "spamlens",
	Short: "spamlens - spam classifier for text and images",
	Long: `spamlens classifies messages as spam or normal with a TF-IDF + naive Bayes
model. Text inside images (screenshots, scanned flyers) is recovered with OCR
and classified the same way.

Train a model with 'spamlens train', then serve it over HTTP with
'spamlens serve' or plug it into your MTA with 'spamlens milter'.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("spamlens - text and image spam classifier")
		fmt.Println("Use 'spamlens --help' for usage information")
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&debugLog, "debug", "d", false, "Enable debug logging")
}
