package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spamlens/spamlens/pkg/inference"
)

var (
	predictImage string
	predictJSON  bool
)

var predictCmd = &cobra.Command{
	Use:   "predict [text]",
	Short: "Classify a message or image",
	Long: `Classify text given as arguments (or on stdin with "-"), or the text
recovered from an image with --image.

Example usage:
  spamlens predict "Congratulations, you won a free cruise"
  cat message.txt | spamlens predict -
  spamlens predict --image flyer.png --json`,
	RunE: runPredict,
}

func runPredict(cmd *cobra.Command, args []string) error {
	if predictImage == "" && len(args) == 0 {
		return fmt.Errorf("provide text to classify or --image FILE")
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	defer st.Close()

	svc, err := loadService(ctx, cfg, st, logger)
	if err != nil {
		return err
	}

	var res *inference.Result
	if predictImage != "" {
		info, err := os.Stat(predictImage)
		if err != nil {
			return err
		}
		if err := inference.ValidateUpload(filepath.Base(predictImage), info.Size(), cfg.MaxUploadBytes()); err != nil {
			return err
		}
		data, err := os.ReadFile(predictImage)
		if err != nil {
			return err
		}
		res, err = svc.PredictImage(ctx, filepath.Base(predictImage), data)
		if err != nil {
			return err
		}
	} else {
		text := strings.Join(args, " ")
		if text == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			text = string(data)
		}
		res, err = svc.PredictText(ctx, text)
		if err != nil {
			return err
		}
	}

	if predictJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	icon := "✅"
	if res.IsSpam {
		icon = "🚫"
	}
	fmt.Printf("%s %s (%s confidence)\n", icon, strings.ToUpper(res.Prediction), res.Confidence)
	if res.ExtractedText != "" {
		fmt.Printf("\n🖼️  Extracted text:\n%s\n", res.ExtractedText)
	}
	return nil
}

func init() {
	predictCmd.Flags().StringVarP(&predictImage, "image", "i", "", "Classify the text recovered from this image")
	predictCmd.Flags().BoolVar(&predictJSON, "json", false, "Print the HTTP-style JSON result")

	rootCmd.AddCommand(predictCmd)
}
