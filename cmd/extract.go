package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/corpus"
	"github.com/spamlens/spamlens/pkg/imagetext"
)

var extractOut string

var extractCmd = &cobra.Command{
	Use:   "extract IMAGE|DIR...",
	Short: "Recover text from images with OCR",
	Long: `Run the OCR pipeline (grayscale, median filter, Otsu threshold, tesseract)
on images and print the recovered text. With --out, each result is written to
<name>_extracted.txt in that directory instead; that text can be reviewed and
dropped into a training bucket.

Example usage:
  spamlens extract flyer.png
  spamlens extract screenshots/ --out emails/spam`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	images, err := collectImages(args)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found (allowed: %s)", strings.Join(corpus.ImageExtensions, ", "))
	}
	if extractOut != "" {
		if err := os.MkdirAll(extractOut, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	ctx := context.Background()
	extractor := imagetext.NewExtractor(ocrConfig(cfg), logger)

	failed := 0
	for _, path := range images {
		text, err := extractor.ExtractFile(ctx, path)
		if err != nil {
			failed++
			fmt.Printf("❌ %s: %v\n", path, err)
			logger.Debug("extraction failed", zap.String("path", path), zap.Error(err))
			continue
		}

		if extractOut == "" {
			fmt.Printf("🖼️  %s\n%s\n\n", path, text)
			continue
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		target := filepath.Join(extractOut, base+"_extracted.txt")
		if err := os.WriteFile(target, []byte(text), 0644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
		fmt.Printf("✅ %s -> %s\n", path, target)
	}

	fmt.Printf("\n📊 %d images, %d extracted, %d failed\n", len(images), len(images)-failed, failed)
	if failed == len(images) {
		return fmt.Errorf("no text could be extracted")
	}
	return nil
}

func collectImages(args []string) ([]string, error) {
	var images []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			images = append(images, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && corpus.IsImageFile(e.Name()) {
				images = append(images, filepath.Join(arg, e.Name()))
			}
		}
	}
	return images, nil
}

func init() {
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "Write <name>_extracted.txt files to this directory")

	rootCmd.AddCommand(extractCmd)
}
