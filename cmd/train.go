package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/config"
	"github.com/spamlens/spamlens/pkg/corpus"
	"github.com/spamlens/spamlens/pkg/imagetext"
	"github.com/spamlens/spamlens/pkg/learning"
	"github.com/spamlens/spamlens/pkg/profiler"
	"github.com/spamlens/spamlens/pkg/runlog"
	"github.com/spamlens/spamlens/pkg/store"
	"github.com/spamlens/spamlens/pkg/textnorm"
	"github.com/spamlens/spamlens/pkg/trainer"
)

var (
	trainSpamDir   string
	trainNormalDir string
	trainTSV       string
	trainProfile   string
	trainNoImages  bool
	trainVerbose   bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the spam classifier",
	Long: `Train the TF-IDF vectorizer and naive Bayes classifier from labeled examples.

The corpus comes from two label buckets (one .txt file or image per example)
and/or an SMS Spam Collection file ("spam|ham<TAB>message" per line). Images
are run through OCR; images without readable text are skipped.

At least 10 examples are required. The trained pair is written atomically to
the configured store; the previous pair stays in place if anything fails.

Example usage:
  spamlens train --spam-dir emails/spam --normal-dir emails/normal
  spamlens train --tsv data/SMSSpamCollection --profile stemmed`,
	RunE: runTrain,
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cmd.Flags().Changed("profile") {
		cfg.Normalization.Profile = trainProfile
	}
	opts, err := trainerOptions(cfg)
	if err != nil {
		return err
	}

	sources := trainSources(cmd, cfg, logger)
	if len(sources) == 0 {
		return fmt.Errorf("no corpus configured: use --spam-dir/--normal-dir or --tsv")
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	defer st.Close()

	fmt.Printf("🧠 spamlens training\n")
	fmt.Printf("═══════════════════════════════════════\n")
	for _, src := range sources {
		fmt.Printf("📁 Source: %s\n", src.Name())
	}
	fmt.Printf("🔤 Normalization profile: %s\n", opts.Profile)
	fmt.Printf("📐 Vocabulary: up to %d terms, stop words %s, n-grams %d-%d\n",
		opts.Vectorizer.MaxVocabularySize, opts.Vectorizer.StopWordPolicy,
		opts.Vectorizer.NgramRange[0], opts.Vectorizer.NgramRange[1])
	fmt.Printf("💾 Store: %s (%s)\n\n", storeLocation(cfg), cfg.Storage.Backend)

	report, runErr := trainer.New(opts, st, logger).Run(ctx, sources...)
	recordRun(ctx, cfg, logger, report, runErr)

	if runErr != nil {
		printTrainFailure(report, runErr)
		return runErr
	}

	printTrainReport(report)
	return nil
}

func trainSources(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) []corpus.Source {
	var images corpus.ImageExtractor
	if !trainNoImages {
		images = imagetext.NewExtractor(ocrConfig(cfg), logger)
	}

	spamDir, normalDir := cfg.Training.SpamDir, cfg.Training.NormalDir
	tsv := cfg.Training.TSVPath
	if cmd.Flags().Changed("spam-dir") {
		spamDir = trainSpamDir
	}
	if cmd.Flags().Changed("normal-dir") {
		normalDir = trainNormalDir
	}
	if cmd.Flags().Changed("tsv") {
		tsv = trainTSV
		// an explicit TSV corpus replaces each configured bucket not given on the command line
		if !cmd.Flags().Changed("spam-dir") {
			spamDir = ""
		}
		if !cmd.Flags().Changed("normal-dir") {
			normalDir = ""
		}
	}

	var sources []corpus.Source
	if spamDir != "" {
		sources = append(sources, corpus.DirSource{Dir: spamDir, Label: learning.LabelSpam, Images: images})
	}
	if normalDir != "" {
		sources = append(sources, corpus.DirSource{Dir: normalDir, Label: learning.LabelNormal, Images: images})
	}
	if tsv != "" {
		sources = append(sources, corpus.TSVSource{Path: tsv})
	}
	return sources
}

func recordRun(ctx context.Context, cfg *config.Config, logger *zap.Logger, report *trainer.Report, runErr error) {
	if !cfg.History.Enabled {
		return
	}
	ledger, err := runlog.Open(ctx, cfg.History.Path, logger)
	if err != nil {
		logger.Warn("could not open run history", zap.Error(err))
		return
	}
	defer ledger.Close()
	if _, err := ledger.Record(ctx, runlog.FromReport(report, runErr)); err != nil {
		logger.Warn("could not record training run", zap.Error(err))
	}
}

func printTrainFailure(report *trainer.Report, err error) {
	if report == nil {
		report = &trainer.Report{}
	}
	var se *trainer.StageError
	stage := "unknown"
	if errors.As(err, &se) {
		stage = string(se.Stage)
	}
	fmt.Printf("❌ Training failed at stage %s\n", stage)

	switch {
	case errors.Is(err, trainer.ErrInsufficientData):
		fmt.Printf("📉 Found %d examples (%d spam, %d normal)\n",
			report.Examples, report.SpamExamples, report.NormalExamples)
		fmt.Printf("💡 Add more labeled examples and run training again\n")
	case errors.As(err, new(*store.PersistenceError)):
		fmt.Printf("💾 The new model could not be saved; the previous model is unchanged\n")
	}
	if report.Skipped > 0 {
		fmt.Printf("⚠️  %d corpus entries were skipped (see log)\n", report.Skipped)
	}
}

func printTrainReport(report *trainer.Report) {
	fmt.Printf("🎉 Training Complete!\n")
	fmt.Printf("🆔 Run: %s\n", report.RunID)
	fmt.Printf("📊 Examples: %d (%d spam, %d normal, %d from images)\n",
		report.Examples, report.SpamExamples, report.NormalExamples, report.ImageExamples)
	if report.Skipped > 0 {
		fmt.Printf("⚠️  Skipped entries: %d\n", report.Skipped)
	}
	fmt.Printf("📚 Vocabulary size: %d\n", report.VocabularySize)
	fmt.Printf("✂️  Train/test: %d/%d\n", report.TrainSize, report.TestSize)
	if report.Degraded {
		fmt.Printf("⚠️  Corpus too small to stratify: evaluated on the training set, figures are optimistic\n")
	}
	fmt.Printf("🎯 Accuracy: %.2f%%\n", report.Evaluation.Accuracy*100)
	fmt.Printf("⏱️  Time taken: %s\n\n", profiler.FormatDuration(report.Duration))

	report.Evaluation.Fprint(os.Stdout)

	if trainVerbose {
		fmt.Printf("\n⏱️  Stage timings:\n")
		prof := profiler.New()
		for _, s := range report.Timings {
			prof.Record(s.Name, s.Total)
		}
		prof.Fprint(os.Stdout)
	}
}

func init() {
	trainCmd.Flags().StringVarP(&trainSpamDir, "spam-dir", "s", "", "Directory of spam examples (overrides config)")
	trainCmd.Flags().StringVarP(&trainNormalDir, "normal-dir", "n", "", "Directory of normal examples (overrides config)")
	trainCmd.Flags().StringVar(&trainTSV, "tsv", "", "SMS Spam Collection file (label<TAB>message)")
	trainCmd.Flags().StringVarP(&trainProfile, "profile", "p", string(textnorm.ProfileBasic), "Normalization profile: basic or stemmed")
	trainCmd.Flags().BoolVar(&trainNoImages, "no-images", false, "Skip image files in the label buckets")
	trainCmd.Flags().BoolVarP(&trainVerbose, "verbose", "v", false, "Print per-stage timings")

	rootCmd.AddCommand(trainCmd)
}
