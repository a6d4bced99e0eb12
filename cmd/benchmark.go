package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/spamlens/spamlens/pkg/inference"
	"github.com/spamlens/spamlens/pkg/learning"
	"github.com/spamlens/spamlens/pkg/profiler"
)

var (
	benchmarkInput      string
	benchmarkRuns       int
	benchmarkConcurrent int
	benchmarkVerbose    bool
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Measure prediction latency and accuracy",
	Long: `Run the trained model over a directory of .txt messages and report
prediction latency. Files under a directory named "spam" or "normal"/"ham"
are scored against that label.

Example usage:
  spamlens benchmark --input emails --runs 5 --concurrent 4`,
	RunE: runBenchmark,
}

// BenchmarkResult contains prediction metrics
type BenchmarkResult struct {
	TotalMessages int
	TotalTime     time.Duration
	Latency       profiler.Stats
	PerSecond     float64

	SpamDetected   int
	NormalDetected int
	Labeled        int
	Correct        int
	Errors         int
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	files, err := findMessageFiles(benchmarkInput)
	if err != nil {
		return fmt.Errorf("failed to find message files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no .txt files found in %s", benchmarkInput)
	}

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
	if !svc.Health().ModelLoaded {
		return inference.ErrModelNotLoaded
	}

	fmt.Printf("🚀 spamlens Prediction Benchmark\n")
	fmt.Printf("📁 Input directory: %s\n", benchmarkInput)
	fmt.Printf("📧 Message files found: %d\n", len(files))
	fmt.Printf("🔄 Benchmark runs: %d\n", benchmarkRuns)
	fmt.Printf("⚡ Concurrent workers: %d\n\n", benchmarkConcurrent)

	messages := make([]benchmarkMessage, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		messages = append(messages, benchmarkMessage{path: f, text: string(data), label: labelFromPath(f)})
	}

	result := benchmark(ctx, svc, messages, benchmarkRuns, benchmarkConcurrent)
	displayBenchmarkResults(result)
	return nil
}

type benchmarkMessage struct {
	path  string
	text  string
	label *learning.Label
}

func benchmark(ctx context.Context, svc *inference.Service, messages []benchmarkMessage, runs, concurrent int) *BenchmarkResult {
	if concurrent < 1 {
		concurrent = 1
	}
	prof := profiler.New()
	result := &BenchmarkResult{TotalMessages: len(messages) * runs}

	fmt.Printf("🏃 Running benchmark...\n")

	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, concurrent)

	start := time.Now()
	for run := 0; run < runs; run++ {
		for _, msg := range messages {
			wg.Add(1)
			go func(msg benchmarkMessage) {
				defer wg.Done()
				semaphore <- struct{}{}
				defer func() { <-semaphore }()

				timer := prof.Start("predict")
				res, err := svc.PredictText(ctx, msg.text)
				timer.Stop()

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Errors++
					if benchmarkVerbose {
						fmt.Printf("  ❌ %s: %v\n", msg.path, err)
					}
					return
				}
				if res.IsSpam {
					result.SpamDetected++
				} else {
					result.NormalDetected++
				}
				if msg.label != nil {
					result.Labeled++
					if msg.label.IsSpam() == res.IsSpam {
						result.Correct++
					}
				}
			}(msg)
		}
	}
	wg.Wait()

	result.TotalTime = time.Since(start)
	result.Latency = prof.Stats("predict")
	if secs := result.TotalTime.Seconds(); secs > 0 {
		result.PerSecond = float64(result.TotalMessages) / secs
	}
	return result
}

func displayBenchmarkResults(result *BenchmarkResult) {
	fmt.Printf("📊 Benchmark Results\n")
	fmt.Printf("═══════════════════════════════════════\n\n")

	fmt.Printf("⚡ Performance Metrics:\n")
	fmt.Printf("  Total messages processed: %d\n", result.TotalMessages)
	fmt.Printf("  Total time: %s\n", profiler.FormatDuration(result.TotalTime))
	fmt.Printf("  Messages per second: %.0f\n\n", result.PerSecond)

	l := result.Latency
	fmt.Printf("📈 Latency Distribution:\n")
	fmt.Printf("  Average: %s\n", profiler.FormatDuration(l.Average))
	fmt.Printf("  Min: %s\n", profiler.FormatDuration(l.Min))
	fmt.Printf("  Max: %s\n", profiler.FormatDuration(l.Max))
	fmt.Printf("  Median: %s\n", profiler.FormatDuration(l.Median))
	fmt.Printf("  95th percentile: %s\n\n", profiler.FormatDuration(l.P95))

	fmt.Printf("🎯 Classification Results:\n")
	fmt.Printf("  Spam detected: %d\n", result.SpamDetected)
	fmt.Printf("  Normal detected: %d\n", result.NormalDetected)
	fmt.Printf("  Errors: %d\n", result.Errors)
	if result.Labeled > 0 {
		fmt.Printf("  Accuracy on labeled files: %.2f%% (%d/%d)\n",
			float64(result.Correct)/float64(result.Labeled)*100, result.Correct, result.Labeled)
	}
	fmt.Println()
}

// findMessageFiles recursively finds .txt files
func findMessageFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".txt") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// labelFromPath infers the ground truth from the nearest spam/normal/ham directory.
func labelFromPath(path string) *learning.Label {
	parts := strings.Split(filepath.ToSlash(filepath.Dir(path)), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		l, err := learning.ParseLabel(strings.ToLower(parts[i]))
		if err == nil {
			return &l
		}
	}
	return nil
}

func init() {
	benchmarkCmd.Flags().StringVarP(&benchmarkInput, "input", "i", "", "Input directory with .txt messages")
	benchmarkCmd.Flags().IntVarP(&benchmarkRuns, "runs", "r", 3, "Number of benchmark runs")
	benchmarkCmd.Flags().IntVarP(&benchmarkConcurrent, "concurrent", "j", 1, "Number of concurrent workers")
	benchmarkCmd.Flags().BoolVarP(&benchmarkVerbose, "verbose", "v", false, "Print per-file errors")

	_ = benchmarkCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(benchmarkCmd)
}
