package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/config"
	"github.com/spamlens/spamlens/pkg/learning"
	"github.com/spamlens/spamlens/pkg/runlog"
	"github.com/spamlens/spamlens/pkg/store"
)

var (
	statusWatch bool
	statusJSON  bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show model, store and dependency status",
	Long: `Display the state of the spamlens installation:
- Artifact store backend and stored generations
- Currently trained model (run id, vocabulary, class counts)
- Last recorded training run
- OCR engine availability
- Health recommendations`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if statusWatch {
		return runStatusWatch(cfg, logger)
	}

	status := collectSystemStatus(context.Background(), cfg, logger)
	if statusJSON {
		return printStatusJSON(status)
	}
	printStatusDashboard(status)
	return nil
}

func runStatusWatch(cfg *config.Config, logger *zap.Logger) error {
	fmt.Printf("🔍 spamlens Live Status Monitor (Press Ctrl+C to exit)\n")
	fmt.Printf("═══════════════════════════════════════════════════\n\n")

	for {
		// Clear screen (basic)
		fmt.Print("\033[H\033[2J")
		printStatusDashboard(collectSystemStatus(context.Background(), cfg, logger))
		fmt.Printf("\n🔄 Updated: %s (refreshing every 5s)\n", time.Now().Format("15:04:05"))
		time.Sleep(5 * time.Second)
	}
}

// SystemStatus holds all status information
type SystemStatus struct {
	Store        StoreStatus      `json:"store"`
	Model        ModelStatus      `json:"model"`
	History      HistoryStatus    `json:"history"`
	Dependencies DependencyStatus `json:"dependencies"`
	Health       HealthStatus     `json:"health"`
	Timestamp    time.Time        `json:"timestamp"`
}

type StoreStatus struct {
	Backend     string   `json:"backend"`
	Location    string   `json:"location"`
	Connected   bool     `json:"connected"`
	Generations []string `json:"generations,omitempty"`
	Error       string   `json:"error,omitempty"`
}

type ModelStatus struct {
	Loaded         bool      `json:"loaded"`
	RunID          string    `json:"run_id,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	Profile        string    `json:"profile,omitempty"`
	VocabularySize int       `json:"vocabulary_size,omitempty"`
	SpamExamples   int       `json:"spam_examples,omitempty"`
	NormalExamples int       `json:"normal_examples,omitempty"`
	StopWords      string    `json:"stop_words,omitempty"`
	NgramRange     [2]int    `json:"ngram_range,omitempty"`
	Error          string    `json:"error,omitempty"`
}

type HistoryStatus struct {
	Enabled bool        `json:"enabled"`
	Path    string      `json:"path,omitempty"`
	LastRun *runlog.Run `json:"last_run,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type DependencyStatus struct {
	Tesseract DependencyCheck `json:"tesseract"`
}

type DependencyCheck struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Status    string `json:"status"`
}

type HealthStatus struct {
	Overall         string   `json:"overall"`
	Issues          []string `json:"issues"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
}

func collectSystemStatus(ctx context.Context, cfg *config.Config, logger *zap.Logger) *SystemStatus {
	status := &SystemStatus{Timestamp: time.Now()}
	status.Store, status.Model = collectStoreStatus(ctx, cfg, logger)
	status.History = collectHistoryStatus(ctx, cfg, logger)
	status.Dependencies = DependencyStatus{Tesseract: checkTesseract(ctx, cfg.OCR.Tesseract)}
	status.Health = assessHealth(status)
	return status
}

func collectStoreStatus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (StoreStatus, ModelStatus) {
	ss := StoreStatus{Backend: cfg.Storage.Backend, Location: storeLocation(cfg)}
	var ms ModelStatus

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		ss.Error = err.Error()
		return ss, ms
	}
	defer st.Close()
	ss.Connected = true

	if fs, ok := st.(*store.FileStore); ok {
		if gens, err := fs.Generations(); err == nil {
			ss.Generations = gens
		}
	}

	pair, err := st.Load(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			ms.Error = err.Error()
		}
		return ss, ms
	}
	art, err := learning.UnmarshalPair(pair.Vectorizer, pair.Classifier)
	if err != nil {
		ms.Error = err.Error()
		return ss, ms
	}

	vc := art.Vectorizer.Config()
	ms = ModelStatus{
		Loaded:         true,
		RunID:          art.RunID,
		CreatedAt:      art.CreatedAt,
		Profile:        string(art.Profile),
		VocabularySize: art.Vectorizer.Size(),
		SpamExamples:   art.Classifier.ClassCount(learning.LabelSpam),
		NormalExamples: art.Classifier.ClassCount(learning.LabelNormal),
		StopWords:      string(vc.StopWordPolicy),
		NgramRange:     vc.NgramRange,
	}
	return ss, ms
}

func collectHistoryStatus(ctx context.Context, cfg *config.Config, logger *zap.Logger) HistoryStatus {
	hs := HistoryStatus{Enabled: cfg.History.Enabled, Path: cfg.History.Path}
	if !hs.Enabled {
		return hs
	}
	if _, err := os.Stat(cfg.History.Path); os.IsNotExist(err) {
		return hs
	}
	ledger, err := runlog.Open(ctx, cfg.History.Path, logger)
	if err != nil {
		hs.Error = err.Error()
		return hs
	}
	defer ledger.Close()

	runs, err := ledger.Recent(ctx, 1)
	if err != nil {
		hs.Error = err.Error()
		return hs
	}
	if len(runs) > 0 {
		hs.LastRun = &runs[0]
	}
	return hs
}

func checkTesseract(ctx context.Context, binary string) DependencyCheck {
	path, err := exec.LookPath(binary)
	if err != nil {
		return DependencyCheck{Status: "Not installed (" + binary + ")"}
	}
	check := DependencyCheck{Available: true, Status: "Installed at " + path}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	// tesseract prints its version banner on stdout or stderr depending on the build
	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err == nil {
		if line, _, _ := strings.Cut(string(out), "\n"); line != "" {
			check.Version = strings.TrimSpace(line)
		}
	}
	return check
}

func assessHealth(status *SystemStatus) HealthStatus {
	health := HealthStatus{
		Issues:          []string{},
		Warnings:        []string{},
		Recommendations: []string{},
	}

	if !status.Store.Connected {
		health.Issues = append(health.Issues, "Artifact store unavailable: "+status.Store.Error)
		health.Recommendations = append(health.Recommendations, "Check the storage section of the configuration")
	}
	if status.Model.Error != "" {
		health.Issues = append(health.Issues, "Stored model is unreadable: "+status.Model.Error)
		health.Recommendations = append(health.Recommendations, "Retrain with 'spamlens train'")
	} else if status.Store.Connected && !status.Model.Loaded {
		health.Warnings = append(health.Warnings, "No trained model in the store")
		health.Recommendations = append(health.Recommendations, "Run 'spamlens train' to create one")
	}
	if !status.Dependencies.Tesseract.Available {
		health.Warnings = append(health.Warnings, "Tesseract not found: image predictions will fail")
		health.Recommendations = append(health.Recommendations, "Install tesseract-ocr or set ocr.tesseract")
	}
	if run := status.History.LastRun; run != nil {
		if run.Status == runlog.StatusFailed {
			health.Warnings = append(health.Warnings, fmt.Sprintf("Last training run failed at %s: %s", run.Stage, run.Error))
		} else if run.Degraded {
			health.Warnings = append(health.Warnings, "Last model was evaluated on its training set (corpus too small to split)")
		}
	}

	switch {
	case len(health.Issues) > 0:
		health.Overall = "unhealthy"
	case len(health.Warnings) > 0:
		health.Overall = "degraded"
	default:
		health.Overall = "healthy"
	}
	return health
}

func printStatusJSON(status *SystemStatus) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

func printStatusDashboard(status *SystemStatus) {
	fmt.Printf("🔍 spamlens Status\n")
	fmt.Printf("═══════════════════════════════════════\n\n")

	fmt.Printf("💾 Store\n")
	fmt.Printf("   Backend:     %s\n", status.Store.Backend)
	fmt.Printf("   Location:    %s\n", status.Store.Location)
	if status.Store.Connected {
		fmt.Printf("   Connection:  ✅ OK\n")
	} else {
		fmt.Printf("   Connection:  ❌ %s\n", status.Store.Error)
	}
	if len(status.Store.Generations) > 0 {
		fmt.Printf("   Generations: %s\n", strings.Join(status.Store.Generations, ", "))
	}

	fmt.Printf("\n🧠 Model\n")
	if status.Model.Loaded {
		m := status.Model
		fmt.Printf("   Run:         %s\n", m.RunID)
		fmt.Printf("   Trained:     %s\n", m.CreatedAt.Local().Format(time.RFC1123))
		fmt.Printf("   Profile:     %s\n", m.Profile)
		fmt.Printf("   Vocabulary:  %d terms (stop words %s, n-grams %d-%d)\n",
			m.VocabularySize, m.StopWords, m.NgramRange[0], m.NgramRange[1])
		fmt.Printf("   Examples:    %d spam, %d normal\n", m.SpamExamples, m.NormalExamples)
	} else if status.Model.Error != "" {
		fmt.Printf("   ❌ %s\n", status.Model.Error)
	} else {
		fmt.Printf("   ⚠️  Not trained\n")
	}

	fmt.Printf("\n📜 History\n")
	switch {
	case !status.History.Enabled:
		fmt.Printf("   Disabled\n")
	case status.History.Error != "":
		fmt.Printf("   ❌ %s\n", status.History.Error)
	case status.History.LastRun == nil:
		fmt.Printf("   No runs recorded\n")
	default:
		run := status.History.LastRun
		fmt.Printf("   Last run:    %s (%s, %s)\n", run.StartedAt.Local().Format(time.RFC1123), run.Status, run.Stage)
		if run.Status == runlog.StatusSucceeded {
			fmt.Printf("   Accuracy:    %.2f%%\n", run.Accuracy*100)
		}
	}

	fmt.Printf("\n🔧 Dependencies\n")
	t := status.Dependencies.Tesseract
	icon := "❌"
	if t.Available {
		icon = "✅"
	}
	fmt.Printf("   Tesseract:   %s %s", icon, t.Status)
	if t.Version != "" {
		fmt.Printf(" (%s)", t.Version)
	}
	fmt.Println()

	fmt.Printf("\n🏥 Health: %s\n", strings.ToUpper(status.Health.Overall))
	for _, issue := range status.Health.Issues {
		fmt.Printf("   ❌ %s\n", issue)
	}
	for _, warning := range status.Health.Warnings {
		fmt.Printf("   ⚠️  %s\n", warning)
	}
	for _, rec := range status.Health.Recommendations {
		fmt.Printf("   💡 %s\n", rec)
	}
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Refresh the status every 5 seconds")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")

	rootCmd.AddCommand(statusCmd)
}
