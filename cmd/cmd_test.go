package cmd

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/spamlens/spamlens/pkg/config"
	"github.com/spamlens/spamlens/pkg/corpus"
	"github.com/spamlens/spamlens/pkg/learning"
)

func newTrainFlags() *cobra.Command {
	c := &cobra.Command{Use: "train"}
	c.Flags().StringVar(&trainSpamDir, "spam-dir", "", "")
	c.Flags().StringVar(&trainNormalDir, "normal-dir", "", "")
	c.Flags().StringVar(&trainTSV, "tsv", "", "")
	c.Flags().BoolVar(&trainNoImages, "no-images", false, "")
	return c
}

func TestTrainSources(t *testing.T) {
	cfg := config.DefaultConfig()

	tests := []struct {
		name  string
		flags map[string]string
		want  []corpus.Source
	}{
		{
			name:  "configured buckets",
			flags: map[string]string{"no-images": "true"},
			want: []corpus.Source{
				corpus.DirSource{Dir: "emails/spam", Label: learning.LabelSpam},
				corpus.DirSource{Dir: "emails/normal", Label: learning.LabelNormal},
			},
		},
		{
			name:  "tsv replaces buckets",
			flags: map[string]string{"no-images": "true", "tsv": "sms.tsv"},
			want:  []corpus.Source{corpus.TSVSource{Path: "sms.tsv"}},
		},
		{
			name:  "tsv plus explicit bucket",
			flags: map[string]string{"no-images": "true", "tsv": "sms.tsv", "spam-dir": "extra"},
			want: []corpus.Source{
				corpus.DirSource{Dir: "extra", Label: learning.LabelSpam},
				corpus.TSVSource{Path: "sms.tsv"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTrainFlags()
			for k, v := range tt.flags {
				if err := c.Flags().Set(k, v); err != nil {
					t.Fatal(err)
				}
			}
			got := trainSources(c, cfg, nil)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sources %+v, want %+v", len(got), got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("source %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLabelFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{filepath.Join("data", "spam", "1.txt"), "spam"},
		{filepath.Join("data", "ham", "2.txt"), "normal"},
		{filepath.Join("Normal", "sub", "3.txt"), "normal"},
		{filepath.Join("inbox", "4.txt"), ""},
	}
	for _, tt := range tests {
		l := labelFromPath(tt.path)
		got := ""
		if l != nil {
			got = l.String()
		}
		if got != tt.want {
			t.Errorf("labelFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestValidateConfigLogic(t *testing.T) {
	if w := validateConfigLogic(config.DefaultConfig()); len(w) != 0 {
		t.Errorf("defaults should not warn: %v", w)
	}

	cfg := config.DefaultConfig()
	cfg.Milter.RejectSpam = true
	cfg.Milter.RejectConfidence = 60
	cfg.Training.NormalDir = cfg.Training.SpamDir
	if w := validateConfigLogic(cfg); len(w) != 2 {
		t.Errorf("expected 2 warnings, got %v", w)
	}
}
