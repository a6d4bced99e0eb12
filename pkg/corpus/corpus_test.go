package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spamlens/spamlens/pkg/imagetext"
	"github.com/spamlens/spamlens/pkg/learning"
	"github.com/spamlens/spamlens/pkg/textnorm"
)

type stubImages map[string]string

func (s stubImages) ExtractFile(ctx context.Context, path string) (string, error) {
	text, ok := s[filepath.Base(path)]
	if !ok {
		return "", &imagetext.ExtractionError{Kind: imagetext.KindInsufficientText, Err: imagetext.ErrInsufficientText}
	}
	return text, nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestAssembleMergesTextAndImages(t *testing.T) {
	spamDir, normalDir := t.TempDir(), t.TempDir()
	writeFile(t, spamDir, "1.txt", "FREE money NOW!!! Click here.")
	writeFile(t, spamDir, "offer.png", "binary")
	writeFile(t, spamDir, "blank.jpg", "binary")
	writeFile(t, spamDir, "notes.md", "ignored")
	writeFile(t, normalDir, "a.txt", "Meeting notes attached for review.")
	writeFile(t, normalDir, "b.TXT", "Lunch at 12:30?")

	images := stubImages{"offer.png": "You WON a $1000 gift card"}
	c, err := Assemble(context.Background(), textnorm.ProfileBasic, nil,
		DirSource{Dir: spamDir, Label: learning.LabelSpam, Images: images},
		DirSource{Dir: normalDir, Label: learning.LabelNormal, Images: images},
	)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if got := c.Count(learning.LabelSpam); got != 2 {
		t.Errorf("spam examples = %d, want 2", got)
	}
	if got := c.Count(learning.LabelNormal); got != 2 {
		t.Errorf("normal examples = %d, want 2", got)
	}
	if got := c.CountOrigin(learning.LabelSpam, OriginOCR); got != 1 {
		t.Errorf("ocr spam examples = %d, want 1", got)
	}
	if len(c.Skipped) != 1 || filepath.Base(c.Skipped[0].Source) != "blank.jpg" {
		t.Fatalf("expected blank.jpg to be skipped, got %+v", c.Skipped)
	}
	if !errors.Is(c.Skipped[0].Err, imagetext.ErrInsufficientText) {
		t.Errorf("unexpected skip reason: %v", c.Skipped[0].Err)
	}

	texts := map[string]bool{}
	for _, txt := range c.Texts() {
		texts[txt] = true
	}
	for _, want := range []string{"free money now click here", "you won a gift card", "lunch at"} {
		if !texts[want] {
			t.Errorf("missing normalized text %q in %v", want, c.Texts())
		}
	}
	if len(c.Labels()) != len(c.Examples) {
		t.Error("labels and examples out of step")
	}
}

func TestAssembleMissingDirectoryIsSkipped(t *testing.T) {
	c, err := Assemble(context.Background(), textnorm.ProfileBasic, nil,
		DirSource{Dir: filepath.Join(t.TempDir(), "missing"), Label: learning.LabelSpam})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(c.Examples) != 0 || len(c.Skipped) != 1 {
		t.Errorf("expected one skipped source, got %+v", c)
	}
}

func TestAssembleDropsInvalidUTF8Bytes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.txt", "cheap\xff pills")
	c, err := Assemble(context.Background(), textnorm.ProfileBasic, nil, DirSource{Dir: dir, Label: learning.LabelSpam})
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Examples) != 1 || c.Examples[0].Text != "cheap pills" {
		t.Errorf("unexpected examples %+v", c.Examples)
	}
}

func TestTSVSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "SMSSpamCollection", "ham\tGo until jurong point, crazy..\n"+
		"spam\tFree entry in 2 a wkly comp to win FA Cup final tkts\n"+
		"\n"+
		"bogus line without tab\n"+
		"eggs\tunknown label\n"+
		"ham\tOk lar... Joking wif u oni...\n")

	c, err := Assemble(context.Background(), textnorm.ProfileStemmed, nil,
		TSVSource{Path: filepath.Join(dir, "SMSSpamCollection")})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if c.Count(learning.LabelNormal) != 2 || c.Count(learning.LabelSpam) != 1 {
		t.Errorf("unexpected counts: normal=%d spam=%d", c.Count(learning.LabelNormal), c.Count(learning.LabelSpam))
	}
	if len(c.Skipped) != 2 {
		t.Errorf("expected 2 skipped lines, got %+v", c.Skipped)
	}
	// stemmed profile drops stop words and stems
	if c.Examples[1].Text != "free entri wkli comp win fa cup final tkts" {
		t.Errorf("unexpected stemmed text %q", c.Examples[1].Text)
	}
}

func TestTSVSourceMissingFile(t *testing.T) {
	_, err := Assemble(context.Background(), textnorm.ProfileBasic, nil, TSVSource{Path: "/nonexistent/sms.tsv"})
	if err == nil {
		t.Fatal("expected error for missing TSV file")
	}
}

func TestIsImageFile(t *testing.T) {
	for name, want := range map[string]bool{"a.PNG": true, "b.tiff": true, "c.txt": false, "d": false, "e.jpeg": true} {
		if IsImageFile(name) != want {
			t.Errorf("IsImageFile(%q) != %v", name, want)
		}
	}
}

func TestDirSourceReadsEmailFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "winner.eml", "From: Prize Desk <prize@example.com>\r\n"+
		"Subject: You are a WINNER\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"Content-Transfer-Encoding: quoted-printable\r\n"+
		"\r\n"+
		"Claim your prize =\r\ntoday\r\n")

	c, err := Assemble(context.Background(), textnorm.ProfileBasic, nil, DirSource{Dir: dir, Label: learning.LabelSpam})
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Examples) != 1 {
		t.Fatalf("expected one example, got %+v", c)
	}
	if got := c.Examples[0].Text; got != "you are a winner claim your prize today" {
		t.Errorf("unexpected text %q", got)
	}
}
