package email

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emersion/go-message"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantSubject string
		wantBody    string
		wantFrom    string
		attachments int
	}{
		{
			name: "plain",
			raw: "From: Alice <alice@example.com>\r\n" +
				"Subject: Lunch\r\n" +
				"\r\n" +
				"See you at noon.\r\n",
			wantSubject: "Lunch",
			wantBody:    "See you at noon.",
			wantFrom:    "alice@example.com",
		},
		{
			name: "base64 latin1",
			raw: "Subject: =?ISO-8859-1?Q?Caf=E9?=\r\n" +
				"Content-Type: text/plain; charset=iso-8859-1\r\n" +
				"Content-Transfer-Encoding: base64\r\n" +
				"\r\n" +
				"Y2Fm6SBvcGVu\r\n",
			wantSubject: "Café",
			wantBody:    "café open",
		},
		{
			name: "html only",
			raw: "Subject: Deal\r\n" +
				"Content-Type: text/html\r\n" +
				"\r\n" +
				"<html><head><style>p{}</style></head><body><p>Win &amp; save</p></body></html>\r\n",
			wantSubject: "Deal",
			wantBody:    "Win & save",
		},
		{
			name: "mixed with attachment",
			raw: "Subject: Invoice\r\n" +
				"MIME-Version: 1.0\r\n" +
				"Content-Type: multipart/mixed; boundary=xx\r\n" +
				"\r\n" +
				"--xx\r\n" +
				"Content-Type: text/plain\r\n" +
				"\r\n" +
				"Please find attached.\r\n" +
				"--xx\r\n" +
				"Content-Type: application/pdf\r\n" +
				"Content-Disposition: attachment; filename=invoice.pdf\r\n" +
				"\r\n" +
				"%PDF-1.4\r\n" +
				"--xx--\r\n",
			wantSubject: "Invoice",
			wantBody:    "Please find attached.",
			attachments: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(strings.NewReader(tt.raw))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if msg.Subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", msg.Subject, tt.wantSubject)
			}
			if strings.Join(strings.Fields(msg.Body), " ") != tt.wantBody {
				t.Errorf("body = %q, want %q", msg.Body, tt.wantBody)
			}
			if tt.wantFrom != "" && msg.From != tt.wantFrom {
				t.Errorf("from = %q, want %q", msg.From, tt.wantFrom)
			}
			if len(msg.Attachments) != tt.attachments {
				t.Errorf("attachments = %+v, want %d", msg.Attachments, tt.attachments)
			}
		})
	}
}

func TestParseAttachmentDetails(t *testing.T) {
	raw := "Content-Type: multipart/mixed; boundary=b\r\n\r\n" +
		"--b\r\nContent-Type: image/png\r\nContent-Disposition: attachment; filename=\"flyer.png\"\r\n\r\n12345\r\n--b--\r\n"
	msg, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("expected one attachment, got %+v", msg.Attachments)
	}
	a := msg.Attachments[0]
	if a.Filename != "flyer.png" || a.ContentType != "image/png" || a.Size != 5 {
		t.Errorf("unexpected attachment %+v", a)
	}
}

func TestParseParts(t *testing.T) {
	var h message.Header
	h.Add("Subject", "Act now")
	h.Add("Content-Transfer-Encoding", "quoted-printable")

	msg, err := ParseParts(h, strings.NewReader("limited =\r\noffer"))
	if err != nil {
		t.Fatal(err)
	}
	if got := msg.Text(); got != "Act now\nlimited offer" {
		t.Errorf("Text() = %q", got)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.eml")
	if err := os.WriteFile(path, []byte("Subject: hi\r\n\r\nbody\r\n"), 0644); err != nil {
		t.Fatal(err)
	}
	msg, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Text() != "hi\nbody" {
		t.Errorf("Text() = %q", msg.Text())
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.eml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{Message{Subject: "s", Body: "b"}, "s\nb"},
		{Message{Body: "b"}, "b"},
		{Message{Subject: "s"}, "s"},
		{Message{}, ""},
	}
	for _, tt := range tests {
		if got := tt.msg.Text(); got != tt.want {
			t.Errorf("Text(%+v) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}
