// Package email extracts the classifiable text of RFC 5322 messages: the
// decoded subject and the text parts of the body.
package email

import (
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Message is the text content of a parsed mail message.
type Message struct {
	From        string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Attachment represents an email attachment
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
}

// Text is the subject followed by the body, the form the classifier sees.
func (m *Message) Text() string {
	if m.Subject == "" {
		return m.Body
	}
	if m.Body == "" {
		return m.Subject
	}
	return m.Subject + "\n" + m.Body
}

// ParseFile parses an email from a file
func ParseFile(path string) (*Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse parses a complete message (headers and body) from r.
func Parse(r io.Reader) (*Message, error) {
	e, err := message.Read(r)
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("failed to parse email: %w", err)
	}
	return fromEntity(e)
}

// ParseParts builds a message from headers and a raw body received
// separately, as an MTA hands them to a milter.
func ParseParts(h message.Header, body io.Reader) (*Message, error) {
	e, err := message.New(h, body)
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("failed to parse email: %w", err)
	}
	return fromEntity(e)
}

// tolerable errors leave the entity readable with the raw bytes.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func fromEntity(e *message.Entity) (*Message, error) {
	mr := mail.NewReader(e)
	msg := &Message{}

	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	} else {
		msg.Subject = strings.TrimSpace(mr.Header.Get("Subject"))
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	} else {
		msg.From = mr.Header.Get("From")
	}

	var plain, htmlParts []string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if tolerable(err) {
				continue
			}
			// keep what was read before a malformed part
			if len(plain) > 0 || len(htmlParts) > 0 {
				break
			}
			return nil, fmt.Errorf("failed to parse body: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			if ct == "" {
				ct = "text/plain"
			}
			if !strings.HasPrefix(ct, "text/") {
				continue
			}
			data, err := io.ReadAll(part.Body)
			if err != nil && len(data) == 0 {
				continue
			}
			if ct == "text/html" {
				htmlParts = append(htmlParts, stripHTML(string(data)))
			} else {
				plain = append(plain, string(data))
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			size, _ := io.Copy(io.Discard, part.Body)
			msg.Attachments = append(msg.Attachments, Attachment{Filename: filename, ContentType: ct, Size: size})
		}
	}

	// html alternatives are only used when there is no plain text
	parts := plain
	if len(parts) == 0 {
		parts = htmlParts
	}
	msg.Body = strings.TrimSpace(strings.Join(parts, "\n"))
	return msg, nil
}

var (
	invisibleHTML = regexp.MustCompile(`(?is)<(script|style|head)\b.*?</(script|style|head)>`)
	htmlTag       = regexp.MustCompile(`(?s)<[^>]*>`)
)

// stripHTML keeps the visible text of an HTML part.
func stripHTML(s string) string {
	s = invisibleHTML.ReplaceAllString(s, " ")
	s = htmlTag.ReplaceAllString(s, " ")
	return html.UnescapeString(s)
}
