// Package textnorm canonicalizes raw message text before vectorization.
package textnorm

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kljensen/snowball/english"
)

// ErrInvalidEncoding is returned for input that is not valid UTF-8.
var ErrInvalidEncoding = errors.New("text is not valid UTF-8")

// Profile selects how much canonicalization is applied on top of the basic rules.
type Profile string

const (
	// ProfileBasic lower-cases, strips non-letters and collapses whitespace.
	ProfileBasic Profile = "basic"
	// ProfileStemmed applies ProfileBasic, then removes English stop words and stems
	// every remaining token.
	ProfileStemmed Profile = "stemmed"
)

// ParseProfile maps a configuration value onto a Profile. An empty value means basic.
func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProfileBasic:
		return ProfileBasic, nil
	case ProfileStemmed:
		return ProfileStemmed, nil
	default:
		return "", fmt.Errorf("unknown normalization profile %q (want basic or stemmed)", s)
	}
}

// Apply normalizes raw according to the profile.
func (p Profile) Apply(raw string) (string, error) {
	text, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if p != ProfileStemmed {
		return text, nil
	}
	return stemTokens(text), nil
}

// Normalize lower-cases raw, replaces every character that is not an ASCII letter or
// whitespace with a space, collapses whitespace runs and trims the result.
// The function is pure and idempotent.
func Normalize(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", ErrInvalidEncoding
	}

	var b strings.Builder
	b.Grow(len(raw))
	pendingSpace := false
	for _, r := range raw {
		switch {
		case r >= 'A' && r <= 'Z':
			r += 'a' - 'A'
		case r >= 'a' && r <= 'z':
		default:
			// digits, punctuation, non-ASCII letters and whitespace all separate tokens
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String(), nil
}

func stemTokens(text string) string {
	words := strings.Fields(text)
	out := words[:0]
	for _, w := range words {
		if IsStopWord(w) {
			continue
		}
		out = append(out, english.Stem(w, false))
	}
	return strings.Join(out, " ")
}
