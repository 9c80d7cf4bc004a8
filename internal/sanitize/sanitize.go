// Package sanitize cleans raw AI backend output before it is posted to chat.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// Braille patterns block, used by terminal spinners.
	spinnerRe = regexp.MustCompile(`[\x{2800}-\x{28FF}]`)
	// ANSI CSI / Fe escape sequences.
	ansiRe = regexp.MustCompile(`\x1B[@-_][0-?]*[ -/]*[@-~]`)
	// Three or more consecutive line breaks.
	blankRunRe = regexp.MustCompile(`(\r?\n){3,}`)
)

// space matches everything strings.TrimSpace removes, so a tag uncovered by
// the final trim has already been stripped.
const space = `[\s\v\x{85}\p{Z}]`

// Options selects the optional passes.
type Options struct {
	// PersonaName is the tag the backend prefixes its answers with ("NightshadeAI:").
	PersonaName string
	// StripPersonaTag removes PersonaName tags at line starts.
	StripPersonaTag bool
	// ASCIIOnly drops every rune outside printable ASCII (tabs and newlines kept).
	ASCIIOnly bool
}

// Sanitizer strips terminal noise from backend output. It is safe for
// concurrent use.
type Sanitizer struct {
	opts      Options
	personaRe *regexp.Regexp
}

// New builds a Sanitizer for the given options.
func New(opts Options) *Sanitizer {
	s := &Sanitizer{opts: opts}
	if opts.StripPersonaTag && strings.TrimSpace(opts.PersonaName) != "" {
		name := regexp.QuoteMeta(strings.TrimSpace(opts.PersonaName))
		s.personaRe = regexp.MustCompile(`(?im)^` + space + `*(?:` + name + `:` + space + `*)+`)
	}
	return s
}

// Clean returns the cleaned text. It never fails: every pass is a no-op on
// text it does not match. Invalid UTF-8 is dropped first, so
// Clean(Clean(x)) == Clean(x) for any input.
func (s *Sanitizer) Clean(text string) string {
	text = strings.ToValidUTF8(text, "")
	if text == "" {
		return ""
	}

	if s.opts.ASCIIOnly {
		text = asciiOnly(text)
	}

	text = spinnerRe.ReplaceAllString(text, "")

	// Removing one sequence can splice the bytes around it into a new one.
	for ansiRe.MatchString(text) {
		text = ansiRe.ReplaceAllString(text, "")
	}

	if s.personaRe != nil {
		text = s.personaRe.ReplaceAllString(text, "")
	}

	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func asciiOnly(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return r
		case r == 0x1B:
			// Keep ESC so escape sequences are still recognized and removed whole.
			return r
		case r < unicode.MaxASCII && unicode.IsPrint(r):
			return r
		default:
			return -1
		}
	}, text)
}
