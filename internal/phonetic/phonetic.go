// Package phonetic turns ticket and counter labels into text a speech
// synthesizer pronounces letter by letter, and builds the spoken call
// sentences around them.
//
// Encoding is pure and deterministic: the same input always yields the same
// output, and there is no shared state.
package phonetic

import (
	"strings"
	"unicode"
)

// Encoder renders labels and announcement sentences for one language.
type Encoder interface {
	// Encode spells out label token by token.
	Encode(label string) string

	// Message returns the full sentence calling ticket to counter. urgent
	// selects the recall wording.
	Message(ticket, counter string, urgent bool) string
}

// For returns the encoder for a BCP-47 locale. Urdu locales get [Urdu]; every
// other language gets [Plain].
func For(locale string) Encoder {
	lang, _, _ := strings.Cut(strings.ToLower(strings.ReplaceAll(locale, "_", "-")), "-")
	if lang == "ur" || lang == "urdu" {
		return Urdu{}
	}
	return Plain{}
}

// spell walks label and emits one token per rune. Dashes and spaces become a
// double separator so synthesizers pause between groups.
func spell(label string, token func(r rune) (string, bool)) string {
	var b strings.Builder
	for _, r := range label {
		switch {
		case r == '-' || r == ' ':
			b.WriteString("  ")
		default:
			if t, ok := token(r); ok {
				b.WriteString(t)
			} else {
				b.WriteRune(r)
			}
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

// Plain spaces out labels without transliteration, for languages whose
// synthesizers read Latin letters and digits natively.
type Plain struct{}

// Encode implements [Encoder].
func (Plain) Encode(label string) string {
	return spell(label, func(r rune) (string, bool) {
		return string(unicode.ToUpper(r)), true
	})
}

// Message implements [Encoder].
func (p Plain) Message(ticket, counter string, urgent bool) string {
	t, c := p.Encode(ticket), p.Encode(counter)
	if urgent {
		return "Ticket number " + t + ", please proceed immediately to counter number " + c + ". Thank you."
	}
	return "Ticket number " + t + ", please proceed to counter number " + c + ". Thank you."
}
