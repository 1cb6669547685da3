package auth

import (
	"log/slog"
	"strings"
)

// Redacted replaces secret material in log and error text.
const Redacted = "[REDACTED]"

// Secret wraps a credential so it cannot leak through formatting,
// logging or JSON encoding. Only Reveal returns the plaintext.
type Secret string

// String satisfies fmt.Stringer with the redaction marker.
func (Secret) String() string { return Redacted }

// GoString keeps %#v output redacted too.
func (Secret) GoString() string { return "auth.Secret(" + Redacted + ")" }

// MarshalJSON encodes as the redaction marker.
func (Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + Redacted + `"`), nil }

// LogValue keeps slog output redacted.
func (Secret) LogValue() slog.Value { return slog.StringValue(Redacted) }

// Reveal returns the plaintext. Call sites should be few.
func (s Secret) Reveal() string { return string(s) }

// Scrub removes every occurrence of the secret from a message, for
// error text that may echo request material back to the caller.
func Scrub(message string, secrets ...Secret) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		message = strings.ReplaceAll(message, string(s), Redacted)
	}
	return message
}
