package config

import (
	"encoding/json"
	"log/slog"
)

const redacted = "[REDACTED]"

// Secret holds a credential. Every formatting path except Reveal prints a
// placeholder.
type Secret string

func (s Secret) Reveal() string { return string(s) }

func (s Secret) Empty() bool { return s == "" }

func (s Secret) String() string {
	if s.Empty() {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string { return s.String() }

func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s Secret) MarshalYAML() (any, error) { return s.String(), nil }
