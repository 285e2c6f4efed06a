package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

// Secret holds a venue credential or alert endpoint. Every printing and
// marshalling path redacts it; Reveal is the only way to read the value.
type Secret string

// UnmarshalYAML trims the whitespace that pasted keys tend to carry
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = Secret(strings.TrimSpace(raw))
	return nil
}

// Reveal returns the raw value for signing requests or dialing a webhook
func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) IsSet() bool {
	return s != ""
}

// Hint identifies which credential is loaded without exposing it: the last
// four characters of values long enough to keep the rest hidden.
func (s Secret) Hint() string {
	switch {
	case s == "":
		return ""
	case len(s) < 12:
		return "****"
	default:
		return "****" + string(s[len(s)-4:])
	}
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return `"` + s.String() + `"`
}

func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
