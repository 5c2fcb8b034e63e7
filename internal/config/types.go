package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that unmarshals from "30s"/"5m" style
// strings in YAML and environment values. Negative durations are
// rejected at parse time so every configured timeout is usable as-is.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the plain time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret holds a credential (the GitHub token) that must never appear
// in logs or serialized config. Every formatting and marshaling path
// redacts it; only Value returns the real string.
type Secret string

func (s Secret) String() string {
	return s.redacted()
}

func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the raw secret. Call it only at the point of use.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s Secret) IsSet() bool {
	return s != ""
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.redacted())
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.redacted()), nil
}

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

func (s Secret) redacted() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}
