// Package language normalizes and compares the language codes exchanged
// between the detection engine, the translation engine and the configured
// target set.
package language

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Undetermined is the code a detector returns when it cannot decide.
const Undetermined = "und"

// Normalize parses a BCP 47 tag and reduces it to its base language
// ("en-US" becomes "en"). Undetermined input yields Undetermined.
func Normalize(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("language code is empty")
	}

	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("parse language %q: %w", code, err)
	}

	// Raw skips likely-subtag inference, which would turn "und" into "en".
	base, _, _ := tag.Raw()
	if base.String() == Undetermined {
		return Undetermined, nil
	}
	return base.String(), nil
}

// IsUndetermined reports whether code carries no usable language.
func IsUndetermined(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || strings.EqualFold(code, Undetermined) {
		return true
	}
	normalized, err := Normalize(code)
	if err != nil {
		return true
	}
	return normalized == Undetermined
}

// Same reports whether a and b name the same base language. Undetermined
// codes never match anything.
func Same(a, b string) bool {
	if IsUndetermined(a) || IsUndetermined(b) {
		return false
	}
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return na == nb
}

// DisplayName returns the English name for code, or code itself when unknown.
func DisplayName(code string) string {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return code
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return code
	}
	return name
}
