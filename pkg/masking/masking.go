// Package masking scrubs credential material from error details and log
// context before they are persisted or shipped to alert channels.
package masking

import (
	"log/slog"
	"regexp"
)

// Pattern pairs a regex with its replacement text.
type Pattern struct {
	Name        string
	Pattern     string
	Replacement string
}

// compiledPattern holds a pre-compiled regex with its replacement.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns cover the credential shapes that reach the reporter:
// inline key/value secrets, bearer headers, and provider key formats.
var builtinPatterns = []Pattern{
	{
		Name:        "api_key",
		Pattern:     `(?i)(api[_-]?key|apikey)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-]{16,}["']?`,
		Replacement: `$1=__MASKED__`,
	},
	{
		Name:        "password",
		Pattern:     `(?i)(password|passwd|pwd)["']?\s*[:=]\s*["']?[^"'\s]{6,}["']?`,
		Replacement: `$1=__MASKED__`,
	},
	{
		Name:        "token",
		Pattern:     `(?i)(token|secret)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-\.]{16,}["']?`,
		Replacement: `$1=__MASKED__`,
	},
	{
		Name:        "bearer",
		Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{16,}`,
		Replacement: `Bearer __MASKED__`,
	},
	{
		Name:        "aws_access_key",
		Pattern:     `AKIA[0-9A-Z]{16}`,
		Replacement: `__MASKED_AWS_KEY__`,
	},
	{
		Name:        "openai_key",
		Pattern:     `sk-[A-Za-z0-9_\-]{20,}`,
		Replacement: `__MASKED_KEY__`,
	},
}

// Masker applies masking patterns to strings and nested detail maps.
// Created once at startup; safe for concurrent use.
type Masker struct {
	patterns []*compiledPattern
}

// NewMasker compiles the built-in patterns plus any custom ones.
// Invalid patterns are logged and skipped.
func NewMasker(custom ...Pattern) *Masker {
	m := &Masker{}
	for _, p := range append(append([]Pattern{}, builtinPatterns...), custom...) {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		m.patterns = append(m.patterns, &compiledPattern{
			name:        p.Name,
			regex:       compiled,
			replacement: p.Replacement,
		})
	}
	return m
}

// MaskString applies every pattern to s. Nil-safe: a nil Masker returns
// the input unchanged.
func (m *Masker) MaskString(s string) string {
	if m == nil || s == "" {
		return s
	}
	for _, p := range m.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// MaskMap returns a copy of data with every string value masked,
// descending into nested maps and slices. The input is not modified.
func (m *Masker) MaskMap(data map[string]any) map[string]any {
	if m == nil || data == nil {
		return data
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = m.maskValue(v)
	}
	return out
}

func (m *Masker) maskValue(v any) any {
	switch val := v.(type) {
	case string:
		return m.MaskString(val)
	case map[string]any:
		return m.MaskMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = m.maskValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = m.MaskString(item)
		}
		return out
	default:
		return v
	}
}
