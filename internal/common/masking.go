package common

import (
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
)

const maskedValue = "***MASKED***"

// SensitivePattern pairs a value regex with the header/attribute keys whose
// values are always hidden.
type SensitivePattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Keys        []string
}

// DefaultSensitivePatterns covers the credentials a proxied request can carry.
var DefaultSensitivePatterns = []SensitivePattern{
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
		Replacement: "Bearer " + maskedValue,
		Keys:        []string{"authorization", "proxy-authorization"},
	},
	{
		Name:        "basic_auth",
		Regex:       regexp.MustCompile(`(?i)Basic\s+[A-Za-z0-9+/]+=*`),
		Replacement: "Basic " + maskedValue,
	},
	{
		Name:        "api_key",
		Regex:       regexp.MustCompile(`(?i)(api[_-]?key|apikey)=([^&\s]+)`),
		Replacement: "${1}=" + maskedValue,
		Keys:        []string{"x-api-key", "api_key", "apikey"},
	},
	{
		Name:        "token_param",
		Regex:       regexp.MustCompile(`(?i)((?:access_|auth_)?token)=([^&\s]+)`),
		Replacement: "${1}=" + maskedValue,
		Keys:        []string{"token", "access_token", "x-auth-token"},
	},
	{
		Name: "cookie",
		Keys: []string{"cookie", "set-cookie"},
	},
}

// Masker hides credentials in log output.
type Masker struct {
	patterns []SensitivePattern
	keys     map[string]struct{}
	enabled  atomic.Bool
}

// NewMasker creates a new masker with default patterns
func NewMasker() *Masker {
	return NewMaskerWithPatterns(DefaultSensitivePatterns)
}

// NewMaskerWithPatterns creates a new masker with custom patterns
func NewMaskerWithPatterns(patterns []SensitivePattern) *Masker {
	m := &Masker{patterns: patterns, keys: map[string]struct{}{}}
	for _, p := range patterns {
		for _, k := range p.Keys {
			m.keys[strings.ToLower(k)] = struct{}{}
		}
	}
	m.enabled.Store(true)
	return m
}

// SetEnabled enables or disables masking
func (m *Masker) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

// IsEnabled returns whether masking is enabled
func (m *Masker) IsEnabled() bool {
	return m.enabled.Load()
}

// IsSensitiveKey reports whether values stored under key are always masked.
func (m *Masker) IsSensitiveKey(key string) bool {
	_, ok := m.keys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskString masks sensitive information in a string
func (m *Masker) MaskString(input string) string {
	if !m.IsEnabled() {
		return input
	}
	out := input
	for _, p := range m.patterns {
		if p.Regex != nil {
			out = p.Regex.ReplaceAllString(out, p.Replacement)
		}
	}
	return out
}

// MaskHeaders flattens h into a sorted, loggable map with credentials hidden.
func (m *Masker) MaskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		val := strings.Join(h[name], ", ")
		if m.IsEnabled() && m.IsSensitiveKey(name) {
			val = maskedValue
		} else {
			val = m.MaskString(val)
		}
		out[name] = val
	}
	return out
}

var globalMasker = NewMasker()

// GetGlobalMasker returns the global masker instance
func GetGlobalMasker() *Masker {
	return globalMasker
}

// MaskSensitiveData masks sensitive data using the global masker
func MaskSensitiveData(input string) string {
	return globalMasker.MaskString(input)
}

// EnableMasking enables/disables global masking
func EnableMasking(enabled bool) {
	globalMasker.SetEnabled(enabled)
}

// IsMaskingEnabled returns whether global masking is enabled
func IsMaskingEnabled() bool {
	return globalMasker.IsEnabled()
}
