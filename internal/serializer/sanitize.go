package serializer

import "strings"

// Redacted replaces the value of any key that looks like a credential.
const Redacted = "*removed*"

// DefaultSensitiveKeys are matched case-insensitively as substrings of map keys.
var DefaultSensitiveKeys = []string{"password"}

// Sanitizer normalizes user-supplied maps and redacts credential-looking keys.
type Sanitizer struct {
	normalizer Normalizer
	keys       []string
}

// NewSanitizer returns a Sanitizer redacting DefaultSensitiveKeys plus extra.
func NewSanitizer(extra ...string) *Sanitizer {
	keys := make([]string, 0, len(DefaultSensitiveKeys)+len(extra))
	for _, k := range append(append([]string{}, DefaultSensitiveKeys...), extra...) {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keys = append(keys, k)
		}
	}
	return &Sanitizer{normalizer: defaultNormalizer, keys: keys}
}

var defaultSanitizer = NewSanitizer()

// Sanitize runs the default sanitizer over m.
func Sanitize(m map[string]any) map[string]any {
	return defaultSanitizer.Sanitize(m)
}

// Sanitize returns a normalized copy of m with sensitive values redacted at
// every nesting level. A nil map stays nil.
func (s *Sanitizer) Sanitize(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	normalized, _ := s.normalizer.Normalize(m).(map[string]any)
	s.redact(normalized)
	return normalized
}

// SanitizeValue is Sanitize for values that are not known to be maps.
func (s *Sanitizer) SanitizeValue(v any) any {
	out := s.normalizer.Normalize(v)
	s.redact(out)
	return out
}

func (s *Sanitizer) redact(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if s.sensitive(k) {
				t[k] = Redacted
				continue
			}
			s.redact(child)
		}
	case []any:
		for _, child := range t {
			s.redact(child)
		}
	}
}

func (s *Sanitizer) sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, k := range s.keys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}
