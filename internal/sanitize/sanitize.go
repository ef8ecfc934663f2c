// Package sanitize masks sensitive data in arbitrary nested payloads before
// they are emitted as observability records.
package sanitize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MaskToken replaces every masked value.
const MaskToken = "***"

// DepthExceededMarker replaces a subtree that is nested beyond the depth cap.
const DepthExceededMarker = "[truncated: max depth exceeded]"

// DefaultMaxDepth bounds recursion into nested payloads.
const DefaultMaxDepth = 10

// DefaultPatterns are the key patterns masked when the caller supplies none.
var DefaultPatterns = []string{
	"password",
	"secret",
	"token",
	"apikey",
	"api_key",
	"authorization",
	"credential",
	"private",
}

// Sanitize returns a masked mirror of value. Map keys matching any pattern
// (exact, substring, or trailing-wildcard prefix, all case-insensitive) have
// their values replaced with the mask token without descending further.
// String leaves that structurally resemble secrets are masked independently
// of their key. Subtrees below maxDepth are replaced wholesale with a
// truncation marker. maxDepth <= 0 falls back to DefaultMaxDepth.
func Sanitize(value any, patterns []string, maxDepth int) any {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if patterns == nil {
		patterns = DefaultPatterns
	}
	return sanitizeValue(value, patterns, maxDepth)
}

func sanitizeValue(value any, patterns []string, depthLeft int) any {
	if depthLeft <= 0 {
		return DepthExceededMarker
	}

	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if matchesPattern(key, patterns) {
				out[key] = MaskToken
				continue
			}
			out[key] = sanitizeValue(val, patterns, depthLeft-1)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item, patterns, depthLeft-1)
		}
		return out
	case string:
		if looksLikeSecret(v) {
			return MaskToken
		}
		return v
	default:
		return value
	}
}

// matchesPattern reports whether a map key matches any sensitive pattern.
func matchesPattern(key string, patterns []string) bool {
	lowerKey := strings.ToLower(key)
	for _, pattern := range patterns {
		lowerPattern := strings.ToLower(pattern)
		if prefix, ok := strings.CutSuffix(lowerPattern, "*"); ok {
			if strings.HasPrefix(lowerKey, prefix) {
				return true
			}
			continue
		}
		if lowerKey == lowerPattern || strings.Contains(lowerKey, lowerPattern) {
			return true
		}
	}
	return false
}

// minSecretLength is the shortest string the shape heuristics consider.
const minSecretLength = 20

var secretShapeRes = []*regexp.Regexp{
	// Three-part base64url token (JWT shape).
	regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`),
	// Bearer token header value.
	regexp.MustCompile(`^Bearer\s+\S+$`),
	// Basic auth header value.
	regexp.MustCompile(`^Basic\s+[A-Za-z0-9+/=]+$`),
	// Vendor-prefixed API key formats.
	regexp.MustCompile(`^(sk|pk)_(live|test)?_?[A-Za-z0-9]{16,}$`),
	regexp.MustCompile(`^gh[pousr]_[A-Za-z0-9]{20,}$`),
	regexp.MustCompile(`^xox[baprs]-[A-Za-z0-9-]+$`),
	// Cloud access-key id.
	regexp.MustCompile(`^AKIA[0-9A-Z]{16}$`),
}

// looksLikeSecret reports whether a string leaf structurally resembles a
// credential regardless of the key it is stored under.
func looksLikeSecret(s string) bool {
	if len(s) < minSecretLength {
		return false
	}
	for _, re := range secretShapeRes {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// SanitizeResponse size-gates a payload before masking it. Payloads whose
// serialized form exceeds maxSize are replaced entirely with a truncation
// marker carrying the observed and allowed sizes.
func SanitizeResponse(value any, patterns []string, maxSize int) any {
	data, err := json.Marshal(value)
	if err != nil {
		return ErrorMarker(fmt.Sprintf("failed to serialize payload: %v", err))
	}

	if maxSize > 0 && len(data) > maxSize {
		return map[string]any{
			"_truncated": true,
			"_size":      len(data),
			"_maxSize":   maxSize,
		}
	}

	return Sanitize(value, patterns, DefaultMaxDepth)
}

// ErrorMarker builds the structured marker returned instead of panicking
// when a payload cannot be processed.
func ErrorMarker(msg string) map[string]any {
	return map[string]any{"_error": msg}
}
