// Package fingerprint provides single-pass analysis of GraphQL operation text:
// normalization, stable hashing, truncation, operation metadata extraction,
// introspection detection, and depth analysis. It deliberately avoids a full
// AST parser so it can run on the hot path of every operation.
package fingerprint

import (
	"fmt"
	"regexp"
	"strings"
)

// Operation types.
const (
	OperationQuery        = "query"
	OperationMutation     = "mutation"
	OperationSubscription = "subscription"
)

// TruncationMarker is appended to operation text cut by Truncate.
const TruncationMarker = "... [truncated]"

// truncateBackscan is how far Truncate searches backward for a clean boundary.
const truncateBackscan = 50

// Fingerprint identifies one GraphQL operation by its normalized text.
type Fingerprint struct {
	Hash          string `json:"hash"`
	Query         string `json:"query"`
	OperationName string `json:"operationName,omitempty"`
	OperationType string `json:"operationType"`
}

// Analyze computes the full fingerprint of an operation. The stored query
// text is normalized and truncated to maxQuerySize; the hash is computed
// over the untruncated normalized text so truncation never changes identity.
func Analyze(query string, maxQuerySize int) Fingerprint {
	normalized := Normalize(query)
	return Fingerprint{
		Hash:          Hash(query),
		Query:         Truncate(normalized, maxQuerySize),
		OperationName: OperationName(query),
		OperationType: OperationType(query),
	}
}

var (
	commentRe    = regexp.MustCompile(`#[^\n\r]*`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	punctLeftRe  = regexp.MustCompile(`\s+([{}():,!])`)
	punctRightRe = regexp.MustCompile(`([{}():,!])\s+`)
)

// Normalize strips comments, collapses whitespace runs to a single space,
// removes whitespace adjacent to structural punctuation, and trims.
func Normalize(query string) string {
	s := commentRe.ReplaceAllString(query, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = punctLeftRe.ReplaceAllString(s, "$1")
	s = punctRightRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// Hash returns a stable 8-character hex fingerprint of the normalized query.
// Identical under whitespace-only edits; changes whenever any token changes.
func Hash(query string) string {
	normalized := Normalize(query)
	var h uint32 = 5381
	for _, c := range normalized {
		h = h*33 ^ uint32(c)
	}
	return fmt.Sprintf("%08x", h)
}

// Truncate cuts text to at most maxSize characters plus the truncation
// marker. The cut point is moved back to the last `}` or `,` within the
// final backscan window so the result ends at a token boundary; when no
// boundary is found the cut falls back to maxSize-50.
func Truncate(text string, maxSize int) string {
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}

	cut := text[:maxSize]
	boundary := strings.LastIndexAny(cut, "},")
	if boundary >= maxSize-truncateBackscan {
		cut = cut[:boundary+1]
	} else if maxSize > truncateBackscan {
		cut = cut[:maxSize-truncateBackscan]
	}

	return cut + TruncationMarker
}

var (
	operationNameRe = regexp.MustCompile(`\b(?:query|mutation|subscription)\s+([_A-Za-z][_0-9A-Za-z]*)`)
	operationTypeRe = regexp.MustCompile(`^\s*(query|mutation|subscription)\b`)
	introTypeRe     = regexp.MustCompile(`__type\s*[({]`)
)

// OperationName extracts the identifier following the operation keyword.
// Anonymous and shorthand operations yield an empty string.
func OperationName(query string) string {
	m := operationNameRe.FindStringSubmatch(commentRe.ReplaceAllString(query, ""))
	if m == nil {
		return ""
	}
	return m[1]
}

// OperationType extracts the leading operation keyword, defaulting to
// "query" for the shorthand `{ ... }` form.
func OperationType(query string) string {
	m := operationTypeRe.FindStringSubmatch(commentRe.ReplaceAllString(query, ""))
	if m == nil {
		return OperationQuery
	}
	return m[1]
}

// IsIntrospection reports whether the operation reads schema metadata.
// `__typename` is a normal client cache-hint field and does not count.
func IsIntrospection(query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(q, "__schema") {
		return true
	}
	if strings.Contains(q, "introspectionquery") {
		return true
	}
	return introTypeRe.MatchString(q)
}

var fieldRe = regexp.MustCompile(`[_A-Za-z][_0-9A-Za-z]*`)

// reserved keywords excluded from the field-count heuristic.
var fieldCountKeywords = map[string]struct{}{
	"query":        {},
	"mutation":     {},
	"subscription": {},
	"fragment":     {},
	"on":           {},
	"true":         {},
	"false":        {},
	"null":         {},
}

// CountFields approximately counts selected fields by matching identifiers
// outside argument lists. It is a heuristic, not an authoritative count.
func CountFields(query string) int {
	s := stripStrings(commentRe.ReplaceAllString(query, ""))

	// Drop argument lists so variable names and enum values are not counted.
	s = argListRe.ReplaceAllString(s, "")
	// Drop alias prefixes; the aliased field itself is still counted.
	s = aliasRe.ReplaceAllString(s, "")
	// Drop the operation name following the keyword.
	s = operationNameRe.ReplaceAllString(s, "")

	count := 0
	for _, ident := range fieldRe.FindAllString(s, -1) {
		if _, reserved := fieldCountKeywords[ident]; reserved {
			continue
		}
		count++
	}
	return count
}

var (
	argListRe = regexp.MustCompile(`\([^)]*\)`)
	aliasRe   = regexp.MustCompile(`[_A-Za-z][_0-9A-Za-z]*\s*:`)
)

// stripStrings replaces the contents of quoted string literals with nothing,
// keeping the surrounding quotes, so braces and field-like words inside
// literals cannot confuse the scanners.
func stripStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
				b.WriteByte('"')
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}
