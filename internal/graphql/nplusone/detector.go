// Package nplusone detects N+1 resolver patterns within a single GraphQL
// operation by counting resolver invocations per parent type and field.
package nplusone

import (
	"fmt"
	"regexp"
	"sort"
)

// DefaultThreshold is the call count at which a field is reported.
const DefaultThreshold = 10

// Warning describes one suspected N+1 pattern.
type Warning struct {
	Field      string `json:"field"`
	ParentType string `json:"parentType"`
	Count      int    `json:"count"`
	Suggestion string `json:"suggestion"`
}

// tally tracks resolver calls for one parentType.fieldName key.
type tally struct {
	parentType string
	fieldName  string
	count      int
	parentIDs  map[string]struct{}
}

// Detector counts resolver calls for one operation. It is not safe for
// concurrent use; the execution coordinator confines each instance to one
// operation and discards it after Detect.
type Detector struct {
	calls map[string]*tally
}

// NewDetector creates a detector for a single operation.
func NewDetector() *Detector {
	return &Detector{calls: make(map[string]*tally)}
}

// RecordCall increments the call count for parentType.fieldName. A non-empty
// parentID is added to the key's distinct-parent set.
func (d *Detector) RecordCall(parentType, fieldName, parentID string) {
	key := parentType + "." + fieldName
	t, ok := d.calls[key]
	if !ok {
		t = &tally{parentType: parentType, fieldName: fieldName}
		d.calls[key] = t
	}
	t.count++
	if parentID != "" {
		if t.parentIDs == nil {
			t.parentIDs = make(map[string]struct{})
		}
		t.parentIDs[parentID] = struct{}{}
	}
}

// CallCount returns the recorded call count for parentType.fieldName.
func (d *Detector) CallCount(parentType, fieldName string) int {
	if t, ok := d.calls[parentType+"."+fieldName]; ok {
		return t.count
	}
	return 0
}

// Detect reports every field whose call count reached the threshold, sorted
// descending by count. A threshold <= 0 falls back to DefaultThreshold.
func (d *Detector) Detect(threshold int) []Warning {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var warnings []Warning
	for _, t := range d.calls {
		if t.count < threshold {
			continue
		}
		warnings = append(warnings, Warning{
			Field:      t.fieldName,
			ParentType: t.parentType,
			Count:      t.count,
			Suggestion: suggestionFor(t.fieldName, t.count),
		})
	}

	sort.Slice(warnings, func(i, j int) bool {
		return warnings[i].Count > warnings[j].Count
	})

	return warnings
}

var (
	relationFieldRe = regexp.MustCompile(`(s$|^(get|find)[A-Z_]|(List|All)$)`)
	computedFieldRe = regexp.MustCompile(`(^(is|has|can)[A-Z_]|(Count|Total)$|^(calculate|compute))`)
)

// suggestionFor picks remediation text by field-name shape: relation-like
// names suggest batched loading, computed-value names suggest caching.
func suggestionFor(fieldName string, count int) string {
	switch {
	case relationFieldRe.MatchString(fieldName):
		return fmt.Sprintf(
			"field %q resolved %d times; batch the underlying fetches with a dataloader keyed by parent id",
			fieldName, count)
	case computedFieldRe.MatchString(fieldName):
		return fmt.Sprintf(
			"field %q resolved %d times; cache the computed value or precompute it on the parent",
			fieldName, count)
	default:
		return fmt.Sprintf(
			"field %q resolved %d times; consider batching these resolver calls",
			fieldName, count)
	}
}
