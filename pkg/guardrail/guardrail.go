// Package guardrail rejects SQL that could mutate the database.
//
// The check is lexical: a fixed denylist of statement keywords is matched as
// whole words against the upper-cased text, comments and string literals
// included. It is not a parser and can over- or under-block.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"
)

// DangerousPatterns is the ordered keyword denylist.
var DangerousPatterns = []string{
	`\bDELETE\b`,
	`\bUPDATE\b`,
	`\bINSERT\b`,
	`\bDROP\b`,
	`\bALTER\b`,
	`\bTRUNCATE\b`,
	`\bCREATE\b`,
	`\bGRANT\b`,
}

var compiled = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(DangerousPatterns))
	for i, p := range DangerousPatterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}()

// Check classifies sql. It returns true when no pattern matched, otherwise
// false with one reason per matched pattern in denylist order.
func Check(sql string) (bool, []string) {
	upper := strings.ToUpper(sql)
	var reasons []string
	for i, re := range compiled {
		if re.MatchString(upper) {
			reasons = append(reasons, fmt.Sprintf("Matched dangerous pattern: %s", DangerousPatterns[i]))
		}
	}
	return len(reasons) == 0, reasons
}

// Flags summarizes one guardrail pass over a candidate set.
type Flags struct {
	Blocked bool     `json:"blocked"`
	Reasons []string `json:"reasons"`
}

// Filter keeps the safe candidates. When every candidate is unsafe the
// original set is returned unchanged, with Blocked still set and every reason
// recorded, so the run proceeds and the failure surfaces on review.
func Filter(candidates []string) ([]string, Flags) {
	flags := Flags{Reasons: []string{}}
	kept := make([]string, 0, len(candidates))
	for _, sql := range candidates {
		safe, reasons := Check(sql)
		if safe {
			kept = append(kept, sql)
			continue
		}
		flags.Blocked = true
		flags.Reasons = append(flags.Reasons, reasons...)
	}
	if len(kept) == 0 && len(candidates) > 0 {
		kept = append(kept, candidates...)
	}
	return kept, flags
}

// AllUnsafe reports whether every candidate fails Check. An empty set counts
// as blocked: nothing executable was produced.
func AllUnsafe(candidates []string) bool {
	for _, sql := range candidates {
		if safe, _ := Check(sql); safe {
			return false
		}
	}
	return true
}
