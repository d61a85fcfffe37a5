// Package keys builds the Redis keys of the matched-count cache.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "wfs"

// Count is the key of one matched count: the model, its data generation and
// the rendered plan. The plan text is kept readable up to a bound and the
// hash suffix disambiguates.
func Count(model string, generation int64, plan string) string {
	planText := collapseASCIIWhitespace(plan)
	planSafe := sanitize(planText, true)

	const maxPlanTextLen = 160
	if len(planSafe) > maxPlanTextLen {
		planSafe = planSafe[:maxPlanTextLen]
	}

	sum := xxhash.Sum64String(planText)

	return fmt.Sprintf("%s:count:%s:g%d:plan=%s:f=%016x",
		prefix, sanitize(strings.TrimSpace(model), false), generation, planSafe, sum)
}

// Generation is the counter bumped whenever a model's rows change.
func Generation(model string) string {
	return prefix + ":gen:" + sanitize(strings.TrimSpace(model), false)
}

// sanitize maps s onto [A-Za-z0-9:_-] (plus '=' when allowEq), squeezing
// runs of '_' and '-'.
func sanitize(s string, allowEq bool) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || (allowEq && r == '='):
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
