package fes

import "strings"

// LikePattern rewrites a PropertyIsLike pattern into a SQL LIKE pattern
// that uses '\' as escape character.
func LikePattern(pattern, wildCard, singleChar, escapeChar string) string {
	var sb strings.Builder
	sb.Grow(len(pattern) + 4)
	rs := []rune(pattern)
	wc, sc, ec := firstRune(wildCard), firstRune(singleChar), firstRune(escapeChar)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == ec && i+1 < len(rs):
			i++
			writeLiteral(&sb, rs[i])
		case r == wc:
			sb.WriteByte('%')
		case r == sc:
			sb.WriteByte('_')
		default:
			writeLiteral(&sb, r)
		}
	}
	return sb.String()
}

func writeLiteral(sb *strings.Builder, r rune) {
	if r == '%' || r == '_' || r == '\\' {
		sb.WriteByte('\\')
	}
	sb.WriteRune(r)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return -1
}
