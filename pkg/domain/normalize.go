package domain

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Normalize returns the canonical key for a free-text symptom or identifier:
// lower-cased, trimmed, internal whitespace collapsed to single spaces and
// trailing punctuation removed. It never fails; empty input yields "".
func Normalize(text string) string {
	collapsed := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return strings.TrimRightFunc(collapsed, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// CanonicalSet normalizes values and drops empties and duplicates, keeping the
// first occurrence order.
func CanonicalSet(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		key := Normalize(v)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// SetKey returns an order-independent key for a canonical symptom set.
func SetKey(canonical []string) string {
	sorted := append([]string(nil), canonical...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x1f")
}

const maxSlugRunes = 40

// Slug derives a disease identifier from a display name. Punctuation is removed,
// spaces become underscores and the result is capped at 40 runes. A numeric
// suffix is appended when the slug is already taken.
func Slug(name string, taken func(string) bool) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	base := b.String()
	if runes := []rune(base); len(runes) > maxSlugRunes {
		base = string(runes[:maxSlugRunes])
	}
	if base == "" {
		base = "disease"
	}
	out := base
	for i := 1; taken != nil && taken(out); i++ {
		out = base + "_" + strconv.Itoa(i)
	}
	return out
}

// CompareIDs orders identifiers naturally so that "R2" sorts before "R10".
// Non-digit runs compare lexically, digit runs numerically.
func CompareIDs(a, b string) int {
	for a != "" && b != "" {
		ca, restA := nextChunk(a)
		cb, restB := nextChunk(b)
		if isDigits(ca) && isDigits(cb) {
			na, _ := strconv.ParseUint(ca, 10, 64)
			nb, _ := strconv.ParseUint(cb, 10, 64)
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		} else if ca != cb {
			return strings.Compare(ca, cb)
		}
		a, b = restA, restB
	}
	return strings.Compare(a, b)
}

func nextChunk(s string) (string, string) {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}
