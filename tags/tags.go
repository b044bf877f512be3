package tags

import (
	"strings"
)

// Value scans free-form "prefix:value" tags for the requested prefix and
// returns the text after the first colon of the first match. The prefix
// comparison is case-insensitive. The second return is false when the
// collection is empty or no tag matches; a bare tag without a colon never
// matches.
func Value(tagList []string, prefix string) (string, bool) {
	if len(tagList) == 0 {
		return "", false
	}

	want := strings.ToLower(prefix) + ":"
	for _, tag := range tagList {
		if len(tag) < len(want) {
			continue
		}
		if strings.HasPrefix(strings.ToLower(tag), want) {
			return tag[len(want):], true
		}
	}
	return "", false
}

// NumericValue returns the tag value parsed as a positive integer. Tags
// whose value is not numeric are treated as absent rather than failing
// the whole record.
func NumericValue(tagList []string, prefix string) (int, bool) {
	raw, ok := Value(tagList, prefix)
	if !ok {
		return 0, false
	}

	n := 0
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}
