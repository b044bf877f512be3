// Package textnorm canonicalizes title and artist strings so that values
// from different sources can be compared with plain equality or substring
// checks. Normalized strings are never displayed.
package textnorm

import (
	"strings"
)

// quoteFolder maps the smart punctuation the sources actually emit to
// plain ASCII. Accented letters are left alone; they are meaningful for
// matching.
var quoteFolder = strings.NewReplacer(
	"’", "'", // right single quote
	"‘", "'", // left single quote
	"‚", "'", // low single quote
	"ʼ", "'", // modifier letter apostrophe
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"„", `"`, // low double quote
	"–", "-", // en dash
	"—", "-", // em dash
)

// SearchTerm folds smart quotes and dashes to ASCII and lower-cases the
// result.
func SearchTerm(text string) string {
	return strings.ToLower(quoteFolder.Replace(text))
}

// Contains reports whether needle occurs in haystack after both are
// normalized.
func Contains(haystack, needle string) bool {
	return strings.Contains(SearchTerm(haystack), SearchTerm(needle))
}

// Equal reports whether two strings are the same after normalization.
func Equal(a, b string) bool {
	return SearchTerm(a) == SearchTerm(b)
}
