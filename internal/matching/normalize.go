package matching

import (
	"strings"

	"golang.org/x/text/width"
)

// dashVariants are stripped so punctuation drift in free-text descriptions
// does not defeat comparison ("A-123" vs "A123", "Ａ－社" vs "A社").
var dashVariants = strings.NewReplacer(
	"-", "",
	"‐", "", // hyphen
	"‑", "", // non-breaking hyphen
	"–", "", // en dash
	"—", "", // em dash
	"―", "", // horizontal bar
	"−", "", // minus sign
	"－", "", // fullwidth hyphen-minus
	"ー", "", // katakana prolonged sound mark, commonly typed as a dash
)

// Normalize converts display text into a canonical comparison key. It is a
// total function: unmappable runes pass through unchanged and the empty
// string yields an empty key. The transformation order is fixed so the key
// is reproducible:
//
//  1. fullwidth alphanumerics to halfwidth, halfwidth katakana to fullwidth
//  2. ideographic space to ASCII space
//  3. strip hyphen/dash variants
//  4. collapse whitespace runs and trim
//  5. lower-case
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	s := width.Fold.String(text)
	s = strings.ReplaceAll(s, "　", " ")
	s = dashVariants.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// TextsMatch reports whether two strings compare equal after normalization.
func TextsMatch(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
