package lobby

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

const MaxNameLen = 32

// CleanName folds a display name to a canonical form: NFKC, full-width folded to
// half-width, whitespace runs collapsed to one space, control characters dropped, then
// truncated.
func CleanName(name string) string {
	name = width.Fold.String(norm.NFKC.String(name))
	name = strings.Join(strings.Fields(name), " ")
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if r := []rune(name); len(r) > MaxNameLen {
		name = strings.TrimSpace(string(r[:MaxNameLen]))
	}
	return name
}
