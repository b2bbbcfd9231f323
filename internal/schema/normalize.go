// Package schema maps inspection areas and field kinds onto the columns of a
// table whose header row is its schema. The header row is read fresh on every
// resolution; nothing here caches it.
package schema

import (
	"regexp"
	"strings"

	"github.com/vbonduro/checkin/internal/domain"
)

// qualified matches labels like PHOTO[BED] where the bracketed part names the
// area. BED[] has an empty group and does not match.
var qualified = regexp.MustCompile(`^[A-Z_]+(?:\[(.+?)\])?$`)

// Normalize canonicalizes a raw area label:
//
//	"curtain "   -> CURTAIN
//	"PHOTO[BED]" -> BED
//	"BED[]"      -> BED
//	"bed room"   -> BED_ROOM
//	""           -> GEN
//
// The result only contains A-Z and single inner underscores, so
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) domain.Area {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if m := qualified.FindStringSubmatch(s); m != nil {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			s = inner
		}
	}
	s = strings.TrimSuffix(s, "[]")

	out := canonicalize(s)
	if out == "" {
		return domain.GeneralArea
	}
	return domain.Area(out)
}

// canonicalize keeps A-Z and turns every run of anything else (whitespace,
// underscores, punctuation) into one underscore, dropping leading and
// trailing separators.
func canonicalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	sep := false
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}
