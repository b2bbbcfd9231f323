package schema

import (
	"strings"

	"github.com/vbonduro/checkin/internal/domain"
)

const separator = "_"

// kindAliases maps singular suffixes written by older sheet versions to the
// kind they mean.
var kindAliases = map[string]domain.FieldKind{
	"NOTE":  domain.KindNotes,
	"PHOTO": domain.KindPhotos,
}

// DecodeHeader recovers the (area, kind) pair a header encodes. It splits on
// the last underscore, so CHAIR_TABLE_Photo decodes to (CHAIR_TABLE, PHOTOS).
// A header without an underscore yields an empty kind. The kind is not
// validated; an unknown suffix simply never equals a wanted kind.
func DecodeHeader(header string) (domain.Area, domain.FieldKind) {
	raw := strings.TrimSpace(header)
	i := strings.LastIndex(raw, separator)
	if i < 0 {
		return Normalize(raw), ""
	}
	return Normalize(raw[:i]), decodeKind(raw[i+1:])
}

func decodeKind(suffix string) domain.FieldKind {
	k := strings.ToUpper(strings.TrimSpace(suffix))
	if alias, ok := kindAliases[k]; ok {
		return alias
	}
	return domain.FieldKind(k)
}

// EncodeHeader returns the canonical header for (area, kind), e.g. BED_Photos.
func EncodeHeader(area domain.Area, kind domain.FieldKind) string {
	k := string(kind)
	if k == "" {
		return string(area) + separator
	}
	return string(area) + separator + k[:1] + strings.ToLower(k[1:])
}

// FindColumn returns the 1-based index of the first header decoding to
// (area, kind), or 0 when there is none.
func FindColumn(headers []string, area domain.Area, kind domain.FieldKind) int {
	for i, h := range headers {
		a, k := DecodeHeader(h)
		if a == area && k == kind {
			return i + 1
		}
	}
	return 0
}
