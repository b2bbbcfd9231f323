package domain

import "time"

// Area is a canonical inspection area identifier drawn from [A-Z_]+ such as
// BED or CHAIR_TABLE. Obtain one with schema.Normalize; never build it by hand.
type Area string

// GeneralArea is the fallback for blank or unclassified area labels.
const GeneralArea Area = "GEN"

// SignatureArea is the area under which uploaded signature images arrive when
// no inline signature is submitted.
const SignatureArea Area = "SIGNATURE"

// FieldKind is one of the three data slots recorded per area.
type FieldKind string

const (
	KindStatus FieldKind = "STATUS"
	KindNotes  FieldKind = "NOTES"
	KindPhotos FieldKind = "PHOTOS"
)

// FieldKinds lists every kind in column creation order.
var FieldKinds = []FieldKind{KindStatus, KindNotes, KindPhotos}

// Valid reports whether k is one of the closed set of field kinds.
func (k FieldKind) Valid() bool {
	switch k {
	case KindStatus, KindNotes, KindPhotos:
		return true
	}
	return false
}

// DefaultStatus is recorded for any area that produced metadata or files
// without an explicit status.
const DefaultStatus = "ok"

// AreaMeta is the per-area metadata a submitter sends.
type AreaMeta struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// AreaRecord is the row-ready payload for one area of one submission.
type AreaRecord struct {
	Status    string
	Notes     string
	PhotoURLs []string
}

// FileUpload is one binary attachment of a submission.
type FileUpload struct {
	RawArea  string
	MimeType string
	FileName string
	Content  []byte
}

// Fields are the fixed, non-area values of a submission.
type Fields struct {
	Building        string
	Floor           string
	RoomID          string
	Inspector       string
	GlobalNotes     string
	TenantSignature string
}

// Submission is one decoded inspection request. MetaByArea keys are raw
// labels as sent; they are normalized during aggregation.
type Submission struct {
	Fields        Fields
	MetaByArea    map[string]AreaMeta
	UploadedFiles []FileUpload
	ReceivedAt    time.Time
}
