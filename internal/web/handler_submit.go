package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vbonduro/checkin/internal/domain"
	"github.com/vbonduro/checkin/internal/service"
)

// allowedImageTypes is the set of MIME types recognised when a file arrives
// without one. net/http.DetectContentType handles JPEG, PNG, and GIF via
// magic-byte sniffing; WebP is detected separately.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// allowedImageMIME returns the detected MIME type and true if the data is a
// recognised image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

type submitRequest struct {
	Fields     map[string]any            `json:"fields"`
	MetaByArea map[string]submitAreaMeta `json:"metaByArea"`
	Files      []submitFile              `json:"files"`
}

type submitAreaMeta struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type submitFile struct {
	Area   string `json:"area"`
	Mime   string `json:"mime"`
	Name   string `json:"name"`
	Base64 string `json:"base64"`
}

type submitResponse struct {
	OK           bool          `json:"ok"`
	RoomID       string        `json:"roomId"`
	WroteAreas   []domain.Area `json:"wroteAreas"`
	PDFURL       string        `json:"pdfUrl"`
	SignatureURL string        `json:"signatureUrl"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		s.writeJSON(w, http.StatusUnsupportedMediaType, errorResponse{Error: "Use JSON"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var req submitRequest
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	// The body must hold exactly one JSON value.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	sub, err := req.toSubmission(r.URL.Query().Get("tenantSignature"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	sub.ReceivedAt = time.Now()

	res, err := s.service.Submit(r.Context(), sub)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSubmission) {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Error("submission failed", "room_id", sub.Fields.RoomID, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	wrote := res.WroteAreas
	if wrote == nil {
		wrote = []domain.Area{}
	}
	s.writeJSON(w, http.StatusOK, submitResponse{
		OK:           res.OK,
		RoomID:       res.RoomID,
		WroteAreas:   wrote,
		PDFURL:       res.PDFURL,
		SignatureURL: res.SignatureURL,
	})
}

// toSubmission converts the wire payload, decoding every file. sigParam is
// used when fields carry no tenantSignature.
func (req submitRequest) toSubmission(sigParam string) (domain.Submission, error) {
	sub := domain.Submission{
		Fields: domain.Fields{
			Building:        fieldString(req.Fields["building"]),
			Floor:           fieldString(req.Fields["floor"]),
			RoomID:          fieldString(req.Fields["roomId"]),
			Inspector:       fieldString(req.Fields["inspector"]),
			GlobalNotes:     fieldString(req.Fields["globalNotes"]),
			TenantSignature: fieldString(req.Fields["tenantSignature"]),
		},
		MetaByArea: make(map[string]domain.AreaMeta, len(req.MetaByArea)),
	}
	if sub.Fields.TenantSignature == "" {
		sub.Fields.TenantSignature = sigParam
	}
	for area, m := range req.MetaByArea {
		sub.MetaByArea[area] = domain.AreaMeta{Status: m.Status, Note: m.Note}
	}

	for i, f := range req.Files {
		data, err := service.DecodeBase64(f.Base64)
		if err != nil {
			return domain.Submission{}, fmt.Errorf("files[%d].base64 is not valid base64", i)
		}
		mimeType := f.Mime
		if mimeType == "" {
			mimeType = "application/octet-stream"
			if sniffed, ok := allowedImageMIME(data); ok {
				mimeType = sniffed
			}
		}
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("upload_%d.bin", i)
		}
		sub.UploadedFiles = append(sub.UploadedFiles, domain.FileUpload{
			RawArea:  f.Area,
			MimeType: mimeType,
			FileName: name,
			Content:  data,
		})
	}
	return sub, nil
}

// fieldString renders a JSON scalar the way a form field would hold it.
func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}
