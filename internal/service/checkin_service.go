package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/checkin/internal/domain"
	"github.com/vbonduro/checkin/internal/folder"
	"github.com/vbonduro/checkin/internal/ingest"
	"github.com/vbonduro/checkin/internal/notify"
	"github.com/vbonduro/checkin/internal/render"
	"github.com/vbonduro/checkin/internal/schema"
	"github.com/vbonduro/checkin/internal/tabular"
)

// ErrInvalidSubmission is wrapped by every ValidationError.
var ErrInvalidSubmission = errors.New("invalid submission")

// ValidationError rejects a submission before anything is written.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Msg
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSubmission
}

const (
	signaturePrefix = "data:image/png;base64,"
	pdfNamePrefix   = "ตรวจห้อง_"

	StepSignature      = "signature"
	StepSignatureShare = "signature_share"
	StepUploadShare    = "upload_share"
	StepAreas          = "areas"
	StepRender         = "render"
	StepPDFUpload      = "pdf_upload"
	StepPDFShare       = "pdf_share"
	StepFixedColumns   = "fixed_columns"
	StepNotify         = "notify"
)

// destinationResolver picks the folder a room's uploads go to.
type destinationResolver interface {
	Resolve(ctx context.Context, roomID string) folder.Destination
	Default() string
}

// blobRepository is the subset of blobstore.Store the service requires.
type blobRepository interface {
	Save(ctx context.Context, container, name, mimeType string, data []byte) (string, error)
	SetPublicReadable(ctx context.Context, url string) (string, error)
	ContainerURL(container string) string
}

// rowWriter is the subset of ingest.Writer the service requires.
type rowWriter interface {
	WriteRow(ctx context.Context, table string, base []string) (int, error)
	WriteAreas(ctx context.Context, table string, row int, records map[domain.Area]domain.AreaRecord) ([]domain.Area, error)
}

// cellWriter fills the fixed report columns of the appended row.
type cellWriter interface {
	HeaderRow(ctx context.Context, table string) ([]string, error)
	SetCell(ctx context.Context, table string, row, col int, value string) error
}

type reportRenderer interface {
	Render(ctx context.Context, report render.Report) ([]byte, error)
}

type lineDirectory interface {
	LineUserID(ctx context.Context, roomID string) (string, bool, error)
}

type messageSender interface {
	Send(ctx context.Context, userID, text string) error
}

type recorder interface {
	SubmissionDone(result string, d time.Duration)
	StepFailed(step string)
}

type noopRecorder struct{}

func (noopRecorder) SubmissionDone(string, time.Duration) {}
func (noopRecorder) StepFailed(string) {}

type Config struct {
	LogTable          string
	Location          *time.Location
	WelcomeURL        string
	UploadConcurrency int
	PDFColumn         string
	SignatureColumn   string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Deps are the collaborators CheckinService drives.
type Deps struct {
	Folders   destinationResolver
	Blobs     blobRepository
	Writer    rowWriter
	Cells     cellWriter
	Renderer  reportRenderer
	Directory lineDirectory
	Sender    messageSender
	Metrics   recorder
}

type CheckinService struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

func NewCheckinService(deps Deps, cfg Config, logger *slog.Logger) *CheckinService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 4
	}
	if cfg.PDFColumn == "" {
		cfg.PDFColumn = "Inspection PDF"
	}
	if cfg.SignatureColumn == "" {
		cfg.SignatureColumn = "Tenant Signature"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = noopRecorder{}
	}
	return &CheckinService{deps: deps, cfg: cfg, logger: logger}
}

// StepResult records a best-effort step that failed without failing the
// submission.
type StepResult struct {
	Step string
	Err  error
}

type Result struct {
	OK           bool
	RoomID       string
	Row          int
	WroteAreas   []domain.Area
	PDFURL       string
	SignatureURL string
	Folder       folder.Destination
	Steps        []StepResult
}

// Submit records one inspection. Everything up to and including the row
// append must succeed; later steps are best effort and reported in
// Result.Steps.
func (s *CheckinService) Submit(ctx context.Context, sub domain.Submission) (*Result, error) {
	start := s.cfg.Now()
	res, err := s.submit(ctx, sub)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrInvalidSubmission):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	}
	s.deps.Metrics.SubmissionDone(outcome, s.cfg.Now().Sub(start))
	return res, err
}

func (s *CheckinService) submit(ctx context.Context, sub domain.Submission) (*Result, error) {
	roomID := strings.TrimSpace(sub.Fields.RoomID)
	if roomID == "" {
		return nil, &ValidationError{Field: "fields.roomId", Msg: "is required"}
	}
	signature, err := decodeSignature(sub.Fields.TenantSignature)
	if err != nil {
		return nil, err
	}

	ts := sub.ReceivedAt
	if ts.IsZero() {
		ts = s.cfg.Now()
	}
	local := ts.In(s.cfg.Location)
	stamp := local.Format("20060102-150405")

	res := &Result{RoomID: roomID}
	res.Folder = s.deps.Folders.Resolve(ctx, roomID)
	s.logger.Info("submission received",
		"room_id", roomID, "folder_via", res.Folder.Via, "files", len(sub.UploadedFiles))

	uploads, err := s.saveUploads(ctx, res.Folder.ID, roomID, stamp, sub.UploadedFiles)
	if err != nil {
		return nil, err
	}
	s.shareUploads(ctx, res, uploads)

	if signature != nil {
		name := roomID + "_" + stamp + "_SIGNATURE.png"
		url, err := s.deps.Blobs.Save(ctx, res.Folder.ID, name, "image/png", signature)
		s.step(res, StepSignature, err)
		if err == nil {
			url = s.share(ctx, res, StepSignatureShare, url)
		}
		res.SignatureURL = url
	}
	if sig := uploads[string(domain.SignatureArea)]; res.SignatureURL == "" && len(sig) > 0 {
		res.SignatureURL = sig[0]
	}

	base := []string{
		local.Format("2006-01-02 15:04:05"),
		sub.Fields.Building,
		sub.Fields.Floor,
		roomID,
		sub.Fields.Inspector,
		sub.Fields.GlobalNotes,
		s.deps.Blobs.ContainerURL(res.Folder.ID),
	}
	res.Row, err = s.deps.Writer.WriteRow(ctx, s.cfg.LogTable, base)
	if err != nil {
		return nil, fmt.Errorf("failed to append log row: %w", err)
	}

	records := ingest.Aggregate(s.logger, sub.MetaByArea, uploads)
	res.WroteAreas, err = s.deps.Writer.WriteAreas(ctx, s.cfg.LogTable, res.Row, records)
	s.step(res, StepAreas, err)

	res.PDFURL = s.createReport(ctx, res, render.Report{
		Timestamp:    ts,
		Building:     sub.Fields.Building,
		Floor:        sub.Fields.Floor,
		RoomID:       roomID,
		Inspector:    sub.Fields.Inspector,
		GlobalNotes:  sub.Fields.GlobalNotes,
		SignatureURL: res.SignatureURL,
		Areas:        records,
	}, stamp)

	s.step(res, StepFixedColumns, s.fillFixedColumns(ctx, res))
	s.step(res, StepNotify, s.notify(ctx, res))

	res.OK = true
	s.logger.Info("submission recorded",
		"room_id", roomID, "row", res.Row, "areas", len(res.WroteAreas), "failed_steps", len(res.Steps))
	return res, nil
}

// saveUploads stores every file and returns their URLs keyed by canonical
// area, in submission order.
func (s *CheckinService) saveUploads(ctx context.Context, container, roomID, stamp string, files []domain.FileUpload) (map[string][]string, error) {
	urls := make([]string, len(files))
	areas := make([]domain.Area, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UploadConcurrency)
	for i, f := range files {
		i, f := i, f
		areas[i] = schema.Normalize(f.RawArea)
		name := roomID + "_" + stamp + "_" + string(areas[i])
		if len(files) > 1 {
			name += fmt.Sprintf("_%d", i+1)
		}
		name += guessExt(f.MimeType, f.FileName)

		g.Go(func() error {
			url, err := s.deps.Blobs.Save(gctx, container, name, f.MimeType, f.Content)
			if err != nil {
				return fmt.Errorf("failed to store %s: %w", name, err)
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]string)
	for i, area := range areas {
		out[string(area)] = append(out[string(area)], urls[i])
	}
	return out, nil
}

// shareUploads makes every stored upload publicly readable, replacing each
// URL with the shared one. A failed share keeps the stored URL.
func (s *CheckinService) shareUploads(ctx context.Context, res *Result, uploads map[string][]string) {
	type shared struct {
		area string
		i    int
		url  string
		err  error
	}
	var out []*shared
	for area, urls := range uploads {
		for i, u := range urls {
			out = append(out, &shared{area: area, i: i, url: u})
		}
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.UploadConcurrency)
	for _, sh := range out {
		sh := sh
		g.Go(func() error {
			u, err := s.deps.Blobs.SetPublicReadable(ctx, sh.url)
			if err != nil {
				sh.err = err
				return nil
			}
			sh.url = u
			return nil
		})
	}
	_ = g.Wait()

	for _, sh := range out {
		if sh.err != nil {
			s.step(res, StepUploadShare, fmt.Errorf("share %s: %w", sh.url, sh.err))
			continue
		}
		uploads[sh.area][sh.i] = sh.url
	}
}

// share makes url publicly readable and returns the URL to hand out; on
// failure the step is recorded and url is returned unchanged.
func (s *CheckinService) share(ctx context.Context, res *Result, step, url string) string {
	shared, err := s.deps.Blobs.SetPublicReadable(ctx, url)
	s.step(res, step, err)
	if err != nil {
		return url
	}
	return shared
}

func (s *CheckinService) createReport(ctx context.Context, res *Result, report render.Report, stamp string) string {
	pdf, err := s.deps.Renderer.Render(ctx, report)
	if err != nil {
		s.step(res, StepRender, err)
		return ""
	}

	name := pdfNamePrefix + res.RoomID + "_" + stamp + ".pdf"
	url, err := s.deps.Blobs.Save(ctx, s.deps.Folders.Default(), name, "application/pdf", pdf)
	if err != nil {
		s.step(res, StepPDFUpload, err)
		return ""
	}

	return s.share(ctx, res, StepPDFShare, url)
}

// fillFixedColumns writes the report and signature links into the log
// columns with those exact headers, when the table has them.
func (s *CheckinService) fillFixedColumns(ctx context.Context, res *Result) error {
	headers, err := s.deps.Cells.HeaderRow(ctx, s.cfg.LogTable)
	if err != nil {
		return err
	}
	var errs []error
	if col := tabular.ColumnIndex(headers, s.cfg.PDFColumn); col > 0 && res.PDFURL != "" {
		errs = append(errs, s.deps.Cells.SetCell(ctx, s.cfg.LogTable, res.Row, col, res.PDFURL))
	}
	if col := tabular.ColumnIndex(headers, s.cfg.SignatureColumn); col > 0 && res.SignatureURL != "" {
		errs = append(errs, s.deps.Cells.SetCell(ctx, s.cfg.LogTable, res.Row, col, res.SignatureURL))
	}
	return errors.Join(errs...)
}

func (s *CheckinService) notify(ctx context.Context, res *Result) error {
	userID, ok, err := s.deps.Directory.LineUserID(ctx, res.RoomID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Info("no LINE user for room", "room_id", res.RoomID)
		return nil
	}
	err = s.deps.Sender.Send(ctx, userID, notify.WelcomeMessage(res.RoomID, res.PDFURL, s.cfg.WelcomeURL))
	if errors.Is(err, notify.ErrNotConfigured) {
		s.logger.Info("LINE notifications disabled", "room_id", res.RoomID)
		return nil
	}
	return err
}

func (s *CheckinService) step(res *Result, step string, err error) {
	if err == nil {
		return
	}
	s.logger.Warn("best-effort step failed", "room_id", res.RoomID, "step", step, "error", err)
	s.deps.Metrics.StepFailed(step)
	res.Steps = append(res.Steps, StepResult{Step: step, Err: err})
}

// decodeSignature returns the PNG bytes of an inline signature, or nil when
// sig is not a PNG data URL.
func decodeSignature(sig string) ([]byte, error) {
	payload, ok := strings.CutPrefix(strings.TrimSpace(sig), signaturePrefix)
	if !ok {
		return nil, nil
	}
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, &ValidationError{Field: "fields.tenantSignature", Msg: "is not valid base64"}
	}
	return data, nil
}

// DecodeBase64 accepts padded or unpadded standard base64, with or without a
// data URL prefix.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// guessExt picks a file extension from the MIME type, then from name.
func guessExt(mimeType, name string) string {
	m := strings.ToLower(mimeType)
	switch {
	case strings.Contains(m, "png"):
		return ".png"
	case strings.Contains(m, "jpeg"), strings.Contains(m, "jpg"):
		return ".jpg"
	case strings.Contains(m, "heic"):
		return ".heic"
	}
	if i := strings.LastIndex(name, "."); i > -1 {
		return name[i:]
	}
	return ".bin"
}
