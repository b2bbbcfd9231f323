package service

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/checkin/internal/blobstore/local"
	"github.com/vbonduro/checkin/internal/cache/memory"
	"github.com/vbonduro/checkin/internal/domain"
	"github.com/vbonduro/checkin/internal/folder"
	"github.com/vbonduro/checkin/internal/ingest"
	"github.com/vbonduro/checkin/internal/lock"
	"github.com/vbonduro/checkin/internal/notify"
	"github.com/vbonduro/checkin/internal/render"
	"github.com/vbonduro/checkin/internal/rooms"
	"github.com/vbonduro/checkin/internal/schema"
	"github.com/vbonduro/checkin/internal/tabular"
	"github.com/vbonduro/checkin/internal/tabular/memtable"
)

const (
	logTable      = "Checkin_Log"
	roomFolder    = "ROOMFOLDER_aaaaaaaaaaaaaaaaaaaa"
	defaultFolder = "DEFAULT_bbbbbbbbbbbbbbbbbbbbbbb"
)

var logHeaders = []string{
	"Timestamp", "Building", "Floor", "roomId", "Inspector", "GlobalNotes", "Folder",
	"Inspection PDF", "Tenant Signature",
}

// stubRenderer returns fixed bytes and keeps the last report.
type stubRenderer struct {
	mu     sync.Mutex
	last   render.Report
	err    error
	called int
}

func (r *stubRenderer) Render(_ context.Context, report render.Report) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.called++
	r.last = report
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.4"), nil
}

type sentMessage struct {
	userID string
	text   string
}

type stubSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *stubSender) Send(_ context.Context, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{userID, text})
	return s.err
}

// failingBlobs wraps a blob repository and fails selected operations.
type failingBlobs struct {
	blobRepository
	failSave  func(name string) bool
	failShare bool
}

func (f *failingBlobs) Save(ctx context.Context, container, name, mimeType string, data []byte) (string, error) {
	if f.failSave != nil && f.failSave(name) {
		return "", errors.New("quota exceeded")
	}
	return f.blobRepository.Save(ctx, container, name, mimeType, data)
}

func (f *failingBlobs) SetPublicReadable(ctx context.Context, url string) (string, error) {
	if f.failShare {
		return "", errors.New("permission denied")
	}
	return f.blobRepository.SetPublicReadable(ctx, url)
}

type fixture struct {
	svc      *CheckinService
	table    *memtable.Store
	blobs    *local.Store
	renderer *stubRenderer
	sender   *stubSender
	deps     Deps
	cfg      Config
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	table := memtable.New()
	require.NoError(t, table.EnsureTable(ctx, logTable, logHeaders))
	require.NoError(t, table.EnsureTable(ctx, "Rooms", []string{"RoomID", "RoomFolderId", "CheckInFolderId", "Hg Code"}))
	_, err := table.AppendRow(ctx, "Rooms", []string{"A101", roomFolder, "", "HG-1"})
	require.NoError(t, err)
	require.NoError(t, table.EnsureTable(ctx, "Sheet1", []string{"รหัสการจอง", "Line User ID"}))
	_, err = table.AppendRow(ctx, "Sheet1", []string{"HG-1", "U123"})
	require.NoError(t, err)

	registry := rooms.NewRegistry(table, rooms.Config{
		RoomsTable:               "Rooms",
		RoomHeader:               "RoomID",
		ReservationsTable:        "Sheet1",
		ReservationCodeHeader:    "Hg Code",
		ReservationLogCodeHeader: "รหัสการจอง",
		LineUserHeader:           "Line User ID",
	})
	lookup := folder.NewLookup(registry, memory.New(time.Minute), 10*time.Minute, discardLogger())
	chain := folder.NewChain(lookup, "CheckInFolderId", "RoomFolderId", defaultFolder, discardLogger())

	blobs, err := local.New(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)

	renderer := &stubRenderer{}
	sender := &stubSender{}
	loc, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)

	deps := Deps{
		Folders:   chain,
		Blobs:     blobs,
		Writer:    ingest.NewWriter(table, schema.NewResolver(table, lock.NewKeyed())),
		Cells:     table,
		Renderer:  renderer,
		Directory: registry,
		Sender:    sender,
	}
	cfg := Config{
		LogTable:   logTable,
		Location:   loc,
		WelcomeURL: "http://x/welcome",
		Now:        func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	return &fixture{
		svc:      NewCheckinService(deps, cfg, discardLogger()),
		table:    table,
		blobs:    blobs,
		renderer: renderer,
		sender:   sender,
		deps:     deps,
		cfg:      cfg,
	}
}

func (f *fixture) rebuild() {
	f.svc = NewCheckinService(f.deps, f.cfg, discardLogger())
}

func (f *fixture) cell(t *testing.T, row int, header string) string {
	t.Helper()
	rows, err := f.table.Rows(context.Background(), logTable, 1, -1)
	require.NoError(t, err)
	col := tabular.ColumnIndex(rows[0], header)
	require.NotZero(t, col, "header %s", header)
	return rows[row-1][col-1]
}

func bedSubmission() domain.Submission {
	return domain.Submission{
		Fields: domain.Fields{Building: "Mama Mansion", Floor: "1", RoomID: "A101", Inspector: "Nok"},
		MetaByArea: map[string]domain.AreaMeta{
			"BED": {Status: "damaged", Note: "stain"},
		},
		UploadedFiles: []domain.FileUpload{
			{RawArea: "BED", MimeType: "image/jpeg", FileName: "bed.jpg", Content: []byte("jpeg")},
		},
	}
}

func TestSubmitEndToEnd(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Submit(context.Background(), bedSubmission())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "A101", res.RoomID)
	assert.Equal(t, []domain.Area{"BED"}, res.WroteAreas)
	assert.Empty(t, res.Steps)
	assert.Equal(t, folder.Destination{ID: roomFolder, Via: folder.ViaRoom}, res.Folder)

	assert.Equal(t, 2, res.Row)
	assert.Equal(t, "2024-01-02 10:04:05", f.cell(t, res.Row, "Timestamp"))
	assert.Equal(t, "A101", f.cell(t, res.Row, "roomId"))
	assert.Equal(t, "http://localhost:8080/blobs/"+roomFolder+"/", f.cell(t, res.Row, "Folder"))
	assert.Equal(t, "damaged", f.cell(t, res.Row, "BED_Status"))
	assert.Equal(t, "stain", f.cell(t, res.Row, "BED_Notes"))
	assert.Equal(t,
		"http://localhost:8080/blobs/"+roomFolder+"/A101_20240102-100405_BED.jpg",
		f.cell(t, res.Row, "BED_Photos"))

	assert.Equal(t,
		"http://localhost:8080/blobs/"+defaultFolder+"/%E0%B8%95%E0%B8%A3%E0%B8%A7%E0%B8%88%E0%B8%AB%E0%B9%89%E0%B8%AD%E0%B8%87_A101_20240102-100405.pdf",
		res.PDFURL)
	assert.Equal(t, res.PDFURL, f.cell(t, res.Row, "Inspection PDF"))

	data, mimeType, err := f.blobs.Get(context.Background(), res.PDFURL)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mimeType)
	assert.Equal(t, []byte("%PDF-1.4"), data)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "U123", f.sender.sent[0].userID)
	assert.Contains(t, f.sender.sent[0].text, res.PDFURL)
	assert.Contains(t, f.sender.sent[0].text, "http://x/welcome")

	assert.Equal(t, "damaged", f.renderer.last.Areas["BED"].Status)
}

func TestSubmitRequiresRoomID(t *testing.T) {
	f := newFixture(t)
	sub := bedSubmission()
	sub.Fields.RoomID = "  "

	_, err := f.svc.Submit(context.Background(), sub)
	require.ErrorIs(t, err, ErrInvalidSubmission)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "fields.roomId", verr.Field)

	rows, err := f.table.Rows(context.Background(), logTable, 2, -1)
	require.NoError(t, err)
	assert.Empty(t, rows, "nothing written")
}

func TestSubmitInvalidSignatureWritesNothing(t *testing.T) {
	f := newFixture(t)
	sub := bedSubmission()
	sub.Fields.TenantSignature = "data:image/png;base64,@@@"

	_, err := f.svc.Submit(context.Background(), sub)
	require.ErrorIs(t, err, ErrInvalidSubmission)
	assert.Zero(t, f.renderer.called)
}

func TestSubmitStoresInlineSignature(t *testing.T) {
	f := newFixture(t)
	sub := bedSubmission()
	sub.Fields.TenantSignature = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	res, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/blobs/"+roomFolder+"/A101_20240102-100405_SIGNATURE.png", res.SignatureURL)
	assert.Equal(t, res.SignatureURL, f.cell(t, res.Row, "Tenant Signature"))
	assert.Equal(t, res.SignatureURL, f.renderer.last.SignatureURL)
}

func TestSubmitSignatureFallsBackToUploadedFile(t *testing.T) {
	f := newFixture(t)
	sub := bedSubmission()
	sub.UploadedFiles = append(sub.UploadedFiles, domain.FileUpload{
		RawArea: "signature", MimeType: "image/png", Content: []byte("png"),
	})

	res, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/blobs/"+roomFolder+"/A101_20240102-100405_SIGNATURE_2.png", res.SignatureURL)
	assert.Equal(t,
		"http://localhost:8080/blobs/"+roomFolder+"/A101_20240102-100405_BED_1.jpg",
		f.cell(t, res.Row, "BED_Photos"))
	assert.Contains(t, res.WroteAreas, domain.SignatureArea)
}

func TestSubmitDefaultsStatusForFileOnlyArea(t *testing.T) {
	f := newFixture(t)
	sub := bedSubmission()
	sub.MetaByArea = nil

	res, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "ok", f.cell(t, res.Row, "BED_Status"))
}

func TestSubmitUploadFailureAbortsBeforeRow(t *testing.T) {
	f := newFixture(t)
	f.deps.Blobs = &failingBlobs{blobRepository: f.blobs, failSave: func(string) bool { return true }}
	f.rebuild()

	_, err := f.svc.Submit(context.Background(), bedSubmission())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSubmission)

	rows, err := f.table.Rows(context.Background(), logTable, 2, -1)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSubmitRenderFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = render.ErrChromeMissing

	res, err := f.svc.Submit(context.Background(), bedSubmission())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.PDFURL)
	assert.Equal(t, "", f.cell(t, res.Row, "Inspection PDF"))
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StepRender, res.Steps[0].Step)
	assert.ErrorIs(t, res.Steps[0].Err, render.ErrChromeMissing)
	require.Len(t, f.sender.sent, 1, "notification still goes out")
}

func TestSubmitShareFailureKeepsURL(t *testing.T) {
	f := newFixture(t)
	f.deps.Blobs = &failingBlobs{blobRepository: f.blobs, failShare: true}
	f.rebuild()

	sub := bedSubmission()
	sub.Fields.TenantSignature = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	res, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.NotEmpty(t, res.PDFURL)
	assert.Equal(t, res.PDFURL, f.cell(t, res.Row, "Inspection PDF"))
	assert.Equal(t,
		"http://localhost:8080/blobs/"+roomFolder+"/A101_20240102-100405_BED.jpg",
		f.cell(t, res.Row, "BED_Photos"))
	assert.Equal(t, res.SignatureURL, f.cell(t, res.Row, "Tenant Signature"))

	steps := make([]string, 0, len(res.Steps))
	for _, st := range res.Steps {
		steps = append(steps, st.Step)
	}
	assert.ElementsMatch(t, []string{StepUploadShare, StepSignatureShare, StepPDFShare}, steps)
}

func TestSubmitSharesUploadsAndSignature(t *testing.T) {
	f := newFixture(t)
	sub := bedSubmission()
	sub.Fields.TenantSignature = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	res, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	require.Empty(t, res.Steps)

	const prefix = "http://localhost:8080/blobs/"
	for _, u := range []string{f.cell(t, res.Row, "BED_Photos"), res.SignatureURL, res.PDFURL} {
		key, ok := strings.CutPrefix(u, prefix)
		require.True(t, ok, u)
		_, _, err := f.blobs.Public(key)
		assert.NoError(t, err, "%s is readable", key)
	}
}

func TestSubmitNotifyFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("line down")

	res, err := f.svc.Submit(context.Background(), bedSubmission())
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StepNotify, res.Steps[0].Step)
}

func TestSubmitWithoutLineTokenIsNotAFailure(t *testing.T) {
	f := newFixture(t)
	f.sender.err = notify.ErrNotConfigured

	res, err := f.svc.Submit(context.Background(), bedSubmission())
	require.NoError(t, err)
	assert.Empty(t, res.Steps)
}

func TestSubmitUnknownRoomUsesDefaultFolder(t *testing.T) {
	f := newFixture(t)
	sub := bedSubmission()
	sub.Fields.RoomID = "Z999"

	res, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, folder.Destination{ID: defaultFolder, Via: folder.ViaDefault}, res.Folder)
	assert.Empty(t, f.sender.sent, "no LINE user for unknown room")
}

func TestSubmitConcurrentNewArea(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := bedSubmission()
			sub.MetaByArea = map[string]domain.AreaMeta{"SHOWER_HEATER": {Status: "ok"}}
			_, err := f.svc.Submit(ctx, sub)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	headers, err := f.table.HeaderRow(ctx, logTable)
	require.NoError(t, err)
	for _, kind := range domain.FieldKinds {
		count := 0
		for _, h := range headers {
			if a, k := schema.DecodeHeader(h); a == "SHOWER_HEATER" && k == kind {
				count++
			}
		}
		assert.Equal(t, 1, count, "kind %s", kind)
	}

	rows, err := f.table.Rows(ctx, logTable, 2, -1)
	require.NoError(t, err)
	assert.Len(t, rows, n)
}

func TestGuessExt(t *testing.T) {
	assert.Equal(t, ".png", guessExt("image/png", "x.jpg"))
	assert.Equal(t, ".jpg", guessExt("image/jpeg", ""))
	assert.Equal(t, ".jpg", guessExt("image/JPG", ""))
	assert.Equal(t, ".heic", guessExt("image/heic", ""))
	assert.Equal(t, ".webp", guessExt("application/octet-stream", "photo.webp"))
	assert.Equal(t, ".bin", guessExt("", "photo"))
}

func TestDecodeBase64(t *testing.T) {
	for _, in := range []string{"aGVsbG8=", "aGVsbG8", "data:image/png;base64,aGVsbG8="} {
		got, err := DecodeBase64(in)
		require.NoError(t, err, in)
		assert.Equal(t, []byte("hello"), got)
	}
	_, err := DecodeBase64("not base64!")
	assert.Error(t, err)
}
