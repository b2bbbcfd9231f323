// Package render produces the inspection report PDF for a submission.
package render

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/vbonduro/checkin/internal/domain"
)

// ErrChromeMissing is returned when no headless Chrome binary can be found.
var ErrChromeMissing = errors.New("chrome not installed")

// ReportAreas are the areas printed on the report, in order.
var ReportAreas = []domain.Area{
	"DOOR",
	"CURTAIN",
	"BED",
	"CHAIR_TABLE",
	"WARDROBE",
	"AC",
	"TOILET_SINK",
	"SHOWER_HEATER",
	"WALL_FLOOR_CEILING",
}

//go:embed templates/*.html
var templateFS embed.FS

// BlobGetter fetches image bytes by URL.
type BlobGetter interface {
	Get(ctx context.Context, url string) ([]byte, string, error)
}

// Report is everything printed for one submission.
type Report struct {
	Timestamp    time.Time
	Building     string
	Floor        string
	RoomID       string
	Inspector    string
	GlobalNotes  string
	SignatureURL string
	Areas        map[domain.Area]domain.AreaRecord
}

type pageData struct {
	Date        string
	Building    string
	Floor       string
	RoomID      string
	Inspector   string
	GlobalNotes string
	Areas       []pageArea
	Signature   template.URL
}

type pageArea struct {
	Name   string
	Status string
	Notes  string
	Images []template.URL
}

type Config struct {
	// TemplatePath replaces the embedded template when set.
	TemplatePath string
	// ChromePath is the browser binary; empty searches PATH.
	ChromePath string
	Location   *time.Location
	Timeout    time.Duration
}

type PDFRenderer struct {
	tmpl   *template.Template
	blobs  BlobGetter
	cfg    Config
	logger *slog.Logger
}

func NewPDFRenderer(blobs BlobGetter, cfg Config, logger *slog.Logger) (*PDFRenderer, error) {
	var src []byte
	var err error
	if cfg.TemplatePath != "" {
		src, err = os.ReadFile(cfg.TemplatePath)
	} else {
		src, err = templateFS.ReadFile("templates/inspection.html")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report template: %w", err)
	}

	tmpl, err := template.New("inspection").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &PDFRenderer{tmpl: tmpl, blobs: blobs, cfg: cfg, logger: logger}, nil
}

// Render builds the report page and prints it to PDF.
func (r *PDFRenderer) Render(ctx context.Context, report Report) ([]byte, error) {
	html, err := r.BuildPage(ctx, report)
	if err != nil {
		return nil, err
	}
	return r.printPDF(ctx, html)
}

// BuildPage renders the report HTML with every image inlined. Images that
// cannot be fetched are left out.
func (r *PDFRenderer) BuildPage(ctx context.Context, report Report) (string, error) {
	data := pageData{
		Date:        report.Timestamp.In(r.cfg.Location).Format("02/01/2006 15:04"),
		Building:    report.Building,
		Floor:       report.Floor,
		RoomID:      report.RoomID,
		Inspector:   report.Inspector,
		GlobalNotes: report.GlobalNotes,
	}

	for _, area := range ReportAreas {
		rec := report.Areas[area]
		pa := pageArea{Name: string(area), Status: rec.Status, Notes: rec.Notes}
		for _, u := range rec.PhotoURLs {
			if img, ok := r.inline(ctx, area, u); ok {
				pa.Images = append(pa.Images, img)
			}
		}
		data.Areas = append(data.Areas, pa)
	}

	sigURL := report.SignatureURL
	if sig := report.Areas[domain.SignatureArea]; sigURL == "" && len(sig.PhotoURLs) > 0 {
		sigURL = sig.PhotoURLs[0]
	}
	if sigURL != "" {
		if img, ok := r.inline(ctx, domain.SignatureArea, sigURL); ok {
			data.Signature = img
		}
	} else {
		r.logger.Info("no signature image available", "room_id", report.RoomID)
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render report template: %w", err)
	}
	return buf.String(), nil
}

func (r *PDFRenderer) inline(ctx context.Context, area domain.Area, url string) (template.URL, bool) {
	data, mimeType, err := r.blobs.Get(ctx, url)
	if err != nil {
		r.logger.Warn("could not inline image", "area", area, "url", url, "error", err)
		return "", false
	}
	if !strings.HasPrefix(mimeType, "image/") {
		r.logger.Warn("skipping non-image attachment", "area", area, "url", url, "mime", mimeType)
		return "", false
	}
	return template.URL("data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)), true
}

func (r *PDFRenderer) chromePath() (string, error) {
	candidates := []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}
	if r.cfg.ChromePath != "" {
		candidates = []string{r.cfg.ChromePath}
	}
	for _, c := range candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}
	return "", ErrChromeMissing
}

// CheckChrome reports whether a Chrome binary is available.
func (r *PDFRenderer) CheckChrome() error {
	_, err := r.chromePath()
	return err
}

func (r *PDFRenderer) printPDF(ctx context.Context, html string) ([]byte, error) {
	execPath, err := r.chromePath()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	dataURL := "data:text/html;charset=utf-8," + percentEncode(html)

	var pdf []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
	}
	return pdf, nil
}

// percentEncode escapes s for a data URL, encoding spaces as %20.
func percentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
