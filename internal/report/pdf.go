package report

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/signintech/gopdf"

	"github.com/jamesruggles/surfacewatch/internal/risk"
)

// fontCandidates are checked in order when no font is configured.
var fontCandidates = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/usr/share/fonts/liberation/LiberationSans-Regular.ttf",
	"/Library/Fonts/Arial.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
	`C:\Windows\Fonts\arial.ttf`,
}

var ErrNoFont = errors.New("no TrueType font found for PDF output; set reports.font_path")

// FindFont returns configured if set, otherwise the first installed
// candidate font.
func FindFont(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("font %s: %w", configured, err)
		}
		return configured, nil
	}
	for _, p := range fontCandidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrNoFont
}

const (
	pageMargin = 40.0
	pageBottom = 800.0
	lineHeight = 16.0
	fontFamily = "body"
)

type pdfDoc struct {
	pdf *gopdf.GoPdf
}

func (d *pdfDoc) font(size float64) error {
	return d.pdf.SetFont(fontFamily, "", size)
}

func (d *pdfDoc) ensureSpace(h float64) {
	if d.pdf.GetY()+h > pageBottom {
		d.pdf.AddPage()
		d.pdf.SetY(pageMargin)
	}
}

func (d *pdfDoc) line(text string, size float64) error {
	if err := d.font(size); err != nil {
		return err
	}
	d.ensureSpace(size + 4)
	d.pdf.SetX(pageMargin)
	if err := d.pdf.Cell(nil, text); err != nil {
		return err
	}
	d.pdf.Br(size + 4)
	return nil
}

func (d *pdfDoc) heading(text string) error {
	d.pdf.Br(8)
	d.pdf.SetTextColor(44, 62, 80)
	defer d.pdf.SetTextColor(0, 0, 0)
	return d.line(text, 16)
}

// row draws cells at fixed x offsets.
func (d *pdfDoc) row(cols []float64, cells ...string) error {
	d.ensureSpace(lineHeight)
	y := d.pdf.GetY()
	for i, c := range cells {
		d.pdf.SetXY(cols[i], y)
		if err := d.pdf.Cell(nil, c); err != nil {
			return err
		}
	}
	d.pdf.SetY(y + lineHeight)
	return nil
}

// WritePDF renders r to path using the TrueType font at fontPath.
func WritePDF(r *Report, fontPath, path string) error {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	if err := pdf.AddTTFFont(fontFamily, fontPath); err != nil {
		return fmt.Errorf("load font %s: %w", fontPath, err)
	}
	pdf.AddPage()
	pdf.SetY(pageMargin)
	d := &pdfDoc{pdf: pdf}

	if err := d.render(r); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	if err := pdf.WritePdf(path); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func (d *pdfDoc) render(r *Report) error {
	steps := []func(*Report) error{d.title, d.summary, d.changes, d.risks}
	for _, step := range steps {
		if err := step(r); err != nil {
			return err
		}
	}
	return nil
}

func (d *pdfDoc) title(r *Report) error {
	d.pdf.SetTextColor(44, 62, 80)
	if err := d.line("surfacewatch Security Scan Report", 22); err != nil {
		return err
	}
	d.pdf.SetTextColor(0, 0, 0)
	d.pdf.Br(6)
	info := [][2]string{
		{"Scan ID", fmt.Sprint(r.ScanID)},
		{"Target", r.Target},
		{"Profile", strings.ToUpper(r.Profile)},
		{"Timestamp", r.Timestamp.Format("2006-01-02 15:04:05 UTC")},
		{"Duration", fmt.Sprintf("%.2f seconds", r.DurationSeconds)},
	}
	if err := d.font(11); err != nil {
		return err
	}
	for _, kv := range info {
		if err := d.row([]float64{pageMargin, pageMargin + 110}, kv[0]+":", kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func (d *pdfDoc) summary(r *Report) error {
	if err := d.heading("Executive Summary"); err != nil {
		return err
	}
	s := r.Summary
	rows := [][2]string{
		{"Total events", fmt.Sprint(s.TotalEvents)},
		{"Open ports", fmt.Sprint(s.OpenPorts)},
		{"Closed ports", fmt.Sprint(s.ClosedPorts)},
		{"Filtered ports", fmt.Sprint(s.FilteredPorts)},
		{"High risk findings", fmt.Sprint(s.HighRiskFindings)},
		{"Medium risk findings", fmt.Sprint(s.MediumRiskFindings)},
	}
	if err := d.font(11); err != nil {
		return err
	}
	for _, kv := range rows {
		if err := d.row([]float64{pageMargin, pageMargin + 160}, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func (d *pdfDoc) changes(r *Report) error {
	if err := d.heading("Attack Surface Changes"); err != nil {
		return err
	}
	switch {
	case !r.HasBaseline:
		return d.line("No earlier completed scan of this target.", 11)
	case r.Changes.Empty():
		return d.line(fmt.Sprintf("No changes since scan %d.", r.Changes.BaselineID), 11)
	}
	for _, k := range r.Changes.Opened.Sorted() {
		if err := d.line("[+] opened  "+k.String(), 11); err != nil {
			return err
		}
	}
	for _, k := range r.Changes.Closed.Sorted() {
		if err := d.line("[-] closed  "+k.String(), 11); err != nil {
			return err
		}
	}
	return nil
}

func (d *pdfDoc) risks(r *Report) error {
	if err := d.heading("Risk Assessment"); err != nil {
		return err
	}
	if len(r.Risks) == 0 {
		return d.line("No risky services detected.", 11)
	}
	cols := []float64{pageMargin, pageMargin + 130, pageMargin + 210, pageMargin + 330, pageMargin + 390}
	if err := d.font(10); err != nil {
		return err
	}
	if err := d.row(cols, "Host", "Port", "Service", "Risk", "Severity"); err != nil {
		return err
	}
	for _, a := range r.Risks {
		switch risk.Severity(a.Risk) {
		case "high":
			d.pdf.SetTextColor(192, 57, 43)
		case "medium":
			d.pdf.SetTextColor(211, 84, 0)
		default:
			d.pdf.SetTextColor(0, 0, 0)
		}
		svc := a.Service
		if svc == "" {
			svc = "unknown"
		}
		if err := d.row(cols, a.Host, fmt.Sprintf("%d/%s", a.Port, a.Protocol), svc, fmt.Sprintf("%d/10", a.Risk), risk.Severity(a.Risk)); err != nil {
			return err
		}
		d.pdf.SetTextColor(0, 0, 0)
		if len(a.Factors) > 0 {
			if err := d.row([]float64{pageMargin + 20}, strings.Join(a.Factors, ", ")); err != nil {
				return err
			}
		}
	}
	return nil
}
