package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jamesruggles/surfacewatch/internal/database"
)

// Store records rendered report files.
type Store interface {
	CreateReport(ctx context.Context, r *database.Report) error
}

// Writer renders reports into a directory and records each file.
type Writer struct {
	dir      string
	fontPath string
	store    Store
	logger   *slog.Logger
}

func NewWriter(dir, fontPath string, store Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, fontPath: fontPath, store: store, logger: logger}
}

var extensions = map[string]string{
	"json":     "json",
	"markdown": "md",
	"pdf":      "pdf",
}

// Path is where the report for scanID in format lands.
func (w *Writer) Path(scanID int64, format string) string {
	return filepath.Join(w.dir, fmt.Sprintf("report_scan_%d.%s", scanID, extensions[format]))
}

// Write renders r in each format. A failing format is logged and the
// remaining formats are still written. The first error is returned.
func (w *Writer) Write(ctx context.Context, r *Report, formats []string) ([]database.Report, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}

	var written []database.Report
	var firstErr error
	for _, format := range formats {
		rec, err := w.writeOne(ctx, r, format)
		if err != nil {
			w.logger.Error("report failed", "scan_id", r.ScanID, "format", format, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s report: %w", format, err)
			}
			continue
		}
		w.logger.Info("report saved", "scan_id", r.ScanID, "format", format, "path", rec.FilePath)
		written = append(written, *rec)
	}
	return written, firstErr
}

func (w *Writer) writeOne(ctx context.Context, r *Report, format string) (*database.Report, error) {
	path, err := w.render(r, format)
	if err != nil {
		return nil, err
	}
	rec := &database.Report{ScanID: r.ScanID, Format: format, FilePath: path}
	if w.store != nil {
		if err := w.store.CreateReport(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (w *Writer) render(r *Report, format string) (string, error) {
	if _, ok := extensions[format]; !ok {
		return "", fmt.Errorf("unknown report format %q", format)
	}
	path := w.Path(r.ScanID, format)

	switch format {
	case "json":
		data, err := json.MarshalIndent(r, "", "    ")
		if err != nil {
			return "", fmt.Errorf("encode report: %w", err)
		}
		return path, os.WriteFile(path, data, 0o644)
	case "markdown":
		return path, os.WriteFile(path, []byte(Markdown(r)), 0o644)
	default:
		font, err := FindFont(w.fontPath)
		if err != nil {
			return "", err
		}
		return path, WritePDF(r, font, path)
	}
}
