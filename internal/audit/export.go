// Package audit exports the booking tables to an Excel workbook.
package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// TableSource provides the tables to export.
type TableSource interface {
	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, tableName string) ([]map[string]interface{}, []string, error)
}

// SheetWriter writes tabular data into a workbook.
type SheetWriter interface {
	AddSheet(name string) error
	WriteHeader(columns []string) error
	WriteRow(values []interface{}) error
	Save(w io.Writer) error
	Close() error
}

type Exporter struct {
	source    TableSource
	newWriter func() SheetWriter
	logger    zerolog.Logger
}

// Summary describes what an export wrote.
type Summary struct {
	Tables map[string]int
}

func NewExporter(source TableSource, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{
		source:    source,
		newWriter: func() SheetWriter { return NewExcelizeWriter() },
		logger:    logger.With().Str("component", "audit").Logger(),
	}
}

// Export writes one sheet per table to out. A table that cannot be read is
// skipped and logged; the export fails only if nothing could be written.
func (e *Exporter) Export(ctx context.Context, out io.Writer) (Summary, error) {
	summary := Summary{Tables: make(map[string]int)}

	tables, err := e.source.GetTableNames(ctx)
	if err != nil {
		return summary, fmt.Errorf("get table names: %w", err)
	}
	if len(tables) == 0 {
		return summary, fmt.Errorf("no tables to export")
	}

	book := e.newWriter()
	defer book.Close()

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		rows, columns, err := e.source.GetTableData(ctx, table)
		if err != nil {
			e.logger.Error().Err(err).Str("table", table).Msg("Failed to get table data")
			continue
		}
		if err := book.AddSheet(table); err != nil {
			return summary, err
		}
		if err := book.WriteHeader(columns); err != nil {
			return summary, fmt.Errorf("write %s header: %w", table, err)
		}
		for _, row := range rows {
			values := make([]interface{}, len(columns))
			for i, col := range columns {
				values[i] = cellValue(row[col])
			}
			if err := book.WriteRow(values); err != nil {
				return summary, fmt.Errorf("write %s row: %w", table, err)
			}
		}
		summary.Tables[table] = len(rows)
		e.logger.Debug().Str("table", table).Int("rows", len(rows)).Msg("Exported table")
	}

	if len(summary.Tables) == 0 {
		return summary, fmt.Errorf("no table could be exported")
	}
	if err := book.Save(out); err != nil {
		return summary, fmt.Errorf("save workbook: %w", err)
	}
	return summary, nil
}

// ExportToFile writes the workbook to dir under Filename(now) and returns its path.
func (e *Exporter) ExportToFile(ctx context.Context, dir string, now time.Time) (string, Summary, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", Summary{}, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, Filename(now))

	f, err := os.Create(path)
	if err != nil {
		return "", Summary{}, fmt.Errorf("create export file: %w", err)
	}
	summary, err := e.Export(ctx, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", summary, err
	}

	e.logger.Info().Str("path", path).Interface("tables", summary.Tables).Msg("Audit export written")
	return path, summary, nil
}

// Filename returns "slotbook_audit_<timestamp>.xlsx".
func Filename(t time.Time) string {
	return fmt.Sprintf("slotbook_audit_%s.xlsx", t.UTC().Format("20060102_150405"))
}

// sqlite returns TEXT columns as []byte.
func cellValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case nil:
		return ""
	default:
		return val
	}
}
