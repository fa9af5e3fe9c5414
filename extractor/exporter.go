package extractor

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"landrecord-extractor/internal/types"
)

// Sentinel messages written in place of tabular data.
const (
	SentinelNoResults       = "No results found for the search criteria"
	SentinelSearchTimeout   = "Error: Search results table did not appear within timeout period"
	SentinelTechnicalIssues = "Error: Failed to load search results due to technical issues"
)

// SentinelFor maps a terminal search or session error to its sentinel message.
func SentinelFor(err error) string {
	if errors.Is(err, types.ErrNoResults) {
		return SentinelNoResults
	}
	var timeout *types.SearchTimeoutError
	if errors.As(err, &timeout) {
		return SentinelSearchTimeout
	}
	return SentinelTechnicalIssues
}

// Exporter writes the metadata export of a run.
type Exporter struct {
	format string
	logger types.Logger
}

// NewExporter creates an exporter for csv or json output.
func NewExporter(format string, logger types.Logger) *Exporter {
	if format != types.FormatJSON {
		format = types.FormatCSV
	}
	return &Exporter{format: format, logger: logger}
}

// Path returns the export location for a portal.
func (e *Exporter) Path(dir, portal string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_results.%s", portal, e.format))
}

// Records projects rows onto the visible headers. Cells map positionally; short rows
// are padded and long rows truncated to the header arity.
func Records(headers []types.Header, rows []types.ResultRow) ([]string, []types.ResultRecord) {
	var labels []string
	for _, h := range headers {
		if !h.Hidden {
			labels = append(labels, h.Label)
		}
	}
	if len(labels) == 0 {
		width := 0
		for _, r := range rows {
			width = max(width, len(r.Visible()))
		}
		for i := 1; i <= width; i++ {
			labels = append(labels, fmt.Sprintf("column_%d", i))
		}
	}

	records := make([]types.ResultRecord, 0, len(rows))
	for _, r := range rows {
		visible := r.Visible()
		fields := make([]types.Field, len(labels))
		for i, label := range labels {
			fields[i].Key = label
			if i < len(visible) {
				fields[i].Value = visible[i]
			}
		}
		records = append(records, types.ResultRecord{Fields: fields})
	}
	return labels, records
}

// Export overwrites dest with the rows of a result set.
func (e *Exporter) Export(dest string, headers []types.Header, rows []types.ResultRow) error {
	labels, records := Records(headers, rows)
	err := writeAtomic(dest, func(w io.Writer) error {
		if e.format == types.FormatJSON {
			return writeJSON(w, records)
		}
		return writeCSV(w, labels, records)
	})
	if err != nil {
		return err
	}
	e.logger.Infof("Exported %d record(s) to %s", len(records), dest)
	return nil
}

// ExportSentinel overwrites dest with a single message record.
func (e *Exporter) ExportSentinel(dest, message string) error {
	err := writeAtomic(dest, func(w io.Writer) error {
		if e.format == types.FormatJSON {
			return writeJSON(w, []types.ResultRecord{{Fields: []types.Field{{Key: "message", Value: message}}}})
		}
		return writeCSV(w, nil, []types.ResultRecord{{Fields: []types.Field{{Value: message}}}})
	})
	if err != nil {
		return err
	}
	e.logger.Infof("Exported sentinel %q to %s", message, dest)
	return nil
}

func writeCSV(w io.Writer, labels []string, records []types.ResultRecord) error {
	writer := csv.NewWriter(w)
	if len(labels) > 0 {
		if err := writer.Write(labels); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	for _, rec := range records {
		if err := writer.Write(rec.Values()); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, records []types.ResultRecord) error {
	if records == nil {
		records = []types.ResultRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records to JSON: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write json records: %w", err)
	}
	return nil
}

// writeAtomic writes through a temp file in the destination directory and renames it
// over dest, so a rerun replaces the previous export instead of appending to it.
func writeAtomic(dest string, fill func(io.Writer) error) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp export: %w", err)
	}
	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp export: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}
