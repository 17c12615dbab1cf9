package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/openclaw/georanking/pkg/utils"
)

// AnalyzeFunc resolves one address into a full report.
type AnalyzeFunc func(ctx context.Context, query string) (map[string]any, error)

// BatchStats counts the outcome of one batch run.
type BatchStats struct {
	Processed    int `json:"processed"`
	OK           int `json:"ok"`
	Errors       int `json:"error"`
	SkippedEmpty int `json:"skipped_empty"`
}

// BatchOutcome holds the per-row reports (including degraded error rows) and
// the run counters.
type BatchOutcome struct {
	Rows  []map[string]any
	Stats BatchStats
}

// RunBatch reads addresses from one CSV column and resolves them row by row.
// A failing row becomes a degraded error report instead of aborting the run.
func RunBatch(ctx context.Context, csvPath, addressColumn string, analyze AnalyzeFunc) (BatchOutcome, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("export: open batch csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("export: read batch csv header: %w", err)
	}
	column := -1
	for i, name := range header {
		if strings.TrimSpace(name) == addressColumn {
			column = i
			break
		}
	}
	if column < 0 {
		return BatchOutcome{}, fmt.Errorf("export: CSV-Spalte %q nicht gefunden. Vorhanden: %v", addressColumn, header)
	}

	outcome := BatchOutcome{}
	for rowNumber := 2; ; rowNumber++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return BatchOutcome{}, fmt.Errorf("export: read batch csv row %d: %w", rowNumber, err)
		}
		if err := ctx.Err(); err != nil {
			return BatchOutcome{}, err
		}

		address := ""
		if column < len(record) {
			address = strings.TrimSpace(record[column])
		}
		// Unquoted commas in the address column spill into extra fields.
		if len(record) > len(header) {
			parts := []string{address}
			for _, extra := range record[len(header):] {
				if strings.TrimSpace(extra) != "" {
					parts = append(parts, extra)
				}
			}
			address = strings.Trim(strings.Join(parts, ","), " ,")
		}
		if address == "" {
			outcome.Stats.SkippedEmpty++
			continue
		}

		outcome.Stats.Processed++
		report, err := analyze(ctx, address)
		if err != nil {
			outcome.Stats.Errors++
			outcome.Rows = append(outcome.Rows, NormalizeErrorRow(address, rowNumber, err))
			continue
		}
		report["batch_meta"] = map[string]any{"row": rowNumber, "status": "ok"}
		outcome.Stats.OK++
		outcome.Rows = append(outcome.Rows, report)
	}
	return outcome, nil
}

// ErrorRows filters the degraded error reports out of a batch outcome.
func ErrorRows(rows []map[string]any) []map[string]any {
	var out []map[string]any
	for _, row := range rows {
		if utils.AsString(utils.AsMap(row["batch_meta"])["status"]) == "error" {
			out = append(out, row)
		}
	}
	return out
}

// FlattenRows flattens full reports into CSV/XLSX row maps.
func FlattenRows(rows []map[string]any) []map[string]string {
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, FlattenReport(row))
	}
	return out
}
