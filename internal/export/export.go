// Package export flattens address reports into tabular artifacts: CSV,
// JSONL and XLSX batch outputs plus a per-failure error report.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/openclaw/georanking/internal/httpclient"
	"github.com/openclaw/georanking/internal/resolver"
	"github.com/openclaw/georanking/pkg/utils"
)

// CSVExportFields is the stable column order of flattened batch exports.
var CSVExportFields = []string{
	"row",
	"query",
	"status",
	"error_code",
	"error_type",
	"error",
	"matched_address",
	"confidence_score",
	"confidence_level",
	"needs_review",
	"ambiguity_level",
	"ambiguity_gap",
	"intelligence_mode",
	"risk_traffic_light",
	"risk_score",
	"egid",
	"egrid",
	"gemeinde",
	"kanton",
	"baujahr",
	"elevation_m",
	"heizung",
	"warmwasser",
	"warnings",
	"risk_reasons",
	"map_link",
	"sources_ok",
}

// csvValue renders a report value as a single CSV cell. Lists join with
// " | ", maps serialize as sorted JSON.
func csvValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if item != "" {
				parts = append(parts, item)
			}
		}
		return strings.Join(parts, " | ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s := utils.AsString(item)
			if s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " | ")
	case map[string]any:
		serialized, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(serialized)
	default:
		return utils.AsString(v)
	}
}

// FlattenReport projects one report onto the flat CSV column set. It reads
// the compact summary only, so degraded error rows flatten the same way as
// full reports.
func FlattenReport(report map[string]any) map[string]string {
	meta := utils.AsMap(report["batch_meta"])
	summary := utils.AsMap(report["summary_compact"])
	conf := utils.AsMap(summary["confidence"])
	executive := utils.AsMap(summary["executive"])
	intel := utils.AsMap(summary["intelligence"])
	risk := utils.AsMap(intel["executive_risk"])
	energie := utils.AsMap(summary["energie"])

	status := utils.AsString(meta["status"])
	if status == "" {
		status = "ok"
	}

	var sourcesOK []string
	sources := utils.AsMap(summary["sources"])
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sourcesOK = append(sourcesOK, fmt.Sprintf("%s:%s", name, utils.AsString(sources[name])))
	}

	values := map[string]any{
		"row":                meta["row"],
		"query":              report["query"],
		"status":             status,
		"error_code":         meta["error_code"],
		"error_type":         meta["error_type"],
		"error":              meta["error"],
		"matched_address":    summary["matched_address"],
		"confidence_score":   conf["score"],
		"confidence_level":   conf["level"],
		"needs_review":       executive["needs_review"],
		"ambiguity_level":    executive["ambiguity_level"],
		"ambiguity_gap":      executive["ambiguity_gap"],
		"intelligence_mode":  intel["mode"],
		"risk_traffic_light": risk["traffic_light"],
		"risk_score":         risk["risk_score"],
		"egid":               summary["egid"],
		"egrid":              summary["egrid"],
		"gemeinde":           summary["gemeinde"],
		"kanton":             summary["kanton"],
		"baujahr":            summary["baujahr"],
		"elevation_m":        summary["elevation_m"],
		"heizung":            energie["heizung"],
		"warmwasser":         energie["warmwasser"],
		"warnings":           executive["warnings"],
		"risk_reasons":       risk["reasons"],
		"map_link":           summary["map"],
		"sources_ok":         strings.Join(sourcesOK, "; "),
	}

	row := make(map[string]string, len(CSVExportFields))
	for _, field := range CSVExportFields {
		row[field] = csvValue(values[field])
	}
	return row
}

// WriteCSV writes flattened rows in CSVExportFields order with a header.
func WriteCSV(path string, rows []map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(CSVExportFields); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	record := make([]string, len(CSVExportFields))
	for _, row := range rows {
		for i, field := range CSVExportFields {
			record[i] = row[field]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return f.Close()
}

// WriteJSONL writes one full report per line.
func WriteJSONL(path string, reports []map[string]any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create jsonl: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	for _, report := range reports {
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("export: write jsonl row: %w", err)
		}
	}
	return f.Close()
}

// WriteXLSX writes flattened rows to a single "Reports" worksheet with a
// frozen header row.
func WriteXLSX(path string, rows []map[string]string) error {
	book := excelize.NewFile()
	defer book.Close()

	const sheet = "Reports"
	index, err := book.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("export: create sheet: %w", err)
	}
	book.SetActiveSheet(index)
	if err := book.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("export: drop default sheet: %w", err)
	}

	header := make([]any, len(CSVExportFields))
	for i, field := range CSVExportFields {
		header[i] = field
	}
	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("export: write xlsx header: %w", err)
	}
	if err := book.SetPanes(sheet, &excelize.Panes{
		Freeze: true, Split: false, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("export: freeze header: %w", err)
	}

	for i, row := range rows {
		record := make([]any, len(CSVExportFields))
		for j, field := range CSVExportFields {
			record[j] = row[field]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("export: cell name: %w", err)
		}
		if err := book.SetSheetRow(sheet, cell, &record); err != nil {
			return fmt.Errorf("export: write xlsx row: %w", err)
		}
	}
	if err := book.SaveAs(path); err != nil {
		return fmt.Errorf("export: save xlsx: %w", err)
	}
	return nil
}

// ClassifyError maps a batch failure to a stable error code column value.
func ClassifyError(err error) string {
	var noMatch *resolver.NoMatchError
	var invalid *resolver.ValidationError
	var external *httpclient.ExternalRequestError
	switch {
	case errors.As(err, &noMatch):
		return "NO_MATCH"
	case errors.As(err, &external):
		return "EXTERNAL_REQUEST"
	case errors.As(err, &invalid):
		return "INPUT"
	default:
		return "UNEXPECTED"
	}
}

func errorType(err error) string {
	var noMatch *resolver.NoMatchError
	var invalid *resolver.ValidationError
	var external *httpclient.ExternalRequestError
	switch {
	case errors.As(err, &noMatch):
		return "NoMatchError"
	case errors.As(err, &external):
		return "ExternalRequestError"
	case errors.As(err, &invalid):
		return "ValidationError"
	default:
		return "RuntimeError"
	}
}

// NormalizeErrorRow builds a degraded report for a failed batch row so error
// rows flatten and export alongside successful ones.
func NormalizeErrorRow(query string, rowNumber int, cause error) map[string]any {
	message := cause.Error()
	return map[string]any{
		"query": query,
		"batch_meta": map[string]any{
			"row":        rowNumber,
			"status":     "error",
			"error_code": ClassifyError(cause),
			"error_type": errorType(cause),
			"error":      message,
		},
		"summary_compact": map[string]any{
			"query":           query,
			"matched_address": nil,
			"confidence":      map[string]any{"score": nil, "max": 100, "level": "low"},
			"egid":            nil,
			"egrid":           nil,
			"gemeinde":        nil,
			"kanton":          nil,
			"baujahr":         nil,
			"elevation_m":     nil,
			"energie":         map[string]any{"heizung": nil, "warmwasser": nil},
			"sources":         map[string]any{},
			"executive": map[string]any{
				"verdict":         "review",
				"needs_review":    true,
				"ambiguity_level": "none",
				"ambiguity_gap":   nil,
				"warnings":        []any{message},
			},
			"intelligence": map[string]any{
				"mode":                   "basic",
				"tenants_businesses":     map[string]any{"status": "error", "count": 0},
				"incidents_timeline":     map[string]any{"status": "error", "events": 0, "relevant_events": 0},
				"environment_noise_risk": map[string]any{"status": "error", "level": "unknown", "score": 0},
				"consistency_checks":     map[string]any{"status": "error", "overall": "unknown", "risk_score": 100},
				"executive_risk": map[string]any{
					"traffic_light": "red",
					"risk_score":    100,
					"summary":       "🔴 Risikoampel: RED (Fehlerfall)",
					"reasons":       []any{message},
				},
			},
			"map": nil,
		},
	}
}
