package export

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/openclaw/georanking/internal/httpclient"
	"github.com/openclaw/georanking/internal/resolver"
)

func sampleReport() map[string]any {
	return map[string]any{
		"query":      "Wassergasse 24, 9000 St. Gallen",
		"batch_meta": map[string]any{"row": 2, "status": "ok"},
		"summary_compact": map[string]any{
			"matched_address": "Wassergasse 24",
			"confidence":      map[string]any{"score": 91, "max": 100, "level": "high"},
			"egid":            "1234567",
			"egrid":           "CH1234",
			"gemeinde":        "St. Gallen",
			"kanton":          "SG",
			"baujahr":         1992,
			"elevation_m":     671.2,
			"energie":         map[string]any{"heizung": "Wärmepumpe", "warmwasser": "Elektroboiler"},
			"sources":         map[string]any{"geoadmin_gwr": "ok", "geoadmin_search": "ok"},
			"executive": map[string]any{
				"needs_review":    false,
				"ambiguity_level": "none",
				"ambiguity_gap":   12.5,
				"warnings":        []any{},
			},
			"intelligence": map[string]any{
				"mode": "risk",
				"executive_risk": map[string]any{
					"traffic_light": "green",
					"risk_score":    12,
					"reasons":       []any{"Keine auffälligen Risikoindikatoren"},
				},
			},
			"map": "https://map.geo.admin.ch/?E=1&N=2",
		},
	}
}

func TestCSVValue(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{[]any{"a", "", "b"}, "a | b"},
		{[]string{"x", "y"}, "x | y"},
		{map[string]any{"b": 2, "a": 1}, `{"a":1,"b":2}`},
		{42, "42"},
		{true, "true"},
	}
	for _, tc := range cases {
		if got := csvValue(tc.in); got != tc.want {
			t.Errorf("csvValue(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFlattenReport(t *testing.T) {
	row := FlattenReport(sampleReport())

	if row["status"] != "ok" {
		t.Errorf("status = %q", row["status"])
	}
	if row["confidence_score"] != "91" || row["confidence_level"] != "high" {
		t.Errorf("confidence columns = %q / %q", row["confidence_score"], row["confidence_level"])
	}
	if row["risk_traffic_light"] != "green" {
		t.Errorf("risk_traffic_light = %q", row["risk_traffic_light"])
	}
	if row["risk_reasons"] != "Keine auffälligen Risikoindikatoren" {
		t.Errorf("risk_reasons = %q", row["risk_reasons"])
	}
	if row["sources_ok"] != "geoadmin_gwr:ok; geoadmin_search:ok" {
		t.Errorf("sources_ok = %q", row["sources_ok"])
	}
	if row["heizung"] != "Wärmepumpe" {
		t.Errorf("heizung = %q", row["heizung"])
	}
	for _, field := range CSVExportFields {
		if _, ok := row[field]; !ok {
			t.Errorf("column %q missing", field)
		}
	}
}

func TestFlattenErrorRow(t *testing.T) {
	report := NormalizeErrorRow("Nirgendwo 1", 7, &resolver.NoMatchError{Message: "Keine Adresse gefunden für: Nirgendwo 1"})
	row := FlattenReport(report)

	if row["status"] != "error" || row["error_code"] != "NO_MATCH" {
		t.Errorf("error columns = %q / %q", row["status"], row["error_code"])
	}
	if row["row"] != "7" {
		t.Errorf("row = %q", row["row"])
	}
	if row["risk_traffic_light"] != "red" || row["risk_score"] != "100" {
		t.Errorf("degraded risk = %q / %q", row["risk_traffic_light"], row["risk_score"])
	}
	if !strings.Contains(row["warnings"], "Keine Adresse gefunden") {
		t.Errorf("warnings = %q", row["warnings"])
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&resolver.NoMatchError{Message: "x"}, "NO_MATCH"},
		{&httpclient.ExternalRequestError{URL: "https://example.test"}, "EXTERNAL_REQUEST"},
		{&resolver.ValidationError{Message: "x"}, "INPUT"},
		{errors.New("boom"), "UNEXPECTED"},
	}
	for _, tc := range cases {
		if got := ClassifyError(tc.err); got != tc.want {
			t.Errorf("ClassifyError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	rows := FlattenRows([]map[string]any{sampleReport()})
	if err := WriteCSV(path, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want header + 1 row", len(records))
	}
	if records[0][0] != "row" || records[0][1] != "query" {
		t.Errorf("header = %v", records[0][:2])
	}
	if records[1][1] != "Wassergasse 24, 9000 St. Gallen" {
		t.Errorf("query cell = %q", records[1][1])
	}
}

func TestWriteJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	if err := WriteJSONL(path, []map[string]any{sampleReport(), sampleReport()}); err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Errorf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"matched_address":"Wassergasse 24"`) {
		t.Errorf("line 0 = %s", lines[0])
	}
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	rows := FlattenRows([]map[string]any{sampleReport()})
	if err := WriteXLSX(path, rows); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	book, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer book.Close()

	got, err := book.GetCellValue("Reports", "B2")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if got != "Wassergasse 24, 9000 St. Gallen" {
		t.Errorf("B2 = %q", got)
	}
	header, err := book.GetCellValue("Reports", "A1")
	if err != nil || header != "row" {
		t.Errorf("A1 = %q err %v", header, err)
	}
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.csv")
	content := "id,address\n" +
		"1,\"Wassergasse 24, 9000 St. Gallen\"\n" +
		"2,\n" +
		"3,Nirgendwo 99\n" +
		"4,Seestrasse 1, 8002 Zürich\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed csv: %v", err)
	}

	var queries []string
	analyze := func(ctx context.Context, query string) (map[string]any, error) {
		queries = append(queries, query)
		if strings.HasPrefix(query, "Nirgendwo") {
			return nil, &resolver.NoMatchError{Message: "Keine Adresse gefunden für: " + query}
		}
		return map[string]any{"query": query}, nil
	}

	outcome, err := RunBatch(context.Background(), path, "address", analyze)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if outcome.Stats.Processed != 3 || outcome.Stats.OK != 2 || outcome.Stats.Errors != 1 || outcome.Stats.SkippedEmpty != 1 {
		t.Errorf("stats = %+v", outcome.Stats)
	}
	if len(queries) != 3 || queries[2] != "Seestrasse 1, 8002 Zürich" {
		t.Errorf("queries = %v, unquoted commas must rejoin", queries)
	}
	if len(outcome.Rows) != 3 {
		t.Fatalf("rows = %d", len(outcome.Rows))
	}
	meta := outcome.Rows[0]["batch_meta"].(map[string]any)
	if meta["row"] != 2 || meta["status"] != "ok" {
		t.Errorf("first row meta = %v", meta)
	}

	errRows := ErrorRows(outcome.Rows)
	if len(errRows) != 1 {
		t.Fatalf("error rows = %d", len(errRows))
	}
	errMeta := errRows[0]["batch_meta"].(map[string]any)
	if errMeta["row"] != 4 || errMeta["error_code"] != "NO_MATCH" {
		t.Errorf("error meta = %v", errMeta)
	}
}

func TestRunBatchMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.csv")
	os.WriteFile(path, []byte("id,street\n1,x\n"), 0o644)

	_, err := RunBatch(context.Background(), path, "address", func(ctx context.Context, q string) (map[string]any, error) {
		return nil, nil
	})
	if err == nil || !strings.Contains(err.Error(), "nicht gefunden") {
		t.Errorf("err = %v", err)
	}
}
