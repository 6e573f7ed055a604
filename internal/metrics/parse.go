package metrics

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var ErrUnknownCategory = errors.New("unknown metric category")

// Metric categories and the tools that produce them.
const (
	CategoryHsMetrics     = "hs_metrics"    // Picard CollectHsMetrics
	CategoryDuplication   = "duplication"   // Picard MarkDuplicates
	CategoryInsert        = "insert"        // Picard CollectInsertSizeMetrics
	CategoryAlignment     = "alignment"     // Picard CollectAlignmentSummaryMetrics, one record per category row
	CategoryContamination = "contamination" // VerifyBamID .selfSM
	CategoryQC            = "qc"            // two-row pipeline QC table
	CategoryDepthSummary  = "depth_summary" // GATK DepthOfCoverage sample summary
	CategoryFastQC        = "fastqc"        // FastQC summary.txt, one record per file
	CategoryInterop       = "interop"       // Illumina InterOp summary CSV export, one record per read and lane
)

var categories = map[string]func(io.Reader) ([]Record, error){
	CategoryHsMetrics:     func(r io.Reader) ([]Record, error) { return parsePicard(r, 1, nil) },
	CategoryDuplication:   func(r io.Reader) ([]Record, error) { return parsePicard(r, 1, nil) },
	CategoryInsert:        func(r io.Reader) ([]Record, error) { return parsePicard(r, 1, picardIdentityColumns) },
	CategoryAlignment:     func(r io.Reader) ([]Record, error) { return parsePicard(r, 0, picardIdentityColumns) },
	CategoryContamination: parseSelfSM,
	CategoryQC:            parseTwoRow,
	CategoryDepthSummary:  parseDepthSummary,
	CategoryFastQC:        parseFastQC,
	CategoryInterop:       parseInterop,
}

// Categories lists every category Parse understands, sorted.
func Categories() []string {
	out := make([]string, 0, len(categories))
	for name := range categories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func IsKnownCategory(category string) bool {
	_, ok := categories[category]
	return ok
}

// Parse reads one metric file. Keys are lowercased with spaces and dashes
// folded to underscores, '%' spelled "pct" and '#' spelled "num_".
func Parse(category string, r io.Reader) ([]Record, error) {
	parse, ok := categories[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	records, err := parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", category, err)
	}
	return records, nil
}

var picardIdentityColumns = map[string]bool{"read_group": true, "sample": true, "library": true}

var selfSMDropped = map[string]bool{
	"num_seq_id": true, "rg": true, "chip_id": true, "free_rh": true, "free_ra": true,
	"chipmix": true, "chiplk1": true, "chiplk0": true, "chip_rh": true, "chip_ra": true,
	"dpref": true, "rdphet": true, "rdpalt": true,
}

func tsvRows(r io.Reader) ([][]string, error) {
	var rows [][]string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			rows = append(rows, nil)
			continue
		}
		rows = append(rows, strings.Split(line, "\t"))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func zipRecord(keys, values []string, drop map[string]bool) Record {
	rec := make(Record, len(keys))
	for i, key := range keys {
		if i >= len(values) {
			break
		}
		k := normalizeKey(key)
		if k == "" || drop[k] {
			continue
		}
		rec[k] = ParseValue(values[i])
	}
	return rec
}

// parsePicard reads the table that follows the "## METRICS CLASS" line.
// limit caps the number of data rows; 0 reads until the first blank line.
func parsePicard(r io.Reader, limit int, drop map[string]bool) ([]Record, error) {
	rows, err := tsvRows(r)
	if err != nil {
		return nil, err
	}
	start := -1
	for i, row := range rows {
		if len(row) > 0 && strings.TrimSpace(row[0]) == "## METRICS CLASS" {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil, errors.New(`missing "## METRICS CLASS" section`)
	}
	for start < len(rows) && rows[start] == nil {
		start++
	}
	if start >= len(rows) {
		return nil, errors.New("metrics section has no header")
	}
	keys := rows[start]

	var out []Record
	for _, row := range rows[start+1:] {
		if row == nil {
			if len(out) > 0 {
				break
			}
			continue
		}
		out = append(out, zipRecord(keys, row, drop))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, errors.New("metrics section has no values")
	}
	return out, nil
}

func parseSelfSM(r io.Reader) ([]Record, error) {
	rows, err := nonBlank(r)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.New("expected a header and a value row")
	}
	return []Record{zipRecord(rows[0], rows[1], selfSMDropped)}, nil
}

func parseTwoRow(r io.Reader) ([]Record, error) {
	rows, err := nonBlank(r)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.New("expected a header and a value row")
	}
	return []Record{zipRecord(rows[0], rows[1], nil)}, nil
}

// parseDepthSummary keeps the last sample row; the "Total" row is skipped.
func parseDepthSummary(r io.Reader) ([]Record, error) {
	rows, err := nonBlank(r)
	if err != nil {
		return nil, err
	}
	var keys, values []string
	for _, row := range rows {
		switch strings.TrimSpace(row[0]) {
		case "sample_id":
			keys = row
		case "Total":
		default:
			values = row
		}
	}
	if keys == nil {
		return nil, errors.New("missing sample_id header")
	}
	if values == nil {
		return nil, errors.New("no sample row")
	}
	return []Record{zipRecord(keys, values, nil)}, nil
}

// parseFastQC reads summary.txt: RESULT, module name, file name.
func parseFastQC(r io.Reader) ([]Record, error) {
	rows, err := nonBlank(r)
	if err != nil {
		return nil, err
	}
	rec := Record{}
	for i, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("line %d: expected 3 columns, got %d", i+1, len(row))
		}
		rec[normalizeKey(row[1])] = ParseValue(row[0])
		rec["file"] = ParseValue(row[2])
	}
	if len(rec) == 0 {
		return nil, nil
	}
	return []Record{rec}, nil
}

func parseInterop(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) != len(header) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected %d columns, got %d", line, len(header), len(row))
		}
		out = append(out, zipRecord(header, row, nil))
	}
	return out, nil
}

func nonBlank(r io.Reader) ([][]string, error) {
	rows, err := tsvRows(r)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		if row != nil {
			out = append(out, row)
		}
	}
	return out, nil
}
