package motivation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

// Format is the detected CSV layout.
type Format string

const (
	// FormatDimension - 20 answer columns dim_{a|r|c|s}_q{1..5}.
	FormatDimension Format = "dimension"
	// FormatDirect - four precomputed score columns.
	FormatDirect Format = "direct"
)

// Value ranges reported as warnings when exceeded. Values are never clamped.
const (
	DimensionValueMin = 1.0
	DimensionValueMax = 5.0
	DirectValueMin    = 1.0
	DirectValueMax    = 7.0
)

// UsernameColumn is the identity column of both layouts.
const UsernameColumn = "username"

var directColumns = []string{"attention", "relevance", "confidence", "satisfaction"}

// dimensionColumn returns the header name of one answer column.
func dimensionColumn(d Dimension, q int) string {
	return fmt.Sprintf("dim_%s_q%d", strings.ToLower(string(d)), q)
}

// ARCSRow is one validated CSV record.
type ARCSRow struct {
	Line     int
	Username string
	Scores   Scores
}

// ParseReport is the outcome of a successful parse.
type ParseReport struct {
	Format   Format
	Rows     []ARCSRow
	Warnings []string
}

// Usernames returns the usernames of all rows in file order.
func (r *ParseReport) Usernames() []string {
	out := make([]string, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.Username
	}
	return out
}

// normalizeHeader trims names, lower-cases them and strips a UTF-8 BOM.
func normalizeHeader(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		if i == 0 {
			c = strings.TrimPrefix(c, "\ufeff")
		}
		out[i] = strings.ToLower(strings.TrimSpace(c))
	}
	return out
}

// ValidateHeader detects the layout from column presence. The dimension
// form wins when both column sets are complete.
func ValidateHeader(columns []string) (Format, bool, string) {
	index := make(map[string]bool, len(columns))
	for _, c := range normalizeHeader(columns) {
		index[c] = true
	}

	if !index[UsernameColumn] {
		return "", false, "missing required column \"username\""
	}

	var missingDim []string
	for _, d := range Dimensions {
		for q := 1; q <= QuestionsPerDimension; q++ {
			if name := dimensionColumn(d, q); !index[name] {
				missingDim = append(missingDim, name)
			}
		}
	}
	if len(missingDim) == 0 {
		return FormatDimension, true, ""
	}

	var missingDirect []string
	for _, name := range directColumns {
		if !index[name] {
			missingDirect = append(missingDirect, name)
		}
	}
	if len(missingDirect) == 0 {
		return FormatDirect, true, ""
	}

	return "", false, fmt.Sprintf(
		"neither layout is complete: dimension form misses %d of 20 columns, direct form misses %s",
		len(missingDim), strings.Join(missingDirect, ", "))
}

// ParseARCSCSV reads and validates a whole CSV document. Nothing is
// returned unless every row is valid.
func ParseARCSCSV(r io.Reader) (*ParseReport, error) {
	const op = "ParseARCSCSV"
	formatErr := func(format string, args ...any) error {
		return shared.Errorf("motivation", op, shared.ErrFormat, format, args...)
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, formatErr("file is empty")
	}
	if err != nil {
		return nil, shared.WrapError("motivation", op, shared.ErrFormat, "cannot read header", err)
	}

	format, ok, msg := ValidateHeader(header)
	if !ok {
		return nil, formatErr("%s", msg)
	}

	cols := normalizeHeader(header)
	pos := make(map[string]int, len(cols))
	for i, c := range cols {
		if _, dup := pos[c]; !dup {
			pos[c] = i
		}
	}

	report := &ParseReport{Format: format}
	seen := make(map[string]int)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, shared.WrapError("motivation", op, shared.ErrFormat, "malformed record", err)
		}
		line, _ := reader.FieldPos(0)

		username := strings.TrimSpace(record[pos[UsernameColumn]])
		if username == "" {
			return nil, formatErr("line %d: empty username", line)
		}
		if first, dup := seen[username]; dup {
			return nil, formatErr("line %d: duplicate username %q (first on line %d)", line, username, first)
		}
		seen[username] = line

		cell := func(name string) (float64, error) {
			raw := strings.TrimSpace(record[pos[name]])
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, formatErr("line %d: column %s is not numeric: %q", line, name, raw)
			}
			return v, nil
		}

		var (
			scores   Scores
			outliers []string
		)
		switch format {
		case FormatDimension:
			vec := make([]float64, 0, len(Dimensions))
			for _, d := range Dimensions {
				sum := 0.0
				for q := 1; q <= QuestionsPerDimension; q++ {
					name := dimensionColumn(d, q)
					v, err := cell(name)
					if err != nil {
						return nil, err
					}
					if v != math.Trunc(v) {
						return nil, formatErr("line %d: column %s must be an integer answer, got %v", line, name, v)
					}
					if v < DimensionValueMin || v > DimensionValueMax {
						outliers = append(outliers, fmt.Sprintf("%s=%v", name, v))
					}
					sum += v
				}
				vec = append(vec, sum/QuestionsPerDimension)
			}
			scores, _ = ScoresFromVector(vec)

		case FormatDirect:
			vec := make([]float64, 0, len(directColumns))
			for _, name := range directColumns {
				v, err := cell(name)
				if err != nil {
					return nil, err
				}
				if v < DirectValueMin || v > DirectValueMax {
					outliers = append(outliers, fmt.Sprintf("%s=%v", name, v))
				}
				vec = append(vec, v)
			}
			scores, _ = ScoresFromVector(vec)
		}

		if len(outliers) > 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"line %d (%s): out-of-range values kept: %s", line, username, strings.Join(outliers, ", ")))
		}
		report.Rows = append(report.Rows, ARCSRow{Line: line, Username: username, Scores: scores})
	}

	if len(report.Rows) == 0 {
		return nil, formatErr("file has a header but no data rows")
	}
	return report, nil
}
