package motivation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

func dimensionHeader() string {
	cols := []string{"username"}
	for _, d := range Dimensions {
		for q := 1; q <= QuestionsPerDimension; q++ {
			cols = append(cols, dimensionColumn(d, q))
		}
	}
	return strings.Join(cols, ",")
}

func dimensionLine(username string, a, r, c, s [5]int) string {
	parts := []string{username}
	for _, vals := range [][5]int{a, r, c, s} {
		for _, v := range vals {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, ",")
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		format  Format
		ok      bool
	}{
		{"direct", []string{"username", "attention", "relevance", "confidence", "satisfaction"}, FormatDirect, true},
		{"direct mixed case with spaces", []string{" Username ", "Attention", "RELEVANCE", "confidence ", "satisfaction"}, FormatDirect, true},
		{"dimension", strings.Split(dimensionHeader(), ","), FormatDimension, true},
		{"both complete prefers dimension", append(strings.Split(dimensionHeader(), ","), directColumns...), FormatDimension, true},
		{"bom on first column", []string{"\ufeffusername", "attention", "relevance", "confidence", "satisfaction"}, FormatDirect, true},
		{"missing username", []string{"attention", "relevance", "confidence", "satisfaction"}, "", false},
		{"incomplete direct", []string{"username", "attention", "relevance"}, "", false},
		{"incomplete dimension", []string{"username", "dim_a_q1", "dim_a_q2"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, ok, msg := ValidateHeader(tt.columns)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.format, format)
			if !ok {
				assert.NotEmpty(t, msg)
			}
		})
	}
}

func TestParseARCSCSV_DimensionForm(t *testing.T) {
	input := strings.Join([]string{
		dimensionHeader(),
		dimensionLine("alice", [5]int{5, 4, 5, 4, 5}, [5]int{3, 3, 3, 3, 3}, [5]int{1, 2, 3, 4, 5}, [5]int{2, 2, 2, 2, 2}),
		dimensionLine("bob", [5]int{1, 1, 1, 1, 1}, [5]int{5, 5, 5, 5, 5}, [5]int{2, 2, 2, 2, 2}, [5]int{4, 4, 4, 4, 4}),
	}, "\n")

	report, err := ParseARCSCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, FormatDimension, report.Format)
	require.Len(t, report.Rows, 2)
	assert.Empty(t, report.Warnings)

	alice := report.Rows[0]
	assert.Equal(t, "alice", alice.Username)
	assert.Equal(t, 2, alice.Line)
	assert.InDelta(t, 4.6, alice.Scores.Attention, 1e-9)
	assert.InDelta(t, 3.0, alice.Scores.Relevance, 1e-9)
	assert.InDelta(t, 3.0, alice.Scores.Confidence, 1e-9)
	assert.InDelta(t, 2.0, alice.Scores.Satisfaction, 1e-9)

	assert.Equal(t, []string{"alice", "bob"}, report.Usernames())
}

func TestParseARCSCSV_DirectForm(t *testing.T) {
	input := "username,attention,relevance,confidence,satisfaction\n" +
		"alice,4.2,3.8,4.0,3.6\n" +
		"bob,6.5,1,2,3\n" +
		"carol,0.5,2,2,2\n"

	report, err := ParseARCSCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, FormatDirect, report.Format)
	require.Len(t, report.Rows, 3)
	assert.Equal(t, Scores{Attention: 4.2, Relevance: 3.8, Confidence: 4.0, Satisfaction: 3.6}, report.Rows[0].Scores)

	// 6.5 fits the 7-point range; 0.5 does not and is kept unclamped.
	assert.Equal(t, 6.5, report.Rows[1].Scores.Attention)
	assert.Equal(t, 0.5, report.Rows[2].Scores.Attention)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "carol")
}

func TestParseARCSCSV_OutOfRangeDimensionWarns(t *testing.T) {
	input := dimensionHeader() + "\n" +
		dimensionLine("alice", [5]int{9, 4, 5, 4, 5}, [5]int{3, 3, 3, 3, 3}, [5]int{3, 3, 3, 3, 3}, [5]int{3, 3, 3, 3, 3})

	report, err := ParseARCSCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "dim_a_q1=9")
	assert.InDelta(t, 5.4, report.Rows[0].Scores.Attention, 1e-9)
}

func TestParseARCSCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty file", ""},
		{"header only", "username,attention,relevance,confidence,satisfaction\n"},
		{"missing username column", "name,attention,relevance,confidence,satisfaction\nalice,1,2,3,4\n"},
		{"missing columns", "username,attention,relevance\nalice,1,2\n"},
		{"non numeric", "username,attention,relevance,confidence,satisfaction\nalice,high,2,3,4\n"},
		{"empty cell", "username,attention,relevance,confidence,satisfaction\nalice,,2,3,4\n"},
		{"duplicate username", "username,attention,relevance,confidence,satisfaction\nalice,1,2,3,4\nalice,2,2,2,2\n"},
		{"empty username", "username,attention,relevance,confidence,satisfaction\n,1,2,3,4\n"},
		{"ragged row", "username,attention,relevance,confidence,satisfaction\nalice,1,2,3\n"},
		{"fractional answer", dimensionHeader() + "\nalice" + strings.Repeat(",2.5", 20) + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := ParseARCSCSV(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Nil(t, report)
			assert.ErrorIs(t, err, shared.ErrFormat)
			assert.Equal(t, "format_error", shared.KindOf(err))
		})
	}
}
