// Package report renders group reports. The bundled renderer writes plain
// text; PDF output is produced by an external service behind the same
// query.ReportRenderer interface.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/arcs-classroom/motivation-hub/internal/application/query"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/pkg/timeutil"
)

// TextRenderer formats a report as fixed-width UTF-8 text.
type TextRenderer struct {
	// Width of the horizontal rules.
	Width int
	// Location for the generation timestamp. Nil means UTC.
	Location *time.Location
}

// NewTextRenderer creates a TextRenderer with 72-column rules.
func NewTextRenderer(loc *time.Location) *TextRenderer {
	return &TextRenderer{Width: 72, Location: loc}
}

// ContentType implements query.ReportRenderer.
func (r *TextRenderer) ContentType() string { return "text/plain; charset=utf-8" }

// Extension implements query.ReportRenderer.
func (r *TextRenderer) Extension() string { return "txt" }

// Render implements query.ReportRenderer.
func (r *TextRenderer) Render(rep query.GroupReport) ([]byte, error) {
	width := r.Width
	if width <= 0 {
		width = 72
	}
	heavy := strings.Repeat("═", width)
	light := strings.Repeat("─", width)

	var sb strings.Builder

	// ─────────────────────────────────────────────────────────────────────────
	// Header
	// ─────────────────────────────────────────────────────────────────────────

	sb.WriteString(heavy + "\n")
	fmt.Fprintf(&sb, "LEARNING GROUPS · material %s\n", rep.MaterialID)
	fmt.Fprintf(&sb, "Generated %s · priority %s\n", timeutil.FormatDisplay(rep.GeneratedAt, r.Location), rep.Priority)
	sb.WriteString(heavy + "\n\n")

	// ─────────────────────────────────────────────────────────────────────────
	// Quality summary
	// ─────────────────────────────────────────────────────────────────────────

	q := rep.Quality
	fmt.Fprintf(&sb, "Quality: %s\n", q.Message())
	fmt.Fprintf(&sb, "  diversity     %.3f\n", q.Objectives.Diversity)
	fmt.Fprintf(&sb, "  size balance  %.3f   (size cv %.3f)\n", q.Objectives.SizeBalance, q.SizeCV)
	fmt.Fprintf(&sb, "  distribution  %.3f   (L1 to class %.3f)\n", q.Objectives.Distribution, q.DistributionL1)
	sb.WriteString("\n")

	// ─────────────────────────────────────────────────────────────────────────
	// Groups
	// ─────────────────────────────────────────────────────────────────────────

	for i, g := range rep.Groups {
		sb.WriteString(light + "\n")
		fmt.Fprintf(&sb, "%s  [%s]  %d members", g.Name, g.Code, len(g.Members))
		if i < len(q.Groups) {
			fmt.Fprintf(&sb, " · %d levels · entropy %.2f", q.Groups[i].UniqueLevels, q.Groups[i].LevelEntropy)
		}
		sb.WriteString("\n")
		sb.WriteString(light + "\n")

		for _, m := range g.Members {
			fmt.Fprintf(&sb, "  %-40s %s\n", m.StudentID, levelLabel(m.Level))
		}
		sb.WriteString("\n")
	}

	return []byte(sb.String()), nil
}

func levelLabel(l motivation.Level) string {
	if l.Bucket() == motivation.LevelUnanalyzed {
		return "unanalyzed"
	}
	return string(l)
}
