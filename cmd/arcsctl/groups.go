package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcs-classroom/motivation-hub/internal/application/command"
	"github.com/arcs-classroom/motivation-hub/internal/application/query"
	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/pkg/timeutil"
)

func newAnalyzeCmd(c *cli) *cobra.Command {
	var (
		k             int
		maxUnanalyzed int
	)
	cmd := &cobra.Command{
		Use:   "analyze <material>",
		Short: "Validate a cohort and recommend a formation priority",
		Args:  exactArgs(1, "arcsctl analyze <material>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := query.AnalyzeClassQuery{MaterialID: args[0], K: k}
			if cmd.Flags().Changed("max-unanalyzed") {
				q.MaxUnanalyzed = &maxUnanalyzed
			}

			res, err := c.app.Analyze.Handle(cmd.Context(), q)
			if err != nil {
				return err
			}

			return c.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				a := res.ClassAnalysis
				fmt.Fprintf(w, "Material %s: %d students, %d groups (avg %.1f)\n", res.MaterialID, a.CohortSize, a.GroupCount, a.AvgGroupSize)
				fmt.Fprintf(w, "Distribution: %s\n", formatDistribution(a.Distribution))
				fmt.Fprintf(w, "Composition %s, entropy ratio %.2f\n", a.Composition, a.EntropyRatio)
				fmt.Fprintf(w, "Valid: %t (%s)\n", res.Validation.IsValid, res.Validation.Message)
				fmt.Fprintf(w, "Recommended priority: %s\n  %s\n", res.Recommendation.Priority, res.Recommendation.Rationale)
			})
		},
	}
	cmd.Flags().IntVar(&k, "k", 0, "Planned group count (0 = ceil(N/5))")
	cmd.Flags().IntVar(&maxUnanalyzed, "max-unanalyzed", 0, "Members allowed without a level (-1 = unlimited)")
	return cmd
}

func newFormCmd(c *cli) *cobra.Command {
	var (
		fc            command.FormGroupsCommand
		maxUnanalyzed int
	)
	cmd := &cobra.Command{
		Use:   "form <material>",
		Short: "Form learning groups for a material",
		Args:  exactArgs(1, "arcsctl form <material>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc.MaterialID = args[0]
			if cmd.Flags().Changed("max-unanalyzed") {
				fc.MaxUnanalyzed = &maxUnanalyzed
			}

			start := time.Now()
			res, err := c.app.Form.Handle(cmd.Context(), fc)
			if err != nil {
				return err
			}
			elapsed := timeutil.FormatElapsed(timeutil.Since(start))

			return c.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "Formed %d %s groups for %s (priority %s) in %s\n", res.K, res.Mode, res.MaterialID, res.Priority, elapsed)
				for _, warn := range res.Warnings {
					fmt.Fprintf(w, "warning: %s\n", warn)
				}
				if res.AdaptiveInfo != nil {
					fmt.Fprintf(w, "Adaptive: %s\n", res.AdaptiveInfo.Rationale)
				}
				fmt.Fprintf(w, "Quality: %s\n", res.QualityMessage)
				printGroups(w, res.Groups)
			})
		},
	}

	f := cmd.Flags()
	f.IntVar(&fc.K, "k", 0, "Number of groups (0 = ceil(N/5))")
	f.StringVar(&fc.Mode, "mode", string(grouping.ModeHeterogeneous), "Formation mode: homogen or heterogen")
	f.StringVar(&fc.Priority, "priority", string(grouping.PriorityBalanced), "Fitness priority: balanced, diversity, size or distribution")
	f.BoolVar(&fc.UseAdaptive, "adaptive", false, "Use the analyzer's recommended priority")
	f.BoolVar(&fc.ForceOverwrite, "force", false, "Replace existing groups")
	f.BoolVar(&fc.AutoAdjustK, "auto-adjust-k", false, "Clamp k to the cohort size instead of failing")
	f.IntVar(&maxUnanalyzed, "max-unanalyzed", 0, "Members allowed without a level (-1 = unlimited)")
	return cmd
}

func newGroupsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "groups <material>",
		Short: "Show the stored groups of a material",
		Args:  exactArgs(1, "arcsctl groups <material>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.GetGroups.Handle(cmd.Context(), query.GetGroupsQuery{MaterialID: args[0]})
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				if res.GroupCount == 0 {
					fmt.Fprintf(w, "No groups for %s\n", res.MaterialID)
					return
				}
				fmt.Fprintf(w, "%d groups, %d students\n", res.GroupCount, res.Students)
				printGroups(w, res.Groups)
			})
		},
	}
}

func newReportCmd(c *cli) *cobra.Command {
	var (
		output   string
		priority string
	)
	cmd := &cobra.Command{
		Use:   "report <material>",
		Short: "Render the group report of a material",
		Args:  exactArgs(1, "arcsctl report <material>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := c.app.Export.Handle(cmd.Context(), query.ExportGroupReportQuery{
				MaterialID: args[0],
				Priority:   priority,
			})
			if err != nil {
				return err
			}

			if output == "" {
				_, err = cmd.OutOrStdout().Write(doc.Content)
				return err
			}
			if err := os.WriteFile(output, doc.Content, 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s (%d bytes)\n", output, len(doc.Content))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority weighting the quality section")
	return cmd
}

func printGroups(w io.Writer, groups []grouping.Group) {
	for _, g := range groups {
		fmt.Fprintf(w, "\n%s [%s] %d members\n", g.Name, g.Code, len(g.Members))
		for _, m := range g.Members {
			level := string(m.Level)
			if !m.Level.IsAssigned() {
				level = "unanalyzed"
			}
			fmt.Fprintf(w, "  %-36s %s\n", m.StudentID, level)
		}
	}
}

func formatDistribution(d map[motivation.Level]int) string {
	parts := make([]string, 0, len(motivation.Levels)+1)
	for _, l := range motivation.Levels {
		parts = append(parts, fmt.Sprintf("%s %d", l, d[l]))
	}
	parts = append(parts, fmt.Sprintf("unanalyzed %d", d[motivation.LevelUnanalyzed]))
	return strings.Join(parts, ", ")
}
