package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arcs-classroom/motivation-hub/internal/application/command"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
)

func newIngestCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.csv>",
		Short: "Import ARCS results from a CSV file",
		Long: "Imports either the 20-item form (username, dim_a_q1..dim_s_q5) or the\n" +
			"four-score form (username, attention, relevance, confidence, satisfaction).\n" +
			"Unknown usernames are skipped and reported.",
		Args: exactArgs(1, "arcsctl ingest <file.csv>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read csv: %w", err)
			}

			res, err := c.app.Ingest.Handle(cmd.Context(), command.IngestARCSCSVCommand{
				Payload:  payload,
				Filename: filepath.Base(args[0]),
			})
			if err != nil {
				return err
			}

			return c.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "Imported %d of %d rows (%.2f%%), format %s\n", res.Updated, res.Total, res.SuccessRate, res.Format)
				fmt.Fprintf(w, "Digest %s\n", res.Digest)
				if len(res.SkippedUsernames) > 0 {
					fmt.Fprintf(w, "Skipped unknown usernames: %s\n", strings.Join(res.SkippedUsernames, ", "))
				}
				for _, warn := range res.Warnings {
					fmt.Fprintf(w, "warning: %s\n", warn)
				}
				if res.Clustering != nil {
					printClustering(w, res.Clustering)
				}
				if res.ClusteringNote != "" {
					fmt.Fprintf(w, "Clustering: %s\n", res.ClusteringNote)
				}
			})
		},
	}
}

func newReclusterCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "recluster",
		Short: "Re-run K-Means over every stored profile",
		Args:  exactArgs(0, "arcsctl recluster"),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.Recluster.Handle(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				printClustering(w, res)
			})
		},
	}
}

func printClustering(w io.Writer, r *command.ReclusterAllResult) {
	fmt.Fprintf(w, "Clustered %d profiles: %s %d, %s %d, %s %d",
		r.Total, motivation.LevelLow, r.Low, motivation.LevelMedium, r.Medium, motivation.LevelHigh, r.High)
	if r.Excluded > 0 {
		fmt.Fprintf(w, " (%d excluded)", r.Excluded)
	}
	fmt.Fprintf(w, "\nRun %s, inertia %.4f\n", r.RunID, r.Inertia)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER
// ══════════════════════════════════════════════════════════════════════════════

func newAddStudentCmd(c *cli) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add-student <id> <username>",
		Short: "Create or rename a student",
		Args:  exactArgs(2, "arcsctl add-student <id> <username>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := motivation.Student{ID: args[0], Username: args[1], DisplayName: name}
			if err := c.app.Store.AddStudent(cmd.Context(), st); err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), st, func(w io.Writer) {
				fmt.Fprintf(w, "Student %s (%s) saved\n", st.ID, st.Username)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	return cmd
}

func newAddMaterialCmd(c *cli) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "add-material <id>",
		Short: "Create a material or update its title",
		Args:  exactArgs(1, "arcsctl add-material <id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Store.AddMaterial(cmd.Context(), args[0], title); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Material %s saved\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Material title")
	return cmd
}

func newEnrollCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll <material> <student>...",
		Short: "Add students to the cohort of a material",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Store.Enroll(cmd.Context(), args[0], args[1:]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %d students in %s\n", len(args)-1, args[0])
			return nil
		},
	}
}
