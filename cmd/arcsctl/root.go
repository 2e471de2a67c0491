package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/app"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

// cli carries the state shared by all subcommands of one invocation.
type cli struct {
	app      *app.App
	jsonOut  bool
	logLevel string
}

// newRootCmd builds the command tree. The returned func releases the
// application opened by the invoked subcommand, whether it failed or not.
func newRootCmd() (*cobra.Command, func()) {
	c := &cli{}

	root := &cobra.Command{
		Use:          "arcsctl",
		Short:        "ARCS motivation profiling and learning group formation",
		Long:         "arcsctl imports ARCS questionnaire results, clusters students into motivation levels and forms learning groups per material.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("driver", "", "Profile Store driver: postgres, sqlite or memory (overrides DB_DRIVER)")
	pf.String("db", "", "Path to the SQLite database file (overrides SQLITE_PATH)")
	pf.String("database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	pf.StringVar(&c.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	pf.BoolVar(&c.jsonOut, "json", false, "Print results as JSON")

	root.AddCommand(
		newIngestCmd(c),
		newReclusterCmd(c),
		newAnalyzeCmd(c),
		newFormCmd(c),
		newGroupsCmd(c),
		newReportCmd(c),
		newAddStudentCmd(c),
		newAddMaterialCmd(c),
		newEnrollCmd(c),
	)
	return root, c.close
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

// open loads the configuration, applies flag overrides and wires the app.
func (c *cli) open(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("database-url"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Driver = config.DriverPostgres
	}
	if v, _ := flags.GetString("db"); v != "" {
		cfg.Database.SQLitePath = v
		cfg.Database.Driver = config.DriverSQLite
	}
	if v, _ := flags.GetString("driver"); v != "" {
		cfg.Database.Driver = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(logger.Options{
		Output: cmd.ErrOrStderr(),
		Format: logger.FormatText,
		Level:  logger.ParseLevel(c.logLevel),
	})

	c.app, err = app.New(cmd.Context(), cfg, log)
	return err
}

// print writes v as indented JSON when --json is set, else calls text.
func (c *cli) print(w io.Writer, v any, text func(io.Writer)) error {
	if c.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}
}
