package commands

import (
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/objgraph/internal/cli/config"
	"github.com/conduit-lang/objgraph/internal/cli/ui"
	"github.com/conduit-lang/objgraph/internal/orm/sqlstore"
)

// confirmFunc asks the user to approve applying statements
type confirmFunc func(message string) (bool, error)

func surveyConfirm(message string) (bool, error) {
	ok := false
	err := survey.AskOne(&survey.Confirm{Message: message, Default: false}, &ok)
	return ok, err
}

// NewMigrateCommand creates the migrate command
func NewMigrateCommand(flags *globalFlags) *cobra.Command {
	return newMigrateCommand(flags, surveyConfirm)
}

func newMigrateCommand(flags *globalFlags, confirm confirmFunc) *cobra.Command {
	var (
		yes     bool
		dryRun  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables for the configured schema",
		Long: `Create every missing table for the configured schema.

Tables are created in insertion order so that foreign keys always point
at tables that already exist. Existing tables are left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Database.Driver == config.DriverMemory {
				return fmt.Errorf("migrate needs a SQL database; set database.driver")
			}

			meta, _, err := loadSchema(cfg.Schema)
			if err != nil {
				return err
			}
			dialect, err := sqlstore.DialectFor(cfg.Database.Driver)
			if err != nil {
				return err
			}
			stmts := sqlstore.GenerateDDL(meta, dialect)

			out := cmd.OutOrStdout()
			if dryRun || verbose {
				for _, stmt := range stmts {
					fmt.Fprintln(out, stmt)
				}
			}
			if dryRun {
				return nil
			}

			if !yes {
				ok, err := confirm(fmt.Sprintf("Apply %d statements to %s?", len(stmts), cfg.Database.Driver))
				if err != nil {
					return err
				}
				if !ok {
					ui.WriteInfo(out, "Migration cancelled", flags.noColor)
					return nil
				}
			}

			db, dialect, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqlstore.Migrate(cmd.Context(), db, meta, dialect); err != nil {
				ui.WriteError(cmd.ErrOrStderr(), ui.ErrorOptions{
					Context:      "migration failed",
					Problem:      err.Error(),
					HelpCommands: []string{"Preview statements: objgraph migrate --dry-run"},
					NoColor:      flags.noColor,
				})
				return fmt.Errorf("migration failed")
			}

			names := make([]string, 0, len(meta.Types()))
			for _, t := range meta.Types() {
				names = append(names, t.Name)
			}
			ui.WriteSuccess(out, fmt.Sprintf("Schema applied (%s)", strings.Join(names, ", ")), flags.noColor)
			if verbose {
				color.New(color.FgHiBlack).Fprintf(out, "%d statements executed\n", len(stmts))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "apply without asking for confirmation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the statements without applying them")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print statements while applying")
	return cmd
}
