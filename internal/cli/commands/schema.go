package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/objgraph/internal/cli/ui"
)

// NewSchemaCommand creates the schema command
func NewSchemaCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [type]",
		Short: "Show entity types in insertion order, or the fields of one type",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			meta, _, err := loadSchema(cfg.Schema)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				tbl := ui.NewTable(out, flags.noColor, "RANK", "TYPE", "TABLE")
				for _, t := range meta.InsertionOrder() {
					tbl.AddRow(fmt.Sprint(meta.Rank(t.Name)), t.Name, t.Table)
				}
				tbl.Render()
				return nil
			}

			def, ok := meta.Definition(args[0])
			if !ok {
				names := make([]string, 0, len(meta.Types()))
				for _, t := range meta.Types() {
					names = append(names, t.Name)
				}
				ui.WriteError(cmd.ErrOrStderr(), ui.ErrorOptions{
					Context:      "unknown type",
					Problem:      args[0],
					Suggestions:  ui.FindSimilar(args[0], names),
					HelpCommands: []string{"List types: objgraph schema"},
					NoColor:      flags.noColor,
				})
				return fmt.Errorf("unknown entity type %s", args[0])
			}

			fields := make([]string, 0, len(def))
			for f := range def {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			tbl := ui.NewTable(out, flags.noColor, "FIELD", "TYPE")
			for _, f := range fields {
				tbl.AddRow(f, def[f])
			}
			tbl.Render()
			return nil
		},
	}
}
