// Package commands implements the objgraph command line.
package commands

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/objgraph/internal/cli/config"
	"github.com/conduit-lang/objgraph/internal/cli/ui"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	noColor    bool
}

func (g *globalFlags) load() (*config.Config, error) {
	return config.Load(g.configPath)
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "objgraph",
		Short: "Persistent object graph server",
		Long: color.CyanString(`objgraph - persistent object graph server

Serves typed entity graphs over HTTP. Clients fetch trees of entities with
chosen associations inlined and commit batches of creates, updates and
deletes that may reference each other through temporary ids.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor {
				color.NoColor = true
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default ./objgraph.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewServeCommand(flags))
	rootCmd.AddCommand(NewMigrateCommand(flags))
	rootCmd.AddCommand(NewTokenCommand(flags))
	rootCmd.AddCommand(NewHashPasswordCommand(flags))
	rootCmd.AddCommand(NewSchemaCommand(flags))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			titleColor := color.New(color.FgCyan, color.Bold)
			titleColor.Fprint(out, "objgraph version: ")
			fmt.Fprintln(out, Version)
			titleColor.Fprint(out, "Git commit: ")
			fmt.Fprintln(out, GitCommit)
			titleColor.Fprint(out, "Build date: ")
			fmt.Fprintln(out, BuildDate)
			titleColor.Fprint(out, "Go version: ")
			fmt.Fprintln(out, runtime.Version())
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		ui.WriteError(rootCmd.ErrOrStderr(), ui.ErrorOptions{Problem: err.Error(), NoColor: color.NoColor})
		return err
	}
	return nil
}
