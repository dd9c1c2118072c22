// Package ui formats command line output.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Context      string
	Problem      string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError renders an error with optional suggestions and help commands:
//
//	❌ UNKNOWN TYPE: Entyr
//
//	   Did you mean: Entry?
//
//	   → List types: objgraph schema
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	red := newColor(opts.NoColor, color.FgRed, color.Bold)
	if opts.Context != "" {
		red.Fprintf(&b, "❌ %s: %s\n", strings.ToUpper(opts.Context), opts.Problem)
	} else {
		red.Fprintf(&b, "❌ %s\n", opts.Problem)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		newColor(opts.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := newColor(opts.NoColor, color.FgCyan)
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}
	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// WriteSuccess writes a success line to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	newColor(noColor, color.FgGreen, color.Bold).Fprintf(w, "✓ %s\n", message)
}

// WriteInfo writes an informational line to the writer
func WriteInfo(w io.Writer, message string, noColor bool) {
	newColor(noColor, color.FgCyan).Fprintln(w, message)
}

func newColor(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}
