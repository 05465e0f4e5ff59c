package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/futhark-host/manifest"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect MANIFEST",
		Short: "List the entry points and types of a compiled program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			styled := isTerminal(os.Stdout)
			return writeInspect(cmd.OutOrStdout(), m, styled)
		},
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func writeInspect(w io.Writer, m *manifest.Manifest, styled bool) error {
	render := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s)\n\n", render(titleStyle, "Futhark program"), m.Version, m.Backend)

	b.WriteString("Entry points:\n")
	for _, name := range m.EntryNames() {
		e := m.EntryPoints[name]
		fmt.Fprintf(&b, "  %s\n", render(funcStyle, e.Signature(name)))
		if len(e.TuningParams) > 0 {
			fmt.Fprintf(&b, "    tuning: %s\n", strings.Join(e.TuningParams, ", "))
		}
	}

	if names := m.TypeNames(); len(names) > 0 {
		b.WriteString("\nTypes:\n")
		for _, name := range names {
			t := m.Types[name]
			fmt.Fprintf(&b, "  %s  %s\n", render(typeStyle, name), render(helpStyle, string(t.Kind)))
			if t.Record != nil {
				for _, f := range t.Record.Fields {
					fmt.Fprintf(&b, "    .%s: %s\n", f.Name, f.Type)
				}
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
