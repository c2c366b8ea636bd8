package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/stridesync/internal/cli"
	"github.com/leapstack-labs/stridesync/internal/cli/config"
)

// documented returns the user-facing subcommands of root.
func documented(root *cobra.Command) []*cobra.Command {
	var cmds []*cobra.Command
	for _, c := range root.Commands() {
		if c.Hidden || !c.IsAvailableCommand() || c.Name() == "help" {
			continue
		}
		cmds = append(cmds, c)
	}
	return cmds
}

// generateCLIDocs writes an index page plus one page per command.
func generateCLIDocs(outDir string) error {
	log.Printf("Generating CLI docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	root := cli.NewRootCmd()
	pages := map[string][]byte{"index.md": cliIndex(root)}
	for _, c := range documented(root) {
		pages[c.Name()+".md"] = commandPage(c)
	}

	for name, content := range pages {
		if err := os.WriteFile(filepath.Join(outDir, name), content, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		log.Printf("  Generated %s", name)
	}
	return nil
}

func cliIndex(root *cobra.Command) []byte {
	w := NewMarkdownWriter()
	w.Frontmatter("CLI Reference", "Command-line interface reference for stridesync")
	w.GeneratedMarker()

	w.Header(1, "CLI Reference")
	w.Paragraph(root.Long)

	w.Header(2, "Installation")
	w.CodeBlock("bash", "go install github.com/leapstack-labs/stridesync/cmd/stridesync@latest")

	w.Header(2, "Commands")
	var rows [][]string
	for _, c := range documented(root) {
		rows = append(rows, []string{
			fmt.Sprintf("[%s](/cli/%s)", InlineCode(c.Name()), c.Name()),
			cleanDescription(c.Short),
		})
	}
	w.Table([]string{"Command", "Description"}, rows)

	w.Header(2, "Global Options")
	flagTable(w, root.PersistentFlags())

	w.Header(2, "Environment Variables")
	w.Paragraph(fmt.Sprintf("Every configuration key can be set from the environment with the %s prefix. "+
		"A double underscore separates nesting levels, so %s sets %s.",
		InlineCode(config.EnvPrefix), InlineCode(config.EnvPrefix+"SINK__DSN"), InlineCode("sink.dsn")))
	w.Table([]string{"Variable", "Used for"}, [][]string{
		{InlineCode(config.EnvSupabaseDBURL), "Postgres DSN when sink.dsn is empty"},
		{InlineCode(config.EnvSupabaseURL), "Derives the Postgres host from a Supabase project URL"},
		{InlineCode(config.EnvSupabaseDBPassword), "Postgres password when the DSN has none"},
	})
	w.Paragraph("Flags override environment variables, which override the config file.")

	w.Header(2, "Exit Codes")
	w.Table([]string{"Code", "Meaning"}, [][]string{
		{InlineCode("0"), "The run finished, possibly with partially failed stages"},
		{InlineCode("1"), "Configuration or sink error, or a stage listed in pipeline.abort_on failed"},
	})

	return w.Bytes()
}

func commandPage(c *cobra.Command) []byte {
	w := NewMarkdownWriter()
	w.Frontmatter(c.Name(), c.Short)
	w.GeneratedMarker()

	w.Header(1, c.CommandPath())
	desc := c.Long
	if desc == "" {
		desc = c.Short
	}
	w.Paragraph(desc)

	w.Header(2, "Usage")
	w.CodeBlock("bash", c.UseLine())

	if c.HasAvailableLocalFlags() {
		w.Header(2, "Options")
		flagTable(w, c.LocalNonPersistentFlags())
	}

	if c.Example != "" {
		w.Header(2, "Examples")
		w.CodeBlock("bash", dedent(c.Example))
	}

	w.Paragraph(fmt.Sprintf("Global options are listed in the [CLI reference](/cli/index). Run %s for the same text in a terminal.",
		InlineCode(c.CommandPath()+" --help")))
	return w.Bytes()
}

// flagTable writes one row per visible flag.
func flagTable(w *MarkdownWriter, flags *pflag.FlagSet) {
	var rows [][]string
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		name := InlineCode("--" + f.Name)
		if f.Shorthand != "" {
			name += ", " + InlineCode("-"+f.Shorthand)
		}
		def := f.DefValue
		if def != "" && def != "[]" && f.Value.Type() != "bool" {
			def = InlineCode(def)
		}
		rows = append(rows, []string{name, f.Value.Type(), def, cleanDescription(f.Usage)})
	})
	w.Table([]string{"Flag", "Type", "Default", "Description"}, rows)
}

// dedent strips the indentation shared by every non-blank line.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first || !strings.HasPrefix(indent, prefix) {
			prefix = commonPrefix(prefix, indent, first)
		}
		first = false
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func commonPrefix(a, b string, first bool) string {
	if first {
		return b
	}
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return a[:n]
}
