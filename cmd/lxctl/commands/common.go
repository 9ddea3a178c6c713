// Package commands implements the lxctl subcommands.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/nasher721/Extract721/internal/fileparse"
	"github.com/nasher721/Extract721/pkg/config"
)

const previewChars = 48

// output is where a command prints. Tests set Writer on the root command.
func output(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// readText returns the document text from --file, or the positional
// arguments joined by spaces. "-" reads stdin.
func readText(ctx context.Context, cmd *cli.Command) (string, error) {
	if path := cmd.String("file"); path != "" {
		return readFile(ctx, cmd, path)
	}
	if cmd.Args().Len() == 0 {
		return "", fmt.Errorf("no input: pass text arguments or --file")
	}
	return strings.Join(cmd.Args().Slice(), " "), nil
}

// readFile loads path through the file parser so .docx and .pdf work like
// the HTTP upload route.
func readFile(ctx context.Context, cmd *cli.Command, path string) (string, error) {
	var content []byte
	var err error
	if path == "-" {
		in := cmd.Root().Reader
		if in == nil {
			in = os.Stdin
		}
		content, err = io.ReadAll(in)
		path = "stdin.txt"
	} else {
		content, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	res, err := fileparse.New(cmd.String("pdftotext"), nil).Parse(ctx, filepath.Base(path), content)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// loadConfig reads --config, or defaults plus LX_* overrides when unset.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newTable(w io.Writer, header ...any) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Header(header...)
	return table
}

// preview shortens s for table cells, marking newlines.
func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", `\n`)
	r := []rune(s)
	if len(r) <= previewChars {
		return s
	}
	return string(r[:previewChars-3]) + "..."
}
