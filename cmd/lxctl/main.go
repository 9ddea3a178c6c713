// Command lxctl runs the extraction core from the shell: inspect how text
// tokenizes, chunks and aligns, annotate files with an LLM, and export the
// results.
//
// Usage:
//
//	lxctl tokenize "Patient has HTN and DM2."
//	lxctl chunk --max-tokens 200 --file note.txt
//	lxctl align --extraction condition=HTN --file note.txt
//	lxctl extract --template meds.yaml --output out.jsonl notes/*.txt
//	lxctl export --input out.jsonl --output out.xlsx
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/nasher721/Extract721/cmd/lxctl/commands"
	"github.com/nasher721/Extract721/internal/extraction/aligner"
	"github.com/nasher721/Extract721/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "lxctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	fileFlag := &cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Usage:   "read the text from a .txt, .docx or .pdf file (- for stdin)",
	}
	pdfFlag := &cli.StringFlag{
		Name:    "pdftotext",
		Usage:   "path to the pdftotext binary; empty disables .pdf input",
		Sources: cli.EnvVars("LX_PDFTOTEXT_PATH"),
	}

	return &cli.Command{
		Name:  "lxctl",
		Usage: "extract structured facts from text and anchor them in the source",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "warn",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logger.Setup(cmd.String("log-level"), "text")
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:      "tokenize",
				Usage:     "print the tokens of a text",
				ArgsUsage: "[text...]",
				Flags:     []cli.Flag{fileFlag, pdfFlag},
				Action:    commands.TokenizeAction,
			},
			{
				Name:      "chunk",
				Usage:     "print how a text is split into chunks",
				ArgsUsage: "[text...]",
				Flags: []cli.Flag{
					fileFlag, pdfFlag,
					&cli.IntFlag{Name: "max-tokens", Usage: "tokens per chunk", Value: 1000},
					&cli.IntFlag{Name: "overlap", Usage: "tokens repeated from the previous chunk"},
					&cli.BoolFlag{Name: "no-boundaries", Usage: "cut at the token limit instead of sentence ends"},
				},
				Action: commands.ChunkAction,
			},
			{
				Name:      "align",
				Usage:     "locate extraction texts in a source text",
				ArgsUsage: "[text...]",
				Flags: []cli.Flag{
					fileFlag, pdfFlag,
					&cli.StringSliceFlag{Name: "extraction", Aliases: []string{"e"}, Usage: "class=text, repeatable"},
					&cli.FloatFlag{Name: "fuzzy-threshold", Usage: "minimum fuzzy score in (0, 1]", Value: aligner.DefaultFuzzyThreshold},
					&cli.BoolFlag{Name: "no-normalize", Usage: "skip the normalized-text strategy"},
				},
				Action: commands.AlignAction,
			},
			{
				Name:      "extract",
				Usage:     "annotate files with an LLM and write JSON Lines",
				ArgsUsage: "file...",
				Flags: []cli.Flag{
					pdfFlag,
					&cli.StringFlag{Name: "config", Usage: "YAML config file"},
					&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Usage: "prompt template (.yaml or .json)"},
					&cli.StringFlag{Name: "provider", Usage: "gemini, openai, claude or glm"},
					&cli.StringFlag{Name: "model", Usage: "model id"},
					&cli.IntFlag{Name: "concurrency", Usage: "documents and chunks in flight"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "JSONL output path"},
				},
				Action: commands.ExtractAction,
			},
			{
				Name:  "export",
				Usage: "convert annotated JSON Lines to CSV or XLSX",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "JSONL file", Required: true},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output file", Required: true},
					&cli.StringFlag{Name: "format", Usage: "csv or xlsx; defaults to the output extension"},
				},
				Action: commands.ExportAction,
			},
		},
	}
}
