package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/nasher721/Extract721/internal/annotator"
	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/extraction/prompt"
	"github.com/nasher721/Extract721/internal/llm"
	"github.com/nasher721/Extract721/internal/store"
	"github.com/nasher721/Extract721/pkg/tracing"
)

// ExtractAction annotates every file argument with one prompt template and
// writes the documents to --output as JSON Lines.
func ExtractAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	templatePath := cmd.String("template")
	if templatePath == "" {
		templatePath = cfg.Annotator.TemplatePath
	}
	if templatePath == "" {
		return fmt.Errorf("--template is required when annotator.templatePath is not configured")
	}
	tmpl, err := prompt.LoadTemplate(templatePath)
	if err != nil {
		return err
	}
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("no input files")
	}

	docs := make([]*extraction.Document, 0, cmd.Args().Len())
	for _, path := range cmd.Args().Slice() {
		text, err := readFile(ctx, cmd, path)
		if err != nil {
			return err
		}
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		docs = append(docs, extraction.NewDocumentWithID(id, text, ""))
	}

	opts := annotator.OptionsFromConfig(cfg)
	if n := cmd.Int("concurrency"); n > 0 {
		opts.Concurrency = n
	}
	p := annotator.New(opts, annotator.Deps{
		Providers:       llm.NewRegistry(cfg.LLM, llm.NewTokenCounter("cl100k_base"), nil),
		Tracer:          tracing.NewTracer(cfg.Tracing),
		DefaultProvider: cfg.LLM.DefaultProvider,
		DefaultModel:    cfg.LLM.DefaultModel,
	})

	outcomes, err := p.AnnotateAll(ctx, annotator.ExtractRequest{
		Prompt:   tmpl.Description,
		Examples: tmpl.Examples,
		Provider: cmd.String("provider"),
		ModelID:  cmd.String("model"),
	}, docs)
	if err != nil {
		return err
	}
	return writeOutcomes(cmd, outcomes)
}

func writeOutcomes(cmd *cli.Command, outcomes []annotator.DocumentOutcome) error {
	var annotated []*extraction.AnnotatedDocument
	table := newTable(output(cmd), "document", "chunks", "failed", "extractions", "aligned", "error")
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			table.Append(o.DocumentID, "", "", "", "", preview(o.Err.Error()))
			continue
		}
		s := o.Response.Stats
		aligned := s.Extractions - s.StatusCounts["unaligned"]
		table.Append(o.DocumentID,
			strconv.Itoa(s.Chunks),
			strconv.Itoa(s.FailedChunks),
			strconv.Itoa(s.Extractions),
			strconv.Itoa(aligned),
			"",
		)
		annotated = append(annotated, o.Response.Document)
	}
	if err := table.Render(); err != nil {
		return err
	}

	if out := cmd.String("output"); out != "" && len(annotated) > 0 {
		if err := store.WriteJSONL(out, annotated); err != nil {
			return err
		}
		fmt.Fprintf(output(cmd), "wrote %d documents to %s\n", len(annotated), out)
	}
	if failed == len(outcomes) {
		return fmt.Errorf("all %d documents failed", failed)
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d documents failed\n", failed, len(outcomes))
	}
	return nil
}
