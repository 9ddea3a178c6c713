package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/nasher721/Extract721/internal/export"
	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/store"
)

// ExportAction converts a JSONL file of annotated documents to one CSV or
// XLSX row per extraction. The format follows --format, or the --output
// extension.
func ExportAction(_ context.Context, cmd *cli.Command) error {
	records, err := store.ReadJSONL(cmd.String("input"))
	if err != nil {
		return fmt.Errorf("reading %s: %w", cmd.String("input"), err)
	}
	docs := make([]*extraction.AnnotatedDocument, len(records))
	for i, rec := range records {
		docs[i] = rec.Document()
	}
	rows := export.DocumentRows(docs)

	out := cmd.String("output")
	format := strings.ToLower(cmd.String("format"))
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(out)), ".")
	}

	var data []byte
	switch format {
	case "csv":
		var b strings.Builder
		if err := export.WriteCSV(&b, rows); err != nil {
			return err
		}
		data = []byte(b.String())
	case "xlsx":
		if data, err = export.XLSX(rows); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown export format %q, want csv or xlsx", format)
	}

	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	fmt.Fprintf(output(cmd), "exported %d rows from %d documents to %s\n", len(rows), len(docs), out)
	return nil
}
