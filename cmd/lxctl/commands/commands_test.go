package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"github.com/xuri/excelize/v2"

	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/extraction/interval"
	"github.com/nasher721/Extract721/internal/store"
)

// run executes action under a fresh root command; flags builds new flag
// values for every run.
func run(t *testing.T, action cli.ActionFunc, flags func() []cli.Flag, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := &cli.Command{Name: "lxctl", Writer: &buf, Flags: flags(), Action: action}
	err := cmd.Run(context.Background(), append([]string{"lxctl"}, args...))
	return buf.String(), err
}

func inputFlags(extra ...cli.Flag) func() []cli.Flag {
	return func() []cli.Flag {
		return append([]cli.Flag{
			&cli.StringFlag{Name: "file"},
			&cli.StringFlag{Name: "pdftotext"},
		}, extra...)
	}
}

func TestTokenizeAction(t *testing.T) {
	out, err := run(t, TokenizeAction, inputFlags(), "Pt", "has", "HTN.")
	require.NoError(t, err)
	assert.Contains(t, out, "punctuation")
	assert.Contains(t, out, "HTN")

	_, err = run(t, TokenizeAction, inputFlags())
	assert.ErrorContains(t, err, "no input")
}

func TestChunkActionReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("Pt takes aspirin. Pt denies smoking. Pt has gout."), 0o644))

	flags := func() []cli.Flag {
		return inputFlags(
			&cli.IntFlag{Name: "max-tokens", Value: 4},
			&cli.IntFlag{Name: "overlap"},
			&cli.BoolFlag{Name: "no-boundaries"},
		)()
	}
	out, err := run(t, ChunkAction, flags, "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Pt takes aspirin.")
	assert.Contains(t, out, "Pt denies smoking.")
	assert.Contains(t, out, "37")

	_, err = run(t, ChunkAction, flags, "--overlap", "4", "--file", path)
	assert.Error(t, err)
}

func TestAlignAction(t *testing.T) {
	flags := func() []cli.Flag {
		return inputFlags(
			&cli.StringSliceFlag{Name: "extraction"},
			&cli.FloatFlag{Name: "fuzzy-threshold", Value: 0.75},
			&cli.BoolFlag{Name: "no-normalize"},
		)()
	}
	out, err := run(t, AlignAction, flags,
		"--extraction", "condition=HTN and DM2",
		"--extraction", "condition=asthma",
		"Patient history: HTN and DM2.")
	require.NoError(t, err)
	assert.Contains(t, out, "match_exact")
	assert.Contains(t, out, "unaligned")
	assert.Contains(t, out, "17")
	assert.Contains(t, out, "28")

	_, err = run(t, AlignAction, flags, "--extraction", "nonsense", "text")
	assert.ErrorContains(t, err, "want class=text")
}

func TestParseExtractions(t *testing.T) {
	got, err := parseExtractions([]string{"medication=aspirin 81 mg", " dose =a=b"})
	require.NoError(t, err)
	assert.Equal(t, []extraction.Extraction{
		{ExtractionClass: "medication", ExtractionText: "aspirin 81 mg"},
		{ExtractionClass: "dose", ExtractionText: "a=b"},
	}, got)

	_, err = parseExtractions(nil)
	assert.Error(t, err)
	_, err = parseExtractions([]string{"=text"})
	assert.Error(t, err)
}

func TestExportAction(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "docs.jsonl")
	doc := &extraction.AnnotatedDocument{
		DocumentID: "doc_1",
		Text:       "Pt takes aspirin.",
		Extractions: []extraction.Extraction{{
			ExtractionClass: "medication",
			ExtractionText:  "aspirin",
			CharInterval:    interval.NewChar(9, 16),
			AlignmentStatus: extraction.Ptr(extraction.MatchExact),
			ExtractionIndex: extraction.Ptr(0),
		}},
	}
	require.NoError(t, store.WriteJSONL(in, []*extraction.AnnotatedDocument{doc}))

	flags := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{Name: "input"},
			&cli.StringFlag{Name: "output"},
			&cli.StringFlag{Name: "format"},
		}
	}

	csvPath := filepath.Join(dir, "out.csv")
	out, err := run(t, ExportAction, flags, "--input", in, "--output", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 1 rows from 1 documents")
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "document_id,extraction_index,extraction_class,extraction_text,start,end,alignment_status,attributes", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "doc_1,0,medication,aspirin,9,16,match_exact"))

	xlsxPath := filepath.Join(dir, "out.bin")
	_, err = run(t, ExportAction, flags, "--input", in, "--output", xlsxPath, "--format", "xlsx")
	require.NoError(t, err)
	f, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Extractions")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = run(t, ExportAction, flags, "--input", in, "--output", filepath.Join(dir, "out.txt"))
	assert.ErrorContains(t, err, "unknown export format")
}
