package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/extraction/aligner"
	"github.com/nasher721/Extract721/internal/extraction/chunker"
	"github.com/nasher721/Extract721/internal/extraction/tokenizer"
)

// TokenizeAction prints the token table of the input text.
func TokenizeAction(ctx context.Context, cmd *cli.Command) error {
	text, err := readText(ctx, cmd)
	if err != nil {
		return err
	}
	tt, err := tokenizer.Tokenize(text)
	if err != nil {
		return err
	}

	table := newTable(output(cmd), "#", "type", "start", "end", "newline", "text")
	for _, tok := range tt.Tokens {
		newline := ""
		if tok.FirstAfterNewline {
			newline = "yes"
		}
		table.Append(
			strconv.Itoa(tok.Index),
			tok.Type.String(),
			strconv.Itoa(tok.CharStart),
			strconv.Itoa(tok.CharEnd),
			newline,
			preview(tok.Text),
		)
	}
	return table.Render()
}

// ChunkAction prints how the input would be split.
func ChunkAction(ctx context.Context, cmd *cli.Command) error {
	text, err := readText(ctx, cmd)
	if err != nil {
		return err
	}
	cfg := chunker.Config{
		MaxChunkTokens:    cmd.Int("max-tokens"),
		OverlapTokens:     cmd.Int("overlap"),
		RespectBoundaries: !cmd.Bool("no-boundaries"),
	}
	chunks, err := chunker.SplitWithConfig(extraction.NewDocument(text, ""), cfg)
	if err != nil {
		return err
	}

	table := newTable(output(cmd), "#", "char_offset", "token_offset", "tokens", "overlap_chars", "text")
	for _, c := range chunks {
		table.Append(
			strconv.Itoa(c.Index),
			strconv.Itoa(c.CharOffset),
			strconv.Itoa(c.TokenOffset),
			strconv.Itoa(c.TokenCount),
			strconv.Itoa(c.OverlapChars),
			preview(c.Text),
		)
	}
	return table.Render()
}

// AlignAction anchors each --extraction class=text in the input text.
func AlignAction(ctx context.Context, cmd *cli.Command) error {
	text, err := readText(ctx, cmd)
	if err != nil {
		return err
	}
	exts, err := parseExtractions(cmd.StringSlice("extraction"))
	if err != nil {
		return err
	}
	tt, err := tokenizer.Tokenize(text)
	if err != nil {
		return err
	}

	a := aligner.New(aligner.Options{
		FuzzyThreshold: cmd.Float("fuzzy-threshold"),
		Normalize:      !cmd.Bool("no-normalize"),
	})
	aligned := a.AlignAll(tt, exts)

	table := newTable(output(cmd), "class", "text", "status", "start", "end", "source")
	for i := range aligned {
		e := &aligned[i]
		status, start, end, source := "unaligned", "", "", ""
		if e.Aligned() {
			status = string(e.Status())
			start = strconv.Itoa(e.CharInterval.StartPos)
			end = strconv.Itoa(e.CharInterval.EndPos)
			source = preview(text[e.CharInterval.StartPos:e.CharInterval.EndPos])
		}
		table.Append(e.ExtractionClass, preview(e.ExtractionText), status, start, end, source)
	}
	return table.Render()
}

// parseExtractions reads "class=text" pairs.
func parseExtractions(pairs []string) ([]extraction.Extraction, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one --extraction class=text is required")
	}
	out := make([]extraction.Extraction, 0, len(pairs))
	for _, pair := range pairs {
		class, text, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(class) == "" || text == "" {
			return nil, fmt.Errorf("invalid extraction %q, want class=text", pair)
		}
		out = append(out, extraction.Extraction{ExtractionClass: strings.TrimSpace(class), ExtractionText: text})
	}
	return out, nil
}
