// Package fileparse turns uploaded .txt, .docx and .pdf files into plain
// text for extraction.
package fileparse

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/nasher721/Extract721/pkg/errors"
)

// Result is the extracted text of one file.
type Result struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
	Pages    int    `json:"pages,omitempty"`
}

// Runner executes an external command and returns stdout and stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// Parser extracts text by file extension. PDFs go through the pdftotext
// binary; an empty path disables PDF support.
type Parser struct {
	pdftotext string
	runner    Runner
	logger    *slog.Logger
}

// New creates a Parser. runner may be nil.
func New(pdftotext string, runner Runner) *Parser {
	if runner == nil {
		runner = execRunner{}
	}
	return &Parser{
		pdftotext: pdftotext,
		runner:    runner,
		logger:    slog.Default().With("component", "fileparse"),
	}
}

// Supported lists the accepted extensions.
func (p *Parser) Supported() []string {
	exts := []string{".txt", ".docx"}
	if p.pdftotext != "" {
		exts = append(exts, ".pdf")
	}
	return exts
}

// Parse reads content and extracts its text according to filename's
// extension. Unknown extensions report ErrUnsupportedMediaType.
func (p *Parser) Parse(ctx context.Context, filename string, content []byte) (*Result, error) {
	start := time.Now()
	ext := strings.ToLower(filepath.Ext(filename))
	res := &Result{Filename: filename}
	var err error

	switch {
	case ext == ".txt":
		res.Text = DecodeText(content)
	case ext == ".docx":
		res.Text, err = DocxText(content)
	case ext == ".pdf" && p.pdftotext != "":
		res.Text, res.Pages, err = p.pdfText(ctx, content)
	default:
		return nil, apperrors.Newf(apperrors.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType,
			"Unsupported file type: %s. Supported: %s", filename, strings.Join(p.Supported(), ", "))
	}
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusUnprocessableEntity,
			"Failed to parse file: %v", err)
	}

	p.logger.Debug("file parsed",
		"filename", filename,
		"bytes", len(content),
		"chars", len(res.Text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// DecodeText returns content as UTF-8, replacing invalid sequences with
// U+FFFD and dropping a leading byte order mark.
func DecodeText(content []byte) string {
	s := strings.ToValidUTF8(string(content), "\uFFFD")
	return strings.TrimPrefix(s, "\uFEFF")
}

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// DocxText returns the non-blank paragraphs of a .docx body joined by blank
// lines.
func DocxText(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("opening docx archive: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("docx archive has no word/document.xml")
	}
	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	paragraphs, err := docxParagraphs(rc)
	if err != nil {
		return "", err
	}
	kept := paragraphs[:0]
	for _, para := range paragraphs {
		if strings.TrimSpace(para) != "" {
			kept = append(kept, para)
		}
	}
	return strings.Join(kept, "\n\n"), nil
}

func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		paragraphs []string
		cur        strings.Builder
		inPara     bool
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "p":
				inPara = true
				cur.Reset()
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "p":
				if inPara {
					paragraphs = append(paragraphs, cur.String())
				}
				inPara = false
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	return paragraphs, nil
}

func (p *Parser) pdfText(ctx context.Context, content []byte) (string, int, error) {
	tmp, err := os.CreateTemp("", "lx-upload-*.pdf")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("closing temp file: %w", err)
	}

	out, errb, err := p.runner.Run(ctx, p.pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", tmp.Name(), "-")
	if err != nil {
		p.logger.Error("pdftotext failed", "error", err, "stderr", strings.TrimSpace(string(errb)))
		return "", 0, fmt.Errorf("pdftotext: %w", err)
	}
	// pdftotext separates pages with form feeds.
	pages := strings.Split(strings.TrimRight(string(out), "\f"), "\f")
	for i := range pages {
		pages[i] = strings.TrimSpace(pages[i])
	}
	return strings.Join(pages, "\n\n"), len(pages), nil
}
