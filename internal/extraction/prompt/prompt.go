// Package prompt holds few-shot prompt templates and renders them into
// question/answer prompts.
package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/extraction/format"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
)

// Template is a task description plus worked examples.
type Template struct {
	Description string                   `json:"description" yaml:"description"`
	Examples    []extraction.ExampleData `json:"examples" yaml:"examples"`
}

// ParseError reports a template file that could not be loaded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing prompt template %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{apperrors.ErrInvalidInput, e.Err}
}

// LoadTemplate reads a template from a .yaml, .yml or .json file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	var t Template
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &t)
	case ".json":
		err = json.Unmarshal(data, &t)
	default:
		err = fmt.Errorf("unsupported template extension %q", ext)
	}
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &t, nil
}

const (
	DefaultExamplesHeading = "Examples"
	DefaultQuestionPrefix  = "Q: "
	DefaultAnswerPrefix    = "A: "
)

// Generator renders a Template as a Q/A prompt.
type Generator struct {
	Template        Template
	ExamplesHeading string
	QuestionPrefix  string
	AnswerPrefix    string
	Format          *format.Formatter
}

// NewGenerator returns a Generator with the default heading, prefixes and
// answer format.
func NewGenerator(t Template) *Generator {
	return &Generator{
		Template:        t,
		ExamplesHeading: DefaultExamplesHeading,
		QuestionPrefix:  DefaultQuestionPrefix,
		AnswerPrefix:    DefaultAnswerPrefix,
		Format:          format.Default(),
	}
}

// Render builds the prompt for question. An empty additionalContext is
// omitted.
func (g *Generator) Render(question, additionalContext string) (string, error) {
	lines := []string{g.Template.Description, ""}
	if additionalContext != "" {
		lines = append(lines, additionalContext, "")
	}
	if len(g.Template.Examples) > 0 {
		lines = append(lines, g.ExamplesHeading)
		for i, ex := range g.Template.Examples {
			answer, err := g.formatter().Format(ex.Extractions)
			if err != nil {
				return "", fmt.Errorf("rendering example %d: %w", i, err)
			}
			lines = append(lines,
				g.QuestionPrefix+ex.Text,
				g.AnswerPrefix+answer,
				"",
			)
		}
	}
	lines = append(lines, g.QuestionPrefix+question, g.AnswerPrefix)
	return strings.Join(lines, "\n"), nil
}

func (g *Generator) formatter() *format.Formatter {
	if g.Format == nil {
		return format.Default()
	}
	return g.Format
}
