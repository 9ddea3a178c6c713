package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/extraction/format"
)

const yamlTemplate = `description: Extract conditions and medications.
examples:
  - text: Patient on aspirin for CAD.
    extractions:
      - extraction_class: medication
        extraction_text: aspirin
        attributes:
          route: po
      - extraction_class: condition
        extraction_text: CAD
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadTemplateYAML(t *testing.T) {
	for _, name := range []string{"tmpl.yaml", "tmpl.YML"} {
		tmpl, err := LoadTemplate(writeFile(t, name, yamlTemplate))
		require.NoError(t, err)
		assert.Equal(t, "Extract conditions and medications.", tmpl.Description)
		require.Len(t, tmpl.Examples, 1)
		require.Len(t, tmpl.Examples[0].Extractions, 2)
		assert.Equal(t, "po", tmpl.Examples[0].Extractions[0].Attributes["route"])
		assert.Nil(t, tmpl.Examples[0].Extractions[0].CharInterval)
	}
}

func TestLoadTemplateJSON(t *testing.T) {
	path := writeFile(t, "tmpl.json", `{"description":"d","examples":[{"text":"t","extractions":[{"extraction_class":"c","extraction_text":"t"}]}]}`)
	tmpl, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, "d", tmpl.Description)
	assert.Equal(t, "c", tmpl.Examples[0].Extractions[0].ExtractionClass)
}

func TestLoadTemplateErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"unknown extension", writeFile(t, "tmpl.txt", yamlTemplate)},
		{"bad yaml", writeFile(t, "tmpl.yaml", "description: [unclosed")},
		{"bad json", writeFile(t, "tmpl.json", "{")},
		{"missing file", filepath.Join(t.TempDir(), "nope.yaml")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadTemplate(tc.path)
			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tc.path, pe.Path)
		})
	}
}

func TestRenderWithoutExamples(t *testing.T) {
	g := NewGenerator(Template{Description: "Find conditions."})

	out, err := g.Render("The patient has HTN.", "")
	require.NoError(t, err)
	assert.Equal(t, "Find conditions.\n\nQ: The patient has HTN.\nA: ", out)

	out, err = g.Render("The patient has HTN.", "Cardiology note")
	require.NoError(t, err)
	assert.Equal(t, "Find conditions.\n\nCardiology note\n\nQ: The patient has HTN.\nA: ", out)
}

func TestRenderWithExamples(t *testing.T) {
	g := NewGenerator(Template{
		Description: "Find conditions.",
		Examples: []extraction.ExampleData{{
			Text:        "Hx of CAD.",
			Extractions: []extraction.Extraction{{ExtractionClass: "condition", ExtractionText: "CAD"}},
		}},
	})
	g.Format = &format.Formatter{}

	out, err := g.Render("HTN noted.", "")
	require.NoError(t, err)
	assert.Equal(t, "Find conditions.\n"+
		"\n"+
		"Examples\n"+
		"Q: Hx of CAD.\n"+
		`A: {"extractions":[{"condition":"CAD","condition_attributes":{}}]}`+"\n"+
		"\n"+
		"Q: HTN noted.\n"+
		"A: ", out)
}

func TestRenderCustomPrefixes(t *testing.T) {
	g := &Generator{
		Template:       Template{Description: "D"},
		QuestionPrefix: "Input: ",
		AnswerPrefix:   "Output: ",
	}
	out, err := g.Render("x", "")
	require.NoError(t, err)
	assert.Equal(t, "D\n\nInput: x\nOutput: ", out)
}
