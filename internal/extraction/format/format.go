// Package format renders few-shot answers in the JSON shape models are asked
// to reply with, and parses model replies back into extractions.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nasher721/Extract721/internal/extraction"
)

// ExtractionsKey is the top-level key of every answer.
const ExtractionsKey = "extractions"

// Formatter renders example answers. Each extraction becomes one object
// holding "<class>": "<text>" and "<class>_attributes": {...}.
type Formatter struct {
	// Fenced wraps the answer in a ```json block.
	Fenced bool
	// Indent is the per-level indent; empty renders compact JSON.
	Indent string
}

// Default returns the formatter used by the prompt generator.
func Default() *Formatter {
	return &Formatter{Indent: "  "}
}

// Format renders extractions as an answer string. Object keys keep their
// insertion order so the class key always precedes its attributes.
func (f *Formatter) Format(extractions []extraction.Extraction) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"` + ExtractionsKey + `":[`)
	for i, e := range extractions {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeItem(&buf, e); err != nil {
			return "", fmt.Errorf("formatting extraction %d: %w", i, err)
		}
	}
	buf.WriteString("]}")

	out := buf.Bytes()
	if f.Indent != "" {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, out, "", f.Indent); err != nil {
			return "", err
		}
		out = pretty.Bytes()
	}
	if f.Fenced {
		return "```json\n" + string(out) + "\n```", nil
	}
	return string(out), nil
}

func writeItem(buf *bytes.Buffer, e extraction.Extraction) error {
	class, err := json.Marshal(e.ExtractionClass)
	if err != nil {
		return err
	}
	text, err := json.Marshal(e.ExtractionText)
	if err != nil {
		return err
	}
	attrsKey, err := json.Marshal(e.ExtractionClass + extraction.AttributeSuffix)
	if err != nil {
		return err
	}
	attrs := e.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsVal, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	buf.WriteByte('{')
	buf.Write(class)
	buf.WriteByte(':')
	buf.Write(text)
	buf.WriteByte(',')
	buf.Write(attrsKey)
	buf.WriteByte(':')
	buf.Write(attrsVal)
	buf.WriteByte('}')
	return nil
}
