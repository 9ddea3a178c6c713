package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nasher721/Extract721/internal/extraction"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
)

// FormatError reports a model reply that could not be turned into
// extractions.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid model output: %s: %v", e.Reason, e.Err)
	}
	return "invalid model output: " + e.Reason
}

// Unwrap exposes both the cause and ErrInvalidModelOutput to errors.Is.
func (e *FormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{apperrors.ErrInvalidModelOutput}
	}
	return []error{apperrors.ErrInvalidModelOutput, e.Err}
}

const (
	classKey = "extraction_class"
	textKey  = "extraction_text"
	attrsKey = "attributes"
)

const apiSchema = `{
  "type": "object",
  "required": ["extractions"],
  "properties": {
    "extractions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["extraction_class", "extraction_text"],
        "properties": {
          "extraction_class": {"type": "string", "minLength": 1},
          "extraction_text": {"type": ["string", "number"]},
          "attributes": {"type": ["object", "null"]}
        }
      }
    }
  }
}`

var (
	fenceRe    = regexp.MustCompile("(?s)```(?:[A-Za-z]+)?\\s*(.*?)\\s*```")
	apiSchemaV = jsonschema.MustCompileString("extractions.schema.json", apiSchema)
)

// StripFences returns the body of the first ``` block in raw, or raw trimmed
// when there is none.
func StripFences(raw string) string {
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// CleanJSON strips fences and decodes a JSON object.
func CleanJSON(raw string) (map[string]any, error) {
	body := StripFences(raw)
	var out map[string]any
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, &FormatError{Reason: "reply is not a JSON object", Err: err}
	}
	if out == nil {
		return nil, &FormatError{Reason: "reply is null"}
	}
	return out, nil
}

// Parse turns a model reply into extractions. Both the formatter's
// "<class>": "<text>" items and explicit extraction_class/extraction_text
// items are accepted, wrapped in {"extractions": [...]} or as a bare array.
// Every extraction produced from item i carries GroupIndex i. A malformed
// item is logged and skipped; the reply fails only when its top level is
// invalid or no item can be read.
func Parse(raw string) ([]extraction.Extraction, error) {
	body := StripFences(raw)
	if body == "" {
		return nil, &FormatError{Reason: "empty reply"}
	}

	items, err := topLevelItems([]byte(body))
	if err != nil {
		return nil, err
	}

	out := make([]extraction.Extraction, 0, len(items))
	var firstErr error
	skipped := 0
	for i, item := range items {
		es, err := parseItem(i, item)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			skipped++
			continue
		}
		out = append(out, es...)
	}
	if skipped == 0 {
		return out, nil
	}
	if skipped == len(items) {
		return nil, firstErr
	}
	slog.Default().With("component", "format").Warn("skipped malformed extraction items",
		"skipped", skipped,
		"items", len(items),
		"error", firstErr,
	)
	return out, nil
}

func parseItem(i int, item json.RawMessage) ([]extraction.Extraction, error) {
	fields, err := orderedObject(item)
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("item %d is not an object", i), Err: err}
	}
	if hasKey(fields, classKey) {
		if err := validateAPIItem(item); err != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("item %d", i), Err: err}
		}
		e, err := apiItem(fields)
		if err != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("item %d", i), Err: err}
		}
		e.GroupIndex = extraction.Ptr(i)
		return []extraction.Extraction{e}, nil
	}
	es, err := classItems(fields)
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("item %d", i), Err: err}
	}
	for j := range es {
		es[j].GroupIndex = extraction.Ptr(i)
	}
	return es, nil
}

func topLevelItems(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &FormatError{Reason: "malformed JSON array", Err: err}
		}
		return items, nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, &FormatError{Reason: "malformed JSON", Err: err}
	}
	raw, ok := wrapper[ExtractionsKey]
	if !ok {
		return nil, &FormatError{Reason: `missing "extractions" key`}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &FormatError{Reason: `"extractions" is not an array`, Err: err}
	}
	return items, nil
}

// validateAPIItem checks one extraction_class/extraction_text item against
// the reply schema.
func validateAPIItem(item json.RawMessage) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return apiSchemaV.Validate(map[string]any{ExtractionsKey: []any{v}})
}

type field struct {
	key   string
	value json.RawMessage
}

// orderedObject decodes a JSON object keeping key order.
func orderedObject(raw json.RawMessage) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected object")
	}
	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("expected object key")
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		fields = append(fields, field{key: key, value: v})
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return fields, nil
}

func hasKey(fields []field, key string) bool {
	for _, f := range fields {
		if f.key == key {
			return true
		}
	}
	return false
}

func lookup(fields []field, key string) (json.RawMessage, bool) {
	for _, f := range fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

func apiItem(fields []field) (extraction.Extraction, error) {
	var e extraction.Extraction
	raw, _ := lookup(fields, classKey)
	if err := json.Unmarshal(raw, &e.ExtractionClass); err != nil {
		return e, fmt.Errorf("extraction_class: %w", err)
	}
	raw, _ = lookup(fields, textKey)
	text, ok, err := scalarText(raw)
	if err != nil || !ok {
		return e, errors.New("extraction_text must be a string or number")
	}
	e.ExtractionText = text
	if raw, ok := lookup(fields, attrsKey); ok {
		attrs, err := decodeAttributes(raw)
		if err != nil {
			return e, fmt.Errorf("attributes: %w", err)
		}
		e.Attributes = attrs
	}
	return e, nil
}

func classItems(fields []field) ([]extraction.Extraction, error) {
	var out []extraction.Extraction
	for _, f := range fields {
		if strings.HasSuffix(f.key, extraction.AttributeSuffix) {
			continue
		}
		text, ok, err := scalarText(f.value)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", f.key, err)
		}
		if !ok {
			continue
		}
		e := extraction.Extraction{ExtractionClass: f.key, ExtractionText: text}
		if raw, found := lookup(fields, f.key+extraction.AttributeSuffix); found {
			attrs, err := decodeAttributes(raw)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", f.key+extraction.AttributeSuffix, err)
			}
			e.Attributes = attrs
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, errors.New("no extraction class found")
	}
	return out, nil
}

// scalarText returns the text of a string or number value. A null value
// reports ok=false.
func scalarText(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case '{', '[', 't', 'f':
		return "", false, errors.New("value must be a string or number")
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false, err
		}
		return n.String(), true, nil
	}
}

// decodeAttributes keeps string, string list and null values; other scalars
// are rendered as text.
func decodeAttributes(raw json.RawMessage) (map[string]any, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil, string:
			out[k] = val
		case []any:
			list := make([]string, 0, len(val))
			for _, item := range val {
				list = append(list, fmt.Sprint(item))
			}
			out[k] = list
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}
