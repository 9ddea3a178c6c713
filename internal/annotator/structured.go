package annotator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nasher721/Extract721/internal/extraction/format"
	"github.com/nasher721/Extract721/internal/llm"
)

const structuredHeader = `You are a precision data extraction engine.
Your goal is to extract specific fields from the text below and return them in a valid JSON object.

FIELDS TO EXTRACT:
%s

RULES:
- Return ONLY valid JSON.
- No markdown fences (` + "```json" + `), no preamble, no commentary.
- If a field is missing or not found, use null.
- Ensure types match (e.g. if type is number, do not return a string).
`

const batchHeader = `You are a precision data extraction engine.
Extract the following fields from the text and return ONLY valid JSON (no markdown fences).
If a field is not found, use null.

FIELDS:
%s
`

// ClinicalTemplate asks for sixteen fixed sections of a clinical note as
// JSON. {note_text} is replaced by the note.
const ClinicalTemplate = `You are a clinical document cleaning and structured extraction engine.

PRIMARY GOAL:
Remove unnecessary EMR clutter and extract only clinically relevant information.

You must aggressively eliminate:
- Administrative artifacts (Expand All, Cosign Needed, ICU checklist)
- Device inventory unless clinically relevant
- Duplicate section headers
- Repeated medication tables
- Workflow checklists (CAM, RASS, mobility goals, line necessity reviews)
- Billing or quality metrics
- Full medication lists unless clinically relevant
- Redundant normal findings
- Boilerplate text

Retain only medically meaningful data for clinical reasoning.

--------------------------------------------------
EXTRACT ONLY THE FOLLOWING SECTIONS:
--------------------------------------------------

1. History of Present Illness (HPI)
   - Chief issue
   - Surgical/medical context
   - Pertinent intraoperative events
   - Current status

2. Past Medical History (PMH) - Chronic conditions only

3. Past Surgical History (PSH)

4. Family History - Only relevant items

5. Social History - Tobacco, alcohol, drugs (if present)

6. Allergies - Medication + reaction

7. Current Medications
   Include: Active inpatient meds, pressors, insulin regimens, antibiotics, anticoagulation, steroids
   Exclude: Long outpatient lists unless directly relevant

8. Vitals - Most recent values, abnormal values, pressor/oxygen support

9. Physical Exam - Pertinent positives only, exclude normal boilerplate

10. Neurologic Exam (structured)
    - GCS, mental status, cranial nerve abnormalities, motor/sensory findings, new vs baseline deficits

11. Labs - Abnormal values, trending changes, clinically meaningful labs only

12. Imaging - Relevant imaging performed/pending + reason

13. Active Problems - Concise problem list, acute vs chronic

14. Assessment / Impression - Clinical reasoning summary, postoperative risks, differential if present

15. Plan - Actionable medical plans only:
    monitoring, imaging, medications, hemodynamic goals, glycemic management,
    infection management, DVT prophylaxis, consults, disposition planning

16. Orders - New orders only (imaging, meds, labs, consults); exclude routine nursing workflow orders

--------------------------------------------------
OUTPUT RULES
--------------------------------------------------

- Output clean JSON only. No markdown fences, no commentary.
- Do not include checklists or quality metrics.
- Do not include repetitive medication tables.
- Remove device inventories unless clinically relevant.
- Collapse redundant text.
- Preserve trends (e.g., Hgb 10.4 -> 8.5).
- Preserve numeric precision.
- If a section is not present, return null.

Return ONLY valid JSON in exactly this format, nothing else:

{
  "history": null,
  "past_medical_history": null,
  "past_surgical_history": null,
  "family_history": null,
  "social_history": null,
  "allergies": null,
  "current_medications": null,
  "vitals": null,
  "exam": null,
  "neurologic_exam": null,
  "labs": null,
  "imaging": null,
  "active_problems": null,
  "assessment_impression": null,
  "plan": null,
  "orders": null
}

--------------------------------------------------
TEXT TO PROCESS:
--------------------------------------------------

{note_text}
`

// ClinicalSections are the keys the clinical template asks for, in order.
var ClinicalSections = []string{
	"history", "past_medical_history", "past_surgical_history", "family_history",
	"social_history", "allergies", "current_medications", "vitals", "exam",
	"neurologic_exam", "labs", "imaging", "active_problems",
	"assessment_impression", "plan", "orders",
}

const clinicalParseError = "Model did not return valid JSON"

// SchemaDescription renders one "- name (type): description" line per field.
func SchemaDescription(fields []SchemaField) string {
	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = fmt.Sprintf("- %s (%s): %s", f.Name, f.Type, f.Description)
	}
	return strings.Join(lines, "\n")
}

// StructuredPrompt builds the single-text schema extraction prompt.
func StructuredPrompt(fields []SchemaField, text string) string {
	return fmt.Sprintf(structuredHeader, SchemaDescription(fields)) + "\n\nTEXT TO PROCESS:\n" + text
}

// BatchPrompt builds the prompt for one item of a batch.
func BatchPrompt(fields []SchemaField, text string) string {
	return fmt.Sprintf(batchHeader, SchemaDescription(fields)) + "\n\nTEXT:\n" + text
}

// ClinicalPrompt fills the clinical template with note.
func ClinicalPrompt(note string) string {
	return strings.Replace(ClinicalTemplate, "{note_text}", note, 1)
}

// Structured extracts the schema fields of req.Text as one JSON object.
func (p *Pipeline) Structured(ctx context.Context, req StructuredRequest) (map[string]any, error) {
	provider, model, err := p.resolve(req.Provider, req.ModelID, req.APIKey)
	if err != nil {
		return nil, err
	}
	resp, err := provider.Generate(ctx, p.request(provider, model, StructuredPrompt(req.ExtractionSchema, req.Text), true))
	if err != nil {
		return nil, err
	}
	return format.CleanJSON(resp.Text)
}

// Clinical runs the clinical template over a note. A reply that is not JSON
// is not an error; Data then carries raw_text and _parse_error.
func (p *Pipeline) Clinical(ctx context.Context, req ClinicalRequest) (*ClinicalResult, error) {
	provider, model, err := p.resolve(req.Provider, req.ModelID, req.APIKey)
	if err != nil {
		return nil, err
	}
	resp, err := provider.Generate(ctx, p.request(provider, model, ClinicalPrompt(req.NoteText), false))
	if err != nil {
		return nil, err
	}
	return p.clinicalResult(provider.Name(), resp.Text), nil
}

// ClinicalStream is Clinical with the model's reply passed to onChunk as it
// is generated. Providers that cannot stream deliver the reply as a single
// chunk.
func (p *Pipeline) ClinicalStream(ctx context.Context, req ClinicalRequest, onChunk func(string) error) (*ClinicalResult, error) {
	provider, model, err := p.resolve(req.Provider, req.ModelID, req.APIKey)
	if err != nil {
		return nil, err
	}
	resp, err := llm.Stream(ctx, provider, p.request(provider, model, ClinicalPrompt(req.NoteText), false), onChunk)
	if err != nil {
		return nil, err
	}
	return p.clinicalResult(provider.Name(), resp.Text), nil
}

func (p *Pipeline) clinicalResult(provider, raw string) *ClinicalResult {
	data, err := format.CleanJSON(raw)
	if err != nil {
		p.logger.Warn("clinical reply is not JSON", "provider", provider, "error", err)
		data = map[string]any{"raw_text": raw, "_parse_error": clinicalParseError}
	}
	return &ClinicalResult{Data: data, Raw: raw}
}

// Batch runs schema extraction over every item concurrently. A failed item
// is reported in its own result and never fails the batch; only provider
// resolution or cancellation return an error.
func (p *Pipeline) Batch(ctx context.Context, req BatchRequest) ([]BatchItemResult, error) {
	provider, model, err := p.resolve(req.Provider, req.ModelID, req.APIKey)
	if err != nil {
		return nil, err
	}

	results := make([]BatchItemResult, len(req.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, item := range req.Items {
		g.Go(func() error {
			res := BatchItemResult{ID: item.ID, Data: map[string]any{}}
			resp, err := provider.Generate(gctx, p.request(provider, model, BatchPrompt(req.ExtractionSchema, item.Text), true))
			if err == nil {
				var data map[string]any
				if data, err = format.CleanJSON(resp.Text); err == nil {
					res.Success = true
					res.Data = data
				}
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) request(provider llm.Provider, model, prompt string, jsonMode bool) llm.Request {
	return llm.Request{
		Model:           model,
		Prompt:          prompt,
		Temperature:     p.opts.Temperature,
		MaxOutputTokens: p.opts.MaxOutputTokens,
		JSONMode:        jsonMode && llm.SupportsJSONMode(provider.Name()),
	}
}
