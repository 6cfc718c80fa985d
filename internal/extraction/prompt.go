// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
)

// discoveryPrompt is the stage-one instruction: enumerate every distinct
// model/part number the datasheet names. No field values yet.
const discoveryPrompt = `You are a datasheet indexing system. Read the following DC-DC converter datasheet text and list every distinct model/part number it describes.

Rules:
- Include every orderable part number, including variants that differ only in suffix.
- Preserve the exact spelling and casing used in the document.
- Do not invent part numbers that the document does not contain.
- Respond with a JSON object containing a "models" array of strings and nothing else.

Datasheet text:
`

// fieldPromptTmpl is the stage-two instruction for one batch of model
// numbers. The service must fill the closed specification schema for
// exactly the listed models, quoting the source text as evidence.
var fieldPromptTmpl = template.Must(template.New("fields").Parse(`You are a datasheet extraction system. From the DC-DC converter datasheet text below, extract the specification fields for exactly these model numbers:
{{range .Models}}- {{.}}
{{end}}
Rules:
- Fill every field you can find; use an empty string (or empty list) when the document does not state a value.
- "Input Voltage" lower and upper carry the bound plus its unit, e.g. "9 VDC".
- "Output Voltage" dual_output is true only for dual (±) output models.
- "Dimension" length, width and height carry one axis each, with unit.
- "Application" values are short free-text tags taken from the document.
- "Evidence" maps a field name to the literal document text the value came from.
- Respond with a JSON object containing a "models" array, one entry per requested model, and nothing else.

Datasheet text:
{{.Document}}
`))

// discoverySchema constrains the stage-one reply.
var discoverySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"models": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["models"],
	"additionalProperties": false
}`)

// fieldSchema constrains the stage-two reply to the closed specification
// vocabulary.
var fieldSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"models": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"Model Number": {"type": "string"},
					"Input Voltage": {
						"type": "object",
						"properties": {
							"lower": {"type": "string"},
							"upper": {"type": "string"}
						},
						"required": ["lower", "upper"],
						"additionalProperties": false
					},
					"Output Voltage": {
						"type": "object",
						"properties": {
							"value": {"type": "string"},
							"dual_output": {"type": "boolean"}
						},
						"required": ["value", "dual_output"],
						"additionalProperties": false
					},
					"Output Power": {
						"type": "object",
						"properties": {"value": {"type": "string"}},
						"required": ["value"],
						"additionalProperties": false
					},
					"Package": {"type": "string"},
					"I/O Isolation": {"type": "string"},
					"Insulation System": {"type": "string"},
					"Application": {
						"type": "object",
						"properties": {
							"values": {"type": "array", "items": {"type": "string"}}
						},
						"required": ["values"],
						"additionalProperties": false
					},
					"Dimension": {
						"type": "object",
						"properties": {
							"length": {"type": "string"},
							"width": {"type": "string"},
							"height": {"type": "string"}
						},
						"required": ["length", "width", "height"],
						"additionalProperties": false
					},
					"Evidence": {
						"type": "object",
						"additionalProperties": {"type": "string"}
					}
				},
				"required": ["Model Number", "Input Voltage", "Output Voltage", "Output Power", "Package", "I/O Isolation", "Insulation System", "Application", "Dimension"],
				"additionalProperties": false
			}
		}
	},
	"required": ["models"],
	"additionalProperties": false
}`)

// renderFieldPrompt executes the stage-two template for one batch.
func renderFieldPrompt(models []string, document string) (string, error) {
	var buf bytes.Buffer
	err := fieldPromptTmpl.Execute(&buf, struct {
		Models   []string
		Document string
	}{Models: models, Document: document})
	if err != nil {
		return "", fmt.Errorf("rendering field prompt: %w", err)
	}
	return buf.String(), nil
}
