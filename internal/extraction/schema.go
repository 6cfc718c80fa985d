// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The extraction service replies under a closed JSON schema whose keys
// mirror datasheet vocabulary. This file decodes those replies and
// projects them onto flat specification fields.

// discoveryReply is the stage-one response: every model number the
// document names.
type discoveryReply struct {
	Models []string `json:"models"`
}

// fieldReply is the stage-two response for one batch of model numbers.
// Items decode individually so one malformed entry fails only itself.
type fieldReply struct {
	Models []json.RawMessage `json:"models"`
}

type voltageRange struct {
	Lower string `json:"lower"`
	Upper string `json:"upper"`
}

type outputVoltage struct {
	Value      string `json:"value"`
	DualOutput bool   `json:"dual_output"`
}

type singleValue struct {
	Value string `json:"value"`
}

type valueList struct {
	Values []string `json:"values"`
}

type dimensions struct {
	Length string `json:"length"`
	Width  string `json:"width"`
	Height string `json:"height"`
}

// modelFields is one model's entry as the service returns it.
type modelFields struct {
	ModelNumber   string            `json:"Model Number"`
	InputVoltage  voltageRange      `json:"Input Voltage"`
	OutputVoltage outputVoltage     `json:"Output Voltage"`
	OutputPower   singleValue       `json:"Output Power"`
	Package       string            `json:"Package"`
	Isolation     string            `json:"I/O Isolation"`
	Insulation    string            `json:"Insulation System"`
	Application   valueList         `json:"Application"`
	Dimension     dimensions        `json:"Dimension"`
	Evidence      map[string]string `json:"Evidence"`
}

// fieldEvidence pairs a schema field path with the snippet it came from.
type fieldEvidence struct {
	Path    string
	Snippet string
}

// extractedModel is the projected, storage-ready form of one entry.
type extractedModel struct {
	ModelNumber  string
	Fields       specProjection
	Applications []string
	Evidence     []fieldEvidence
}

// specProjection mirrors the stored field columns.
type specProjection struct {
	InputVoltageRange string
	OutputVoltage     string
	OutputPower       string
	Package           string
	Isolation         string
	Insulation        string
	Dimension         string
}

// decodeDiscovery parses a stage-one reply into a trimmed, deduplicated
// model number list. Order of first appearance is preserved.
func decodeDiscovery(raw []byte) ([]string, error) {
	var reply discoveryReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("parsing discovery reply: %w", err)
	}
	seen := make(map[string]bool, len(reply.Models))
	var out []string
	for _, m := range reply.Models {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

// decodeFieldBatch parses a stage-two reply. Entries that fail to decode
// or carry no model number are reported as itemErrs; the rest are
// projected and returned.
func decodeFieldBatch(raw []byte) (models []extractedModel, itemErrs []error, err error) {
	var reply fieldReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, nil, fmt.Errorf("parsing field reply: %w", err)
	}

	for i, item := range reply.Models {
		var mf modelFields
		if err := json.Unmarshal(item, &mf); err != nil {
			itemErrs = append(itemErrs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		if strings.TrimSpace(mf.ModelNumber) == "" {
			itemErrs = append(itemErrs, fmt.Errorf("entry %d: missing model number", i))
			continue
		}
		models = append(models, project(mf))
	}
	return models, itemErrs, nil
}

// project flattens a schema entry into storable field strings.
func project(mf modelFields) extractedModel {
	out := extractedModel{
		ModelNumber: strings.TrimSpace(mf.ModelNumber),
		Fields: specProjection{
			InputVoltageRange: formatRange(mf.InputVoltage.Lower, mf.InputVoltage.Upper),
			OutputVoltage:     formatOutputVoltage(mf.OutputVoltage),
			OutputPower:       strings.TrimSpace(mf.OutputPower.Value),
			Package:           strings.TrimSpace(mf.Package),
			Isolation:         strings.TrimSpace(mf.Isolation),
			Insulation:        strings.TrimSpace(mf.Insulation),
			Dimension:         formatDimension(mf.Dimension),
		},
	}
	for _, v := range mf.Application.Values {
		if strings.TrimSpace(v) != "" {
			out.Applications = append(out.Applications, strings.TrimSpace(v))
		}
	}
	for path, snippet := range mf.Evidence {
		if strings.TrimSpace(snippet) == "" {
			continue
		}
		out.Evidence = append(out.Evidence, fieldEvidence{Path: path, Snippet: snippet})
	}
	return out
}

// formatRange renders a lower/upper pair as "lower~upper". When both
// bounds carry the same trailing unit token it is stated once: "9 VDC"
// and "36 VDC" render as "9~36 VDC".
func formatRange(lower, upper string) string {
	lower, upper = strings.TrimSpace(lower), strings.TrimSpace(upper)
	switch {
	case lower == "" && upper == "":
		return ""
	case lower == "":
		return upper
	case upper == "":
		return lower
	}

	lowerVal, lowerUnit := splitUnit(lower)
	upperVal, upperUnit := splitUnit(upper)
	if lowerUnit != "" && lowerUnit == upperUnit {
		return lowerVal + "~" + upperVal + " " + upperUnit
	}
	return lower + "~" + upper
}

// splitUnit separates a trailing non-numeric unit token from a value,
// e.g. "36 VDC" into ("36", "VDC"). Values without a unit come back whole.
func splitUnit(v string) (value, unit string) {
	idx := strings.LastIndexByte(v, ' ')
	if idx < 0 {
		return v, ""
	}
	tail := v[idx+1:]
	if tail == "" || (tail[0] >= '0' && tail[0] <= '9') {
		return v, ""
	}
	return strings.TrimSpace(v[:idx]), tail
}

// formatOutputVoltage prefixes dual-output values with a plus-minus sign.
func formatOutputVoltage(ov outputVoltage) string {
	v := strings.TrimSpace(ov.Value)
	if v == "" {
		return ""
	}
	if ov.DualOutput && !strings.HasPrefix(v, "±") {
		return "±" + v
	}
	return v
}

// formatDimension joins the present axes as "L x W x H".
func formatDimension(d dimensions) string {
	var parts []string
	for _, axis := range []string{d.Length, d.Width, d.Height} {
		if s := strings.TrimSpace(axis); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " x ")
}
