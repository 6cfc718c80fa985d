// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"reflect"
	"strings"
	"testing"
)

func TestDecodeDiscoveryDedups(t *testing.T) {
	raw := []byte(`{"models": ["THB 3-2411", " THB 3-2412 ", "THB 3-2411", "", "TEN 20-2412"]}`)
	got, err := decodeDiscovery(raw)
	if err != nil {
		t.Fatalf("decodeDiscovery: %v", err)
	}
	want := []string{"THB 3-2411", "THB 3-2412", "TEN 20-2412"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("models = %v, want %v", got, want)
	}
}

func TestFormatRange(t *testing.T) {
	cases := []struct {
		lower, upper, want string
	}{
		{"9 VDC", "36 VDC", "9~36 VDC"},
		{"9", "36", "9~36"},
		{"9 VDC", "36 VAC", "9 VDC~36 VAC"},
		{"9 VDC", "", "9 VDC"},
		{"", "36 VDC", "36 VDC"},
		{"", "", ""},
		{"100-240 VAC", "370 VDC", "100-240 VAC~370 VDC"},
	}
	for _, c := range cases {
		if got := formatRange(c.lower, c.upper); got != c.want {
			t.Errorf("formatRange(%q, %q) = %q, want %q", c.lower, c.upper, got, c.want)
		}
	}
}

func TestFormatOutputVoltage(t *testing.T) {
	cases := []struct {
		ov   outputVoltage
		want string
	}{
		{outputVoltage{Value: "12 VDC", DualOutput: false}, "12 VDC"},
		{outputVoltage{Value: "12 VDC", DualOutput: true}, "±12 VDC"},
		{outputVoltage{Value: "±15 VDC", DualOutput: true}, "±15 VDC"},
		{outputVoltage{Value: "", DualOutput: true}, ""},
	}
	for _, c := range cases {
		if got := formatOutputVoltage(c.ov); got != c.want {
			t.Errorf("formatOutputVoltage(%+v) = %q, want %q", c.ov, got, c.want)
		}
	}
}

func TestFormatDimension(t *testing.T) {
	cases := []struct {
		d    dimensions
		want string
	}{
		{dimensions{"31.8 mm", "20.3 mm", "10.4 mm"}, "31.8 mm x 20.3 mm x 10.4 mm"},
		{dimensions{"31.8 mm", "", "10.4 mm"}, "31.8 mm x 10.4 mm"},
		{dimensions{}, ""},
	}
	for _, c := range cases {
		if got := formatDimension(c.d); got != c.want {
			t.Errorf("formatDimension(%+v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestDecodeFieldBatchIsolatesBadEntries(t *testing.T) {
	raw := []byte(`{"models": [
		{
			"Model Number": "THB 3-2411",
			"Input Voltage": {"lower": "9 VDC", "upper": "36 VDC"},
			"Output Voltage": {"value": "5 VDC", "dual_output": false},
			"Output Power": {"value": "3 W"},
			"Package": "DIP-24",
			"I/O Isolation": "1500 VDC",
			"Insulation System": "Functional",
			"Application": {"values": ["Railway", "Industrial"]},
			"Dimension": {"length": "31.8 mm", "width": "20.3 mm", "height": "10.4 mm"},
			"Evidence": {"Output Power": "rated output power 3 W"}
		},
		{"Model Number": ""},
		"not an object"
	]}`)

	models, itemErrs, err := decodeFieldBatch(raw)
	if err != nil {
		t.Fatalf("decodeFieldBatch: %v", err)
	}
	if len(itemErrs) != 2 {
		t.Fatalf("item errors = %v, want 2", itemErrs)
	}
	if len(models) != 1 {
		t.Fatalf("models = %d, want 1", len(models))
	}

	m := models[0]
	if m.ModelNumber != "THB 3-2411" {
		t.Errorf("model number = %q", m.ModelNumber)
	}
	if m.Fields.InputVoltageRange != "9~36 VDC" {
		t.Errorf("input voltage range = %q, want 9~36 VDC", m.Fields.InputVoltageRange)
	}
	if m.Fields.Dimension != "31.8 mm x 20.3 mm x 10.4 mm" {
		t.Errorf("dimension = %q", m.Fields.Dimension)
	}
	if !reflect.DeepEqual(m.Applications, []string{"Railway", "Industrial"}) {
		t.Errorf("applications = %v", m.Applications)
	}
	if len(m.Evidence) != 1 || m.Evidence[0].Path != "Output Power" {
		t.Errorf("evidence = %+v", m.Evidence)
	}
}

func TestDecodeFieldBatchDropsUnknownKeys(t *testing.T) {
	// A reply item may carry keys the schema never asked for. They are
	// discarded on decode: the stored projection and evidence hold only
	// the schema's own fields.
	raw := []byte(`{"models": [
		{
			"Model Number": "THB 3-2411",
			"Input Voltage": {"lower": "9 VDC", "upper": "36 VDC"},
			"Output Power": {"value": "3 W"},
			"Efficiency": "89%",
			"Operating Temperature": {"lower": "-40 C", "upper": "85 C"},
			"Evidence": {"Output Power": "rated output power 3 W"}
		}
	]}`)

	models, itemErrs, err := decodeFieldBatch(raw)
	if err != nil {
		t.Fatalf("decodeFieldBatch: %v", err)
	}
	if len(itemErrs) != 0 {
		t.Fatalf("item errors = %v, want none", itemErrs)
	}
	if len(models) != 1 {
		t.Fatalf("models = %d, want 1", len(models))
	}

	m := models[0]
	if m.Fields.InputVoltageRange != "9~36 VDC" || m.Fields.OutputPower != "3 W" {
		t.Errorf("projection = %+v", m.Fields)
	}
	if len(m.Evidence) != 1 || m.Evidence[0].Path != "Output Power" {
		t.Errorf("evidence = %+v", m.Evidence)
	}
	for _, ev := range m.Evidence {
		if ev.Path == "Efficiency" || strings.Contains(ev.Snippet, "89%") {
			t.Errorf("out-of-schema key leaked into evidence: %+v", ev)
		}
	}
}

func TestDecodeFieldBatchMalformedTopLevel(t *testing.T) {
	if _, _, err := decodeFieldBatch([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed reply")
	}
}
