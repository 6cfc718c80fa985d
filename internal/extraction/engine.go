// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extraction runs the two-stage structured extraction of model
// records from stored datasheets: a discovery call enumerates the model
// numbers in a document, then batched field calls fill the specification
// schema for each. Results merge into the review corpus and the full
// service output is kept on disk next to the store for audit.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/datasheet-review/internal/contentstore"
	"github.com/pdiddy/datasheet-review/internal/review"
	"github.com/pdiddy/datasheet-review/internal/taskqueue"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

const outputDir = "extractions"

const defaultFieldBatchSize = 10

// TextSource turns a stored PDF into plain text for the AI prompts.
type TextSource interface {
	Text(path string) (string, error)
}

// Engine processes extraction tasks end to end. Its HandleOne method
// satisfies taskqueue.Handler so a worker pool can drive it.
type Engine struct {
	queue   *taskqueue.Queue
	files   *contentstore.Store
	records *review.Store
	backend Backend
	text    TextSource
	cfg     types.ExtractionConfig
	workDir string
	out     io.Writer
}

// NewEngine wires an extraction engine over the shared stores.
func NewEngine(queue *taskqueue.Queue, files *contentstore.Store, records *review.Store, backend Backend, text TextSource, cfg types.ExtractionConfig, workspaceDir string, w io.Writer) *Engine {
	if cfg.FieldBatchSize <= 0 {
		cfg.FieldBatchSize = defaultFieldBatchSize
	}
	if w == nil {
		w = io.Discard
	}
	return &Engine{
		queue:   queue,
		files:   files,
		records: records,
		backend: backend,
		text:    text,
		cfg:     cfg,
		workDir: workspaceDir,
		out:     w,
	}
}

// HandleOne claims and runs a single extraction task. It reports whether
// a task was claimed; task-level failures are recorded on the task row,
// not returned, so the worker pool keeps draining.
func (e *Engine) HandleOne(ctx context.Context) (bool, error) {
	task, err := e.queue.ClaimExtraction(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	result, runErr := e.run(ctx, task)
	if runErr != nil {
		fmt.Fprintf(e.out, "failed  extraction %d (%s): %v\n", task.ID, shortHash(task.FileHash), runErr)
		if err := e.queue.FailExtraction(ctx, task.ID, runErr.Error()); err != nil {
			return true, err
		}
		return true, nil
	}

	if err := e.queue.CompleteExtraction(ctx, task.ID, result); err != nil {
		return true, err
	}
	fmt.Fprintf(e.out, "extracted %s (task %d, $%.4f)\n", shortHash(task.FileHash), task.ID, result.CostUSD)
	return true, nil
}

// outputFile is the audit document written per extracted file.
type outputFile struct {
	FileHash    string        `json:"file_hash"`
	Model       string        `json:"model"`
	ServiceTier string        `json:"service_tier,omitempty"`
	Mode        string        `json:"mode"`
	ExtractedAt time.Time     `json:"extracted_at"`
	Models      []outputModel `json:"models"`
	Usage       outputUsage   `json:"usage"`
	CostUSD     float64       `json:"cost_usd"`
	ItemErrors  []string      `json:"item_errors,omitempty"`
}

type outputModel struct {
	ModelNumber  string            `json:"model_number"`
	Fields       map[string]string `json:"fields"`
	Applications []string          `json:"applications,omitempty"`
	Evidence     map[string]string `json:"evidence,omitempty"`
}

type outputUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CachedTokens     int `json:"cached_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (e *Engine) run(ctx context.Context, task *types.ExtractionTask) (taskqueue.ExtractionResultFields, error) {
	var zero taskqueue.ExtractionResultFields

	outPath := e.outputPath(task.FileHash)

	// A prior successful run left its output behind; without force-rerun
	// the stored document is replayed instead of paying for a new one.
	if !task.ForceRerun {
		if cached, err := e.replayOutput(ctx, task.FileHash, outPath); err != nil {
			return zero, err
		} else if cached != nil {
			return *cached, nil
		}
	}

	asset, err := e.files.Stat(ctx, task.FileHash)
	if err != nil {
		return zero, fmt.Errorf("locating file %s: %w", shortHash(task.FileHash), err)
	}

	docText, err := e.text.Text(asset.LocalPath)
	if err != nil {
		return zero, fmt.Errorf("reading document text: %w", err)
	}
	if strings.TrimSpace(docText) == "" {
		return zero, fmt.Errorf("document %s contains no extractable text", shortHash(task.FileHash))
	}

	if err := e.queue.MarkExtractionRunning(ctx, task.ID); err != nil {
		return zero, err
	}

	var usage Usage

	// Stage one: discover which model numbers the document describes.
	discResp, err := e.complete(ctx, Request{
		Prompt:     discoveryPrompt + docText,
		SchemaName: "model_discovery",
		Schema:     discoverySchema,
	})
	if err != nil {
		return zero, fmt.Errorf("discovery stage: %w", err)
	}
	usage.Add(discResp.Usage)

	modelNumbers, err := decodeDiscovery([]byte(discResp.Text))
	if err != nil {
		return zero, err
	}
	fmt.Fprintf(e.out, "discovered %d models in %s\n", len(modelNumbers), shortHash(task.FileHash))

	// Stage two: fill the specification schema, one batch at a time.
	var extracted []extractedModel
	var itemErrs []error
	for start := 0; start < len(modelNumbers); start += e.cfg.FieldBatchSize {
		end := start + e.cfg.FieldBatchSize
		if end > len(modelNumbers) {
			end = len(modelNumbers)
		}
		batch := modelNumbers[start:end]

		prompt, err := renderFieldPrompt(batch, docText)
		if err != nil {
			return zero, err
		}
		resp, err := e.complete(ctx, Request{
			Prompt:     prompt,
			SchemaName: "model_fields",
			Schema:     fieldSchema,
		})
		if err != nil {
			return zero, fmt.Errorf("field stage (models %d-%d): %w", start+1, end, err)
		}
		usage.Add(resp.Usage)

		models, errs, err := decodeFieldBatch([]byte(resp.Text))
		if err != nil {
			return zero, err
		}
		extracted = append(extracted, models...)
		itemErrs = append(itemErrs, errs...)
	}

	if len(extracted) == 0 && len(itemErrs) > 0 {
		return zero, fmt.Errorf("field stage produced no usable entries: %s", joinErrs(itemErrs))
	}

	now := time.Now()
	for _, m := range extracted {
		fields := types.SpecFields{
			InputVoltageRange: m.Fields.InputVoltageRange,
			OutputVoltage:     m.Fields.OutputVoltage,
			OutputPower:       m.Fields.OutputPower,
			Package:           m.Fields.Package,
			Isolation:         m.Fields.Isolation,
			Insulation:        m.Fields.Insulation,
			Dimension:         m.Fields.Dimension,
		}
		evidence := make([]review.MergedField, 0, len(m.Evidence))
		for _, ev := range m.Evidence {
			evidence = append(evidence, review.MergedField{Path: ev.Path, Snippet: ev.Snippet})
		}
		if err := e.records.MergeExtraction(ctx, m.ModelNumber, task.FileHash, fields, m.Applications, evidence, now); err != nil {
			return zero, fmt.Errorf("merging model %q: %w", m.ModelNumber, err)
		}
	}

	cost, err := Cost(e.cfg.Model, e.cfg.ServiceTier, task.Mode, usage)
	if err != nil {
		// Unknown pricing is not worth discarding a finished extraction.
		itemErrs = append(itemErrs, err)
		cost = 0
	}

	if err := e.writeOutput(outPath, task, extracted, usage, cost, itemErrs, now); err != nil {
		return zero, err
	}

	return taskqueue.ExtractionResultFields{
		Model:            e.cfg.Model,
		PromptTokens:     int64(usage.PromptTokens),
		CompletionTokens: int64(usage.CompletionTokens),
		CostUSD:          cost,
		OutputPath:       outPath,
		PartialNote:      partialNote(itemErrs),
	}, nil
}

// complete runs one backend call under the configured per-call timeout.
func (e *Engine) complete(ctx context.Context, req Request) (Response, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	return e.backend.Complete(ctx, req)
}

// replayOutput re-merges a previously written output document, refreshing
// record links without a service call. Returns nil when no output exists.
func (e *Engine) replayOutput(ctx context.Context, fileHash, outPath string) (*taskqueue.ExtractionResultFields, error) {
	data, err := os.ReadFile(outPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading prior output: %w", err)
	}

	var doc outputFile
	if err := json.Unmarshal(data, &doc); err != nil {
		// A corrupt prior output is not replayable; run fresh.
		return nil, nil
	}

	now := time.Now()
	for _, m := range doc.Models {
		fields := types.SpecFields{
			InputVoltageRange: m.Fields["input_voltage_range"],
			OutputVoltage:     m.Fields["output_voltage"],
			OutputPower:       m.Fields["output_power"],
			Package:           m.Fields["package"],
			Isolation:         m.Fields["isolation"],
			Insulation:        m.Fields["insulation"],
			Dimension:         m.Fields["dimension"],
		}
		var evidence []review.MergedField
		for path, snippet := range m.Evidence {
			evidence = append(evidence, review.MergedField{Path: path, Snippet: snippet})
		}
		if err := e.records.MergeExtraction(ctx, m.ModelNumber, fileHash, fields, m.Applications, evidence, now); err != nil {
			return nil, fmt.Errorf("replaying model %q: %w", m.ModelNumber, err)
		}
	}
	fmt.Fprintf(e.out, "reused prior output for %s (%d models)\n", shortHash(fileHash), len(doc.Models))

	return &taskqueue.ExtractionResultFields{
		Model:       doc.Model,
		CostUSD:     0,
		OutputPath:  outPath,
		PartialNote: "reused prior output; no service call made",
	}, nil
}

func (e *Engine) writeOutput(outPath string, task *types.ExtractionTask, extracted []extractedModel, usage Usage, cost float64, itemErrs []error, now time.Time) error {
	doc := outputFile{
		FileHash:    task.FileHash,
		Model:       e.cfg.Model,
		ServiceTier: e.cfg.ServiceTier,
		Mode:        string(task.Mode),
		ExtractedAt: now.UTC(),
		Usage: outputUsage{
			PromptTokens:     usage.PromptTokens,
			CachedTokens:     usage.CachedTokens,
			CompletionTokens: usage.CompletionTokens,
		},
		CostUSD: cost,
	}
	for _, m := range extracted {
		out := outputModel{
			ModelNumber: m.ModelNumber,
			Fields: map[string]string{
				"input_voltage_range": m.Fields.InputVoltageRange,
				"output_voltage":      m.Fields.OutputVoltage,
				"output_power":        m.Fields.OutputPower,
				"package":             m.Fields.Package,
				"isolation":           m.Fields.Isolation,
				"insulation":          m.Fields.Insulation,
				"dimension":           m.Fields.Dimension,
			},
			Applications: m.Applications,
		}
		if len(m.Evidence) > 0 {
			out.Evidence = make(map[string]string, len(m.Evidence))
			for _, ev := range m.Evidence {
				out.Evidence[ev.Path] = ev.Snippet
			}
		}
		doc.Models = append(doc.Models, out)
	}
	for _, ie := range itemErrs {
		doc.ItemErrors = append(doc.ItemErrors, ie.Error())
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling output document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmp := outPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing output document: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing output document: %w", err)
	}
	return nil
}

func (e *Engine) outputPath(fileHash string) string {
	return filepath.Join(e.workDir, outputDir, fileHash+".json")
}

func partialNote(itemErrs []error) string {
	if len(itemErrs) == 0 {
		return ""
	}
	return fmt.Sprintf("partial: %d entries skipped: %s", len(itemErrs), joinErrs(itemErrs))
}

func joinErrs(errs []error) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
