// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pdiddy/datasheet-review/internal/httputil"
)

// Backend abstracts the structured-output AI API so tests can supply a
// mock. Each call sends one prompt constrained by one JSON schema and
// returns the raw JSON text plus token usage.
type Backend interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Request is one structured-output call.
type Request struct {
	Prompt     string
	SchemaName string
	Schema     json.RawMessage
}

// Response is the raw reply from the backend.
type Response struct {
	Text  string
	Usage Usage
}

// openAIAPIURL is the OpenAI Responses API endpoint. Package-level var
// for test substitution.
var openAIAPIURL = "https://api.openai.com/v1/responses"

// OpenAIBackend calls the OpenAI Responses API with strict JSON-schema
// output. Rate limits retry through httputil.DoWithRetry.
type OpenAIBackend struct {
	APIKey      string
	Model       string
	ServiceTier string
	MaxRetries  int
	Client      *http.Client
}

type openAIRequest struct {
	Model       string     `json:"model"`
	Input       string     `json:"input"`
	ServiceTier string     `json:"service_tier,omitempty"`
	Text        openAIText `json:"text"`
}

type openAIText struct {
	Format openAIFormat `json:"format"`
}

type openAIFormat struct {
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type openAIResponse struct {
	Output []openAIOutput `json:"output"`
	Usage  openAIUsage    `json:"usage"`
	Error  *openAIError   `json:"error"`
}

type openAIOutput struct {
	Type    string          `json:"type"`
	Content []openAIContent `json:"content"`
}

type openAIContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIUsage struct {
	InputTokens        int `json:"input_tokens"`
	OutputTokens       int `json:"output_tokens"`
	InputTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"input_tokens_details"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Complete sends one structured-output request and returns the first
// output_text block with the usage accounting.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (Response, error) {
	body := openAIRequest{
		Model:       b.Model,
		Input:       req.Prompt,
		ServiceTier: b.ServiceTier,
		Text: openAIText{Format: openAIFormat{
			Type:   "json_schema",
			Name:   req.SchemaName,
			Strict: true,
			Schema: req.Schema,
		}},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, httpReq, b.MaxRetries)
	if err != nil {
		return Response{}, fmt.Errorf("calling extraction API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("extraction API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return Response{}, fmt.Errorf("decoding extraction API response: %w", err)
	}
	if apiResp.Error != nil {
		return Response{}, fmt.Errorf("extraction API error: %s", apiResp.Error.Message)
	}

	usage := Usage{
		PromptTokens:     apiResp.Usage.InputTokens,
		CachedTokens:     apiResp.Usage.InputTokensDetails.CachedTokens,
		CompletionTokens: apiResp.Usage.OutputTokens,
	}

	for _, out := range apiResp.Output {
		if out.Type != "message" {
			continue
		}
		for _, block := range out.Content {
			if block.Type == "output_text" {
				return Response{Text: block.Text, Usage: usage}, nil
			}
		}
	}
	return Response{}, fmt.Errorf("no output text in extraction API response")
}
