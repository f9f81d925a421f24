// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package llm provides the natural-language-to-SQL translation collaborator
// consumed by the query gate. The gate only depends on the Translator
// interface; the shipped implementation speaks the OpenAI-compatible chat
// completions protocol so it works against OpenAI, Azure OpenAI, and local
// inference servers exposing the same API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"axonflow/sqlgate/schema"
)

const (
	// DefaultBaseURL is the default chat completions endpoint base.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultModel is the default translation model.
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout is the default HTTP timeout for translation calls.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxTokens bounds the generated SQL length.
	DefaultMaxTokens = 512
)

// Translation is the result of one NL-to-SQL translation.
type Translation struct {
	SQL        string  `json:"sql"`
	Confidence float64 `json:"confidence"`
}

// Translator converts a natural language request into a SQL candidate using
// the given schema snapshot as grounding context.
type Translator interface {
	Translate(ctx context.Context, nlQuery string, snap *schema.Snapshot) (*Translation, error)
}

// TranslationError reports a failed translation with a retryability class.
type TranslationError struct {
	Message   string
	Transient bool
	Cause     error
}

func (e *TranslationError) Error() string {
	if e.Cause != nil {
		return "translate: " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return "translate: " + e.Message
}

func (e *TranslationError) Unwrap() error {
	return e.Cause
}

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the OpenAI-compatible provider.
type Config struct {
	APIKey  string        // Required: API key
	BaseURL string        // Optional: endpoint base (default: https://api.openai.com)
	Model   string        // Optional: model name (default: gpt-4o-mini)
	Timeout time.Duration // Optional: HTTP timeout (default: 60s)
	Client  HTTPClient    // Optional: HTTP client override for tests
}

// Provider implements Translator against the OpenAI chat completions API.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  HTTPClient
}

// NewProvider creates a translation provider from config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  client,
	}, nil
}

const systemPrompt = `You translate natural language questions into a single SQL statement.
Rules:
- Return ONLY the SQL statement, no prose and no markdown fences.
- Use only the tables and columns provided in the schema.
- Prefer explicit column lists over SELECT * when the question names fields.
- Never produce more than one statement.`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Translate sends the question plus a schema summary to the model and
// returns the SQL candidate with a grounding-based confidence estimate.
func (p *Provider) Translate(ctx context.Context, nlQuery string, snap *schema.Snapshot) (*Translation, error) {
	payload := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Schema:\n%s\n\nQuestion: %s", SchemaPrompt(snap), nlQuery)},
		},
		MaxTokens:   DefaultMaxTokens,
		Temperature: 0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TranslationError{Message: "failed to encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &TranslationError{Message: "failed to build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &TranslationError{Message: "request failed", Transient: true, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TranslationError{Message: "failed to read response", Transient: true, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, &TranslationError{
			Message:   fmt.Sprintf("endpoint returned status %d: %s", resp.StatusCode, truncate(string(data), 200)),
			Transient: transient,
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &TranslationError{Message: "failed to decode response", Cause: err}
	}
	if parsed.Error != nil {
		return nil, &TranslationError{Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &TranslationError{Message: "empty completion"}
	}

	sqlText := StripFences(parsed.Choices[0].Message.Content)
	if sqlText == "" {
		return nil, &TranslationError{Message: "model returned no SQL"}
	}

	return &Translation{SQL: sqlText, Confidence: EstimateConfidence(sqlText, snap)}, nil
}

// SchemaPrompt renders a compact table/column listing for the model prompt.
func SchemaPrompt(snap *schema.Snapshot) string {
	if snap == nil {
		return "(no schema available)"
	}
	var b strings.Builder
	for _, t := range snap.Tables {
		b.WriteString(t.Name)
		b.WriteString("(")
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			b.WriteString(" ")
			b.WriteString(c.Type)
		}
		b.WriteString(")\n")
	}
	for _, fk := range snap.ForeignKeys {
		fmt.Fprintf(&b, "%s.%s -> %s.%s\n", fk.Table, fk.Column, fk.RefTable, fk.RefColumn)
	}
	return b.String()
}

// StripFences removes markdown code fences the model may wrap around SQL.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// EstimateConfidence scores how well the generated SQL is grounded in the
// schema: a base of 0.6, plus 0.2 when it references a known table, 0.1
// when it is bounded by a filter or limit, and 0.1 when it joins.
func EstimateConfidence(sqlText string, snap *schema.Snapshot) float64 {
	text := " " + strings.ToLower(sqlText) + " "
	confidence := 0.6
	if snap != nil {
		for _, t := range snap.Tables {
			if strings.Contains(text, " "+strings.ToLower(t.Name)+" ") ||
				strings.Contains(text, " "+strings.ToLower(t.Name)+"\n") {
				confidence += 0.2
				break
			}
		}
	}
	if strings.Contains(text, " where ") || strings.Contains(text, " limit ") {
		confidence += 0.1
	}
	if strings.Contains(text, " join ") {
		confidence += 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
