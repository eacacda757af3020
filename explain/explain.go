// Package explain turns deterministic rule decisions into human-readable
// explanations using an OpenAI-compatible chat completion endpoint. The
// rule engine stays the source of truth; the model only narrates the
// decision and flags cases an analyst should look at.
package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fraudlab/riskrules/rules"
)

// Confidence grades how certain the model is about its explanation.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Valid reports whether c is a recognized confidence grade.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Explanation is the structured output of one explanation request.
type Explanation struct {
	HumanReadableExplanation string     `json:"human_readable_explanation"`
	Confidence               Confidence `json:"confidence"`
	NeedsHumanReview         bool       `json:"needs_human_review"`
	ClarifyingQuestions      []string   `json:"clarifying_questions"`
	AdditionalContext        string     `json:"additional_context,omitempty"`
}

// Config holds parameters for the explanation endpoint.
type Config struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// ConfigFromEnv builds a Config from LLM_API_URL, LLM_API_KEY and
// LLM_MODEL. The returned config is unavailable when no URL is set.
func ConfigFromEnv() Config {
	return Config{
		APIURL: os.Getenv("LLM_API_URL"),
		APIKey: os.Getenv("LLM_API_KEY"),
		Model:  os.Getenv("LLM_MODEL"),
	}
}

// Explainer generates explanations for rule decisions.
type Explainer struct {
	cfg    Config
	client *http.Client
}

// New creates an explainer. Zero MaxTokens and Timeout get defaults.
func New(cfg Config) *Explainer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Explainer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Available reports whether the explainer is configured with an endpoint.
func (e *Explainer) Available() bool {
	return e.cfg.APIURL != ""
}

const systemPrompt = `You are a fraud analyst assistant. You receive a transaction and the deterministic rule decision made for it, and must explain the decision in plain language for a human reviewer. Never second-guess the decision itself.

Return ONLY valid JSON, no markdown fences, no commentary:
{"human_readable_explanation":"<2-3 sentences>","confidence":"HIGH|MEDIUM|LOW","needs_human_review":<bool>,"clarifying_questions":["<question>"],"additional_context":"<optional>"}

Set needs_human_review to true when the decision is REVIEW, when the risk score is between 40 and 70, or when the transaction data looks incomplete. Keep clarifying_questions empty unless there is something concrete an analyst should ask.`

// Explain generates an explanation for one evaluated transaction.
func (e *Explainer) Explain(ctx context.Context, record rules.Record, result rules.RuleResult) (*Explanation, error) {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule result: %w", err)
	}

	prompt := fmt.Sprintf("Transaction:\n%s\n\nRule decision:\n%s", recordJSON, resultJSON)

	body, _ := json.Marshal(map[string]any{
		"model": e.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"max_tokens":  e.cfg.MaxTokens,
		"temperature": 0,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explanation request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explanation endpoint returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &completion); err != nil || len(completion.Choices) == 0 {
		return nil, fmt.Errorf("empty explanation response")
	}

	return parseExplanation(completion.Choices[0].Message.Content)
}

// ExplainOrFallback explains a result, substituting a deterministic
// fallback when the endpoint is unconfigured or the call fails. The
// returned error reports the failure but the explanation is always
// usable.
func (e *Explainer) ExplainOrFallback(ctx context.Context, record rules.Record, result rules.RuleResult) (*Explanation, error) {
	if !e.Available() {
		return Fallback(result), nil
	}
	explanation, err := e.Explain(ctx, record, result)
	if err != nil {
		return Fallback(result), err
	}
	return explanation, nil
}

// Fallback builds an explanation from the rule result alone, used when no
// model is reachable. Confidence is LOW and REVIEW decisions are flagged
// for a human.
func Fallback(result rules.RuleResult) *Explanation {
	return &Explanation{
		HumanReadableExplanation: fmt.Sprintf(
			"Transaction %s was given decision %s (risk score %d) by rule %q: %s",
			result.TransactionID, result.Decision, result.RiskScore, result.MatchedRuleName, result.RuleReason,
		),
		Confidence:          ConfidenceLow,
		NeedsHumanReview:    result.Decision == rules.DecisionReview,
		ClarifyingQuestions: []string{},
	}
}

// parseExplanation decodes the model's JSON, stripping markdown fences
// some models wrap around their output. Unknown confidence grades degrade
// to LOW with a forced review flag rather than failing the request.
func parseExplanation(raw string) (*Explanation, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var explanation Explanation
	if err := json.Unmarshal([]byte(raw), &explanation); err != nil {
		return nil, fmt.Errorf("cannot parse explanation response: %s", truncate(raw, 200))
	}
	if explanation.HumanReadableExplanation == "" {
		return nil, fmt.Errorf("explanation response missing human_readable_explanation")
	}
	if !explanation.Confidence.Valid() {
		explanation.Confidence = ConfidenceLow
		explanation.NeedsHumanReview = true
	}
	if explanation.ClarifyingQuestions == nil {
		explanation.ClarifyingQuestions = []string{}
	}
	return &explanation, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
