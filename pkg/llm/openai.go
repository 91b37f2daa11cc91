package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
)

const defaultModelTimeout = 120 * time.Second

// OpenAI speaks the OpenAI chat-completions wire protocol. Any
// provider exposing that protocol works through it with a base URL
// override.
type OpenAI struct {
	provider     string
	apiKey       string
	baseURL      string
	defaultModel string
	temperature  float64
	maxTokens    int
	client       *http.Client
}

// NewOpenAI builds the adapter for one configured provider.
func NewOpenAI(provider, apiKey string, cfg *config.ModelProviderConfig) *OpenAI {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultModelTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		provider:     provider,
		apiKey:       apiKey,
		baseURL:      baseURL,
		defaultModel: cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		client:       &http.Client{Timeout: timeout},
	}
}

func (o *OpenAI) Provider() string { return o.provider }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	op := "llm " + o.provider

	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	body := chatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if body.Temperature == 0 {
		body.Temperature = o.temperature
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = o.maxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, faults.Transformation(op, fmt.Errorf("encoding request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, faults.Transformation(op, fmt.Errorf("building request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.FromNetError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, faults.FromHTTPStatus(op, resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, faults.FromNetError(op, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, faults.Transformation(op, fmt.Errorf("decoding response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, faults.Newf(faults.KindAPI, "%s returned no choices", op)
	}

	respModel := parsed.Model
	if respModel == "" {
		respModel = model
	}
	return &Response{
		Content:          parsed.Choices[0].Message.Content,
		Model:            respModel,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}
