// File: internal/llmclient/gemini_client.go

// Package llmclient is the gateway to the model endpoint. It owns HTTP-level
// concerns only: payload assembly, rate limiting and transient-status retry.
// Semantic recovery from bad model output belongs to the orchestration loop.
package llmclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GeminiClient implements schemas.LLMClient against the Gemini
// generateContent API.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	cfg        config.LLMConfig
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// -- Gemini API request/response structures (internal to this file) --

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiClient initializes the client. Credential and model name are
// required; their absence is a configuration error at construction.
func NewGeminiClient(cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: llm.api_key", schemas.ErrConfiguration)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: llm.model", schemas.ErrConfiguration)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &GeminiClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		cfg:      cfg,
		limiter:  limiter,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("llm_client.gemini"),
	}, nil
}

// GenerateResponse sends the assembled prompt to the Gemini API and returns
// the first candidate's text, retrying transient failures.
func (c *GeminiClient) GenerateResponse(ctx context.Context, parts schemas.PromptParts) (string, error) {
	body, err := json.Marshal(c.buildRequestPayload(parts))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var responseContent string

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return &schemas.GatewayError{Err: err}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return &schemas.GatewayError{Err: fmt.Errorf("failed to read response body: %w", err)}
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload geminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(&schemas.GatewayError{Err: fmt.Errorf("failed to decode response payload: %w", err)})
		}

		if len(responsePayload.Candidates) == 0 {
			return backoff.Permanent(&schemas.GatewayError{Err: fmt.Errorf("gemini API returned no candidates")})
		}

		candidate := responsePayload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(&schemas.GatewayError{Err: fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason)})
			}
			return &schemas.GatewayError{Err: fmt.Errorf("gemini API returned empty content parts (reason: %s)", candidate.FinishReason)}
		}

		c.logger.Info("LLM generation complete",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
			zap.Int("total_tokens", responsePayload.UsageMetadata.TotalTokenCount),
		)

		responseContent = candidate.Content.Parts[0].Text
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

// buildRequestPayload maps PromptParts onto the Gemini message shape: the
// system prompt plus optional context and error blocks become
// system_instruction parts; the state text and the screenshot form the single
// user turn.
func (c *GeminiClient) buildRequestPayload(parts schemas.PromptParts) geminiRequestPayload {
	sys := &geminiSystemInstruction{Parts: []geminiPart{{Text: parts.System}}}
	if parts.Context != "" {
		sys.Parts = append(sys.Parts, geminiPart{Text: parts.Context})
	}
	if parts.ErrorContext != "" {
		sys.Parts = append(sys.Parts, geminiPart{Text: parts.ErrorContext})
	}

	userParts := []geminiPart{{Text: parts.State}}
	if len(parts.Image) > 0 {
		userParts = append(userParts, geminiPart{
			InlineData: &geminiInlineData{
				MimeType: "image/png",
				Data:     base64.StdEncoding.EncodeToString(parts.Image),
			},
		})
	}

	return geminiRequestPayload{
		Contents:          []geminiContent{{Role: "user", Parts: userParts}},
		SystemInstruction: sys,
		GenerationConfig: geminiGenerationConfig{
			Temperature:      c.cfg.Temperature,
			ResponseMimeType: "application/json",
			MaxOutputTokens:  c.cfg.MaxTokens,
		},
	}
}

// handleAPIError classifies a non-2xx status: rate limits and server errors
// are transient and retried, everything else is permanent.
func (c *GeminiClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Gemini API returned error status", zap.Int("status", statusCode), zap.ByteString("response", body))
	err := &schemas.GatewayError{StatusCode: statusCode, Body: string(body)}

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err
	default:
		return backoff.Permanent(err)
	}
}
