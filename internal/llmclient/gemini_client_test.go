// File: internal/llmclient/gemini_client_test.go
package llmclient

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

func testLLMConfig(endpoint string) config.LLMConfig {
	return config.LLMConfig{
		Model:       "gemini-2.5-flash",
		APIKey:      "test-key",
		Endpoint:    endpoint,
		APITimeout:  5 * time.Second,
		Temperature: 0.2,
		MaxTokens:   1024,
	}
}

const candidateBody = `{
	"candidates": [{"content": {"parts": [{"text": "{\"thinking\": \"ok\"}"}]}, "finishReason": "STOP"}],
	"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
}`

func TestNewGeminiClient_RequiresCredentials(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewGeminiClient(config.LLMConfig{Model: "m"}, logger)
	assert.ErrorIs(t, err, schemas.ErrConfiguration)

	_, err = NewGeminiClient(config.LLMConfig{APIKey: "k"}, logger)
	assert.ErrorIs(t, err, schemas.ErrConfiguration)
}

func TestGenerateResponse_Success(t *testing.T) {
	var captured struct {
		apiKey      string
		contentType string
		payload     geminiRequestPayload
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.apiKey = r.Header.Get("x-goog-api-key")
		captured.contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.payload))
		w.Write([]byte(candidateBody))
	}))
	defer srv.Close()

	client, err := NewGeminiClient(testLLMConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	out, err := client.GenerateResponse(context.Background(), schemas.PromptParts{
		System:       "system prompt",
		Context:      "history block",
		ErrorContext: "error block",
		State:        "state block",
		Image:        []byte{0x89, 0x50, 0x4e, 0x47},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"thinking": "ok"}`, out)

	assert.Equal(t, "test-key", captured.apiKey)
	assert.Equal(t, "application/json", captured.contentType)

	// System instruction stacks system, context and error blocks in order.
	require.NotNil(t, captured.payload.SystemInstruction)
	require.Len(t, captured.payload.SystemInstruction.Parts, 3)
	assert.Equal(t, "system prompt", captured.payload.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "history block", captured.payload.SystemInstruction.Parts[1].Text)
	assert.Equal(t, "error block", captured.payload.SystemInstruction.Parts[2].Text)

	// The single user turn carries state text plus the inline screenshot.
	require.Len(t, captured.payload.Contents, 1)
	parts := captured.payload.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "state block", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47}), parts[1].InlineData.Data)

	assert.Equal(t, "application/json", captured.payload.GenerationConfig.ResponseMimeType)
}

func TestGenerateResponse_OmitsEmptyBlocks(t *testing.T) {
	var payload geminiRequestPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Write([]byte(candidateBody))
	}))
	defer srv.Close()

	client, err := NewGeminiClient(testLLMConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = client.GenerateResponse(context.Background(), schemas.PromptParts{
		System: "sys", State: "state",
	})
	require.NoError(t, err)

	assert.Len(t, payload.SystemInstruction.Parts, 1)
	assert.Len(t, payload.Contents[0].Parts, 1, "no image part without a screenshot")
}

func TestGenerateResponse_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(candidateBody))
	}))
	defer srv.Close()

	client, err := NewGeminiClient(testLLMConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	out, err := client.GenerateResponse(context.Background(), schemas.PromptParts{System: "s", State: "s"})

	require.NoError(t, err)
	assert.Equal(t, `{"thinking": "ok"}`, out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateResponse_PermanentStatusFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid argument"}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient(testLLMConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = client.GenerateResponse(context.Background(), schemas.PromptParts{System: "s", State: "s"})

	var ge *schemas.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusBadRequest, ge.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}

func TestGenerateResponse_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient(testLLMConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = client.GenerateResponse(context.Background(), schemas.PromptParts{System: "s", State: "s"})

	var ge *schemas.GatewayError
	assert.ErrorAs(t, err, &ge)
}

func TestGenerateResponse_SafetyBlockIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient(testLLMConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = client.GenerateResponse(context.Background(), schemas.PromptParts{System: "s", State: "s"})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateResponse_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewGeminiClient(testLLMConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.GenerateResponse(ctx, schemas.PromptParts{System: "s", State: "s"})
	require.Error(t, err)
}

func TestNewGeminiClient_DefaultEndpoint(t *testing.T) {
	cfg := testLLMConfig("")
	client, err := NewGeminiClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Contains(t, client.endpoint, "generativelanguage.googleapis.com")
	assert.Contains(t, client.endpoint, cfg.Model)
}
