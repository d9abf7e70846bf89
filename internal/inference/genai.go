package inference

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"curator/internal/logging"
	"curator/internal/types"
)

// GenAIClient implements types.InferenceClient against the Google GenAI
// API. It exists as an optional cloud fallback for when the local daemon
// is unreachable; memory accounting does not apply to it.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient creates a cloud fallback client. The API key comes from
// the caller (typically GEMINI_API_KEY).
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	logging.Inference("Initialized GenAI cloud fallback (model=%s)", model)
	return &GenAIClient{client: client, model: model}, nil
}

// Generate implements types.InferenceClient. The model argument is
// ignored; the cloud fallback always uses its configured model.
func (g *GenAIClient) Generate(ctx context.Context, _ string, prompt string, opts types.GenerateOptions) (*types.GenerateResult, error) {
	cfg := &genai.GenerateContentConfig{}
	if opts.Format == "json" {
		cfg.ResponseMIMEType = "application/json"
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	temp := opts.Temperature
	cfg.Temperature = &temp

	start := time.Now()
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return nil, types.NewKindError(types.ErrKindModelUnavailable,
			fmt.Errorf("GenAI generate failed: %w", err))
	}

	text := result.Text()
	if text == "" {
		return nil, types.Errorf(types.ErrKindResponseInvalid, "GenAI returned empty response")
	}

	return &types.GenerateResult{
		Response:        text,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// ListModels implements types.InferenceClient. The cloud backend exposes
// only its configured model.
func (g *GenAIClient) ListModels(_ context.Context) ([]types.ModelInfo, error) {
	return []types.ModelInfo{{Name: g.model, Family: "gemini"}}, nil
}

// EstimateMemory implements types.InferenceClient. Cloud inference holds
// no local memory.
func (g *GenAIClient) EstimateMemory(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

// HealthStatus implements types.InferenceClient.
func (g *GenAIClient) HealthStatus(_ context.Context) (types.HealthStatus, error) {
	return types.HealthStatus{Status: "healthy", ModelCount: 1}, nil
}
