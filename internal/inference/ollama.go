// Package inference talks to the local model daemon. The primary backend is
// an Ollama-compatible HTTP API; a Google GenAI backend exists as an
// optional cloud fallback. Model memory estimation lives here too, next to
// the metadata it depends on.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"curator/internal/logging"
	"curator/internal/types"
)

// OllamaClient implements types.InferenceClient against an Ollama daemon.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Format  string                 `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Size    int64  `json:"size"`
		Details struct {
			Family            string `json:"family"`
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

type ollamaPsResponse struct {
	Models []struct {
		Name     string `json:"name"`
		Size     int64  `json:"size"`
		SizeVRAM int64  `json:"size_vram"`
	} `json:"models"`
}

// NewOllamaClient creates a client for the daemon at baseURL. The timeout
// bounds a single HTTP exchange; per-task timeouts arrive via context.
func NewOllamaClient(baseURL string, timeout time.Duration) *OllamaClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	logging.Inference("Initializing Ollama client (base_url=%s, timeout=%v)", baseURL, timeout)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Generate implements types.InferenceClient.
func (o *OllamaClient) Generate(ctx context.Context, model, prompt string, opts types.GenerateOptions) (*types.GenerateResult, error) {
	logging.InferenceDebug("Generating via Ollama (model=%s, format=%q, prompt_len=%d)", model, opts.Format, len(prompt))

	options := map[string]interface{}{
		"temperature": opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	payload := ollamaGenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Format:  opts.Format,
		Options: options,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	start := time.Now()
	// NewRequestWithContext so a task cancel aborts the daemon call
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.Get(logging.CategoryInference).Error("Ollama generate call failed: %v", err)
		return nil, types.NewKindError(types.ErrKindModelUnavailable,
			fmt.Errorf("ollama generate call failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewKindError(types.ErrKindIO,
			fmt.Errorf("failed to read generate response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, o.classifyStatus(model, resp.StatusCode, respBody)
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		logging.Get(logging.CategoryInference).Error("Failed to parse generate response: %v", err)
		return nil, types.NewKindError(types.ErrKindResponseInvalid,
			fmt.Errorf("failed to parse ollama response: %w", err))
	}

	elapsed := time.Since(start)
	logging.InferenceDebug("Ollama generate done (model=%s, took=%v, response_len=%d)", model, elapsed, len(out.Response))
	return &types.GenerateResult{
		Response:        out.Response,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

// classifyStatus maps daemon HTTP errors onto the error taxonomy.
func (o *OllamaClient) classifyStatus(model string, status int, body []byte) error {
	switch status {
	case http.StatusNotFound:
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil &&
			strings.Contains(errResp.Error, "model") && strings.Contains(errResp.Error, "not found") {
			logging.Get(logging.CategoryInference).Warn("Ollama model not found: %s", model)
			return types.Errorf(types.ErrKindModelUnavailable,
				"model %q not found; run: ollama pull %s", model, model)
		}
		return types.Errorf(types.ErrKindModelUnavailable, "ollama returned 404: %s", body)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return types.Errorf(types.ErrKindModelOverloaded, "ollama overloaded (status %d)", status)
	case http.StatusInsufficientStorage:
		return types.Errorf(types.ErrKindResourceExhausted, "ollama out of memory (status %d)", status)
	default:
		return types.Errorf(types.ErrKindUnknown, "ollama failed with status %d: %s", status, body)
	}
}

// ListModels implements types.InferenceClient via GET /api/tags.
func (o *OllamaClient) ListModels(ctx context.Context) ([]types.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tags request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, types.NewKindError(types.ErrKindModelUnavailable,
			fmt.Errorf("ollama tags call failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, types.Errorf(types.ErrKindModelUnavailable,
			"ollama tags failed with status %d: %s", resp.StatusCode, body)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, types.NewKindError(types.ErrKindResponseInvalid,
			fmt.Errorf("failed to parse tags response: %w", err))
	}

	models := make([]types.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, types.ModelInfo{
			Name:          m.Name,
			SizeBytes:     m.Size,
			Family:        m.Details.Family,
			ParameterSize: m.Details.ParameterSize,
			Quantization:  m.Details.QuantizationLevel,
		})
	}
	logging.InferenceDebug("Listed %d models from Ollama", len(models))
	return models, nil
}

// EstimateMemory implements types.InferenceClient. Loaded models report
// their live footprint via /api/ps; unloaded models fall back to the
// on-disk size from /api/tags.
func (o *OllamaClient) EstimateMemory(ctx context.Context, model string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/ps", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create ps request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			var ps ollamaPsResponse
			if err := json.NewDecoder(resp.Body).Decode(&ps); err == nil {
				for _, m := range ps.Models {
					if m.Name == model {
						footprint := m.SizeVRAM
						if footprint == 0 {
							footprint = m.Size
						}
						logging.InferenceDebug("Live footprint for %s: %d bytes", model, footprint)
						return footprint, nil
					}
				}
			}
		}
	}

	// Not loaded; use the on-disk size as the base estimate.
	models, err := o.ListModels(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range models {
		if m.Name == model {
			return m.SizeBytes, nil
		}
	}
	return 0, types.Errorf(types.ErrKindModelUnavailable, "model %q not known to daemon", model)
}

// HealthStatus implements types.InferenceClient.
func (o *OllamaClient) HealthStatus(ctx context.Context) (types.HealthStatus, error) {
	models, err := o.ListModels(ctx)
	if err != nil {
		return types.HealthStatus{
			Status:   "unavailable",
			Messages: []string{err.Error()},
		}, nil
	}

	status := types.HealthStatus{
		Status:     "healthy",
		ModelCount: len(models),
	}
	if len(models) == 0 {
		status.Status = "degraded"
		status.Messages = append(status.Messages, "daemon reachable but no models installed")
	}
	return status, nil
}
