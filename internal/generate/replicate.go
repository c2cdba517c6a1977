package generate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"personalens/internal/config"
	"personalens/internal/profile"
)

// ReplicateClient implements ImageProvider against the Replicate HTTP API
// using blocking predictions (Prefer: wait).
type ReplicateClient struct {
	apiToken    string
	baseURL     string
	model       string
	aspectRatio string
	client      *http.Client
}

// NewReplicateClient creates an image provider from configuration.
func NewReplicateClient(cfg config.GenerationConfig) (*ReplicateClient, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("replicate API token is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "minimax/image-01"
	}
	aspectRatio := cfg.AspectRatio
	if aspectRatio == "" {
		aspectRatio = "3:4"
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ReplicateClient{
		apiToken:    cfg.APIToken,
		baseURL:     baseURL,
		model:       model,
		aspectRatio: aspectRatio,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

type replicateRequest struct {
	Input replicateInput `json:"input"`
}

type replicateInput struct {
	Prompt           string `json:"prompt"`
	AspectRatio      string `json:"aspect_ratio"`
	SubjectReference string `json:"subject_reference,omitempty"`
}

type replicateResponse struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  *string         `json:"error"`
}

// Generate runs one blocking prediction. There is no retry: an image that
// fails stays failed for this run.
func (c *ReplicateClient) Generate(ctx context.Context, prompt, baseImagePath string) (string, error) {
	input := replicateInput{
		Prompt:      prompt,
		AspectRatio: c.aspectRatio,
	}
	if baseImagePath != "" {
		ref, err := encodeImage(baseImagePath)
		if err != nil {
			return "", fmt.Errorf("failed to read base image: %w", err)
		}
		input.SubjectReference = ref
	}

	body, err := json.Marshal(replicateRequest{Input: input})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "wait")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", profile.Unavailable("replicate", profile.UnavailableDown, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusTooManyRequests:
		return "", profile.Unavailable("replicate", profile.UnavailableRateLimit, fmt.Errorf("status 429"))
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", profile.Unavailable("replicate", profile.UnavailableAuth, fmt.Errorf("status %d", resp.StatusCode))
	default:
		return "", fmt.Errorf("replicate returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var pred replicateResponse
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if pred.Error != nil && *pred.Error != "" {
		return "", fmt.Errorf("prediction failed: %s", *pred.Error)
	}

	return firstOutputURL(pred.Output)
}

// firstOutputURL handles both output shapes: a single URL string or a list.
func firstOutputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("prediction returned no output")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0], nil
	}
	return "", fmt.Errorf("unrecognized prediction output: %s", string(raw))
}

func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}
