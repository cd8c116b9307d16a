package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"

	"celluloid/internal/config"
)

// Client talks to the inference sidecar over HTTP. Frames and crops are sent
// as JPEG bodies; responses are JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	minScore   float64
	maxResults int
}

// NewClient builds a sidecar client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    cfg.Inference.BaseURL,
		httpClient: &http.Client{Timeout: cfg.InferenceTimeout()},
		minScore:   cfg.Detection.MinScore,
		maxResults: cfg.Detection.MaxResults,
	}
}

var _ Detector = (*Client)(nil)
var _ Embedder = (*Client)(nil)
var _ FaceFinder = (*Client)(nil)

// Detect returns detections above the configured confidence floor, strongest
// first, capped at the configured result count.
func (c *Client) Detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	var response struct {
		Detections []Detection `json:"detections"`
	}
	if err := c.post(ctx, "/v1/detect", frame, &response); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	detections := make([]Detection, 0, len(response.Detections))
	for _, det := range response.Detections {
		if det.Confidence < c.minScore {
			continue
		}
		detections = append(detections, det)
		if len(detections) == c.maxResults {
			break
		}
	}
	return detections, nil
}

// Embed returns the appearance embedding for a crop.
func (c *Client) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	var response struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := c.post(ctx, "/v1/embed", crop, &response); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("embed: sidecar returned empty embedding")
	}
	return response.Embedding, nil
}

// HasFace reports whether a crop contains at least one detectable face.
func (c *Client) HasFace(ctx context.Context, crop image.Image) (bool, error) {
	var response struct {
		Count int `json:"count"`
	}
	if err := c.post(ctx, "/v1/faces", crop, &response); err != nil {
		return false, fmt.Errorf("faces: %w", err)
	}
	return response.Count > 0, nil
}

func (c *Client) post(ctx context.Context, path string, img image.Image, out any) error {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("encode image: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call sidecar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sidecar returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode sidecar response: %w", err)
	}
	return nil
}
