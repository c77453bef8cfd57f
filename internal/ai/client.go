package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
	"github.com/syukriyansyah-ipb/object-detection/internal/video"
)

// Client is an HTTP client for the inference service. It implements Detector.
type Client struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger

	mu                    sync.RWMutex
	defaultConfidence     float64
	defaultEnabledClasses []string
}

// ClientConfig contains configuration for the inference client
type ClientConfig struct {
	ServiceURL          string
	Timeout             time.Duration
	ConfidenceThreshold float64
	EnabledClasses      []string
}

// NewClient creates a new inference service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		serviceURL: config.ServiceURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:                log,
		defaultConfidence:     config.ConfidenceThreshold,
		defaultEnabledClasses: config.EnabledClasses,
	}
}

// Detect sends frame to the service and returns its detections. Every failure
// wraps ErrInferenceFailure.
func (c *Client) Detect(ctx context.Context, frame video.Frame) (DetectionSet, error) {
	resp, err := c.Infer(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailure, err)
	}
	return resp.Detections(), nil
}

// Infer performs inference on a single frame
func (c *Client) Infer(ctx context.Context, frame video.Frame) (*InferenceResponse, error) {
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("frame %d has no data", frame.Seq)
	}

	req := InferenceRequest{
		Image: base64.StdEncoding.EncodeToString(frame.Data),
	}

	c.mu.RLock()
	if c.defaultConfidence > 0 {
		threshold := c.defaultConfidence
		req.ConfidenceThreshold = &threshold
	}
	if len(c.defaultEnabledClasses) > 0 {
		req.EnabledClasses = append([]string(nil), c.defaultEnabledClasses...)
	}
	c.mu.RUnlock()

	return c.inferRequest(ctx, req)
}

// inferRequest performs a single inference request
func (c *Client) inferRequest(ctx context.Context, req InferenceRequest) (*InferenceResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/inference", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending inference request", "url", url)
	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	requestDuration := time.Since(startTime)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn(
			"Inference service returned error",
			"status", resp.StatusCode,
			"response", string(body),
		)
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, string(body))
	}

	var inferenceResp InferenceResponse
	if err := json.Unmarshal(body, &inferenceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug(
		"Inference completed",
		"detection_count", len(inferenceResp.BoundingBoxes),
		"inference_time_ms", inferenceResp.InferenceTimeMs,
		"request_duration_ms", requestDuration.Milliseconds(),
	)

	return &inferenceResp, nil
}

// HealthCheck checks if the inference service is ready
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service health check failed: status %d", resp.StatusCode)
	}

	return nil
}

// SetConfidenceThreshold updates the threshold sent with each request
func (c *Client) SetConfidenceThreshold(threshold float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultConfidence = threshold
}

// SetEnabledClasses updates the class filter sent with each request
func (c *Client) SetEnabledClasses(classes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultEnabledClasses = append([]string(nil), classes...)
}
