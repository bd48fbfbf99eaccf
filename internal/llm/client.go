// Package llm is the text-generation capability used by the stage workers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	apperrors "jobpilot-workers/internal/common/errors"
	apphttp "jobpilot-workers/internal/common/http"
	"jobpilot-workers/internal/common/logger"

	"golang.org/x/time/rate"
)

// Generator turns a prompt, optionally with base64 images, into text.
type Generator interface {
	TextGenerate(ctx context.Context, prompt string, images []string) (string, error)
}

type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	VisionModel       string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute float64
	Temperature       float64
}

// Recorder receives per-call latency and outcome.
type Recorder interface {
	RecordLLMCall(ctx context.Context, model string, d time.Duration, err error)
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	config   Config
	http     *apphttp.Client
	limiter  *rate.Limiter
	recorder Recorder
	logger   logger.Logger
}

func NewClient(config Config, log logger.Logger, opts ...apphttp.Option) *Client {
	opts = append([]apphttp.Option{apphttp.WithRetries(config.MaxRetries, time.Second)}, opts...)

	limit := rate.Inf
	if config.RequestsPerMinute > 0 {
		limit = rate.Limit(config.RequestsPerMinute / 60)
	}

	return &Client{
		config:  config,
		http:    apphttp.NewClient(config.Timeout, opts...),
		limiter: rate.NewLimiter(limit, 1),
		logger:  log.WithFields(map[string]interface{}{"component": "llm"}),
	}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// WithRecorder attaches call metrics.
func (c *Client) WithRecorder(r Recorder) *Client {
	c.recorder = r
	return c
}

// TextGenerate never returns an empty string with a nil error.
func (c *Client) TextGenerate(ctx context.Context, prompt string, images []string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", apperrors.NewLLMTimeoutError(err)
	}

	req := chatRequest{
		Model:       c.config.Model,
		Temperature: c.config.Temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	}
	if len(images) > 0 {
		req.Model = c.config.VisionModel
		parts := []contentPart{{Type: "text", Text: prompt}}
		for _, img := range images {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: dataURL(img)}})
		}
		req.Messages = []chatMessage{{Role: "user", Content: parts}}
	}

	started := time.Now()
	var resp chatResponse
	err := c.http.PostJSON(ctx, strings.TrimRight(c.config.BaseURL, "/")+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + c.config.APIKey}, req, &resp)
	if c.recorder != nil {
		c.recorder.RecordLLMCall(ctx, req.Model, time.Since(started), err)
	}
	if err != nil {
		return "", classify(err)
	}
	if resp.Error != nil {
		return "", apperrors.NewRetryable(apperrors.ErrCodeLLMRequestFailed, "language model error", errors.New(resp.Error.Message))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", apperrors.NewRetryable(apperrors.ErrCodeLLMEmpty, "language model returned no text", nil)
	}

	c.logger.Debug("completion received", map[string]interface{}{
		"model":      req.Model,
		"images":     len(images),
		"durationMs": time.Since(started).Milliseconds(),
	})
	return resp.Choices[0].Message.Content, nil
}

// classify maps transport failures to error kinds. A 4xx other than 429
// (bad key, unknown model) will not heal on redelivery and is fatal.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.NewLLMTimeoutError(err)
	}
	var statusErr *apphttp.StatusError
	if errors.As(err, &statusErr) && !statusErr.Temporary() {
		return apperrors.NewFatal(apperrors.ErrCodeLLMRequestFailed, "language model rejected the request", err)
	}
	return apperrors.NewRetryable(apperrors.ErrCodeLLMRequestFailed, "language model request failed", err)
}

func dataURL(img string) string {
	if strings.HasPrefix(img, "data:") {
		return img
	}
	return fmt.Sprintf("data:%s;base64,%s", sniffImageType(img), img)
}

func sniffImageType(b64 string) string {
	switch {
	case strings.HasPrefix(b64, "iVBOR"):
		return "image/png"
	case strings.HasPrefix(b64, "R0lGOD"):
		return "image/gif"
	case strings.HasPrefix(b64, "UklGR"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
