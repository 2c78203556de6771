// Package codegen asks a hosted code model to write calculation code for a
// lab experiment.
package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/jsonapi"
	"github.com/a-h/labreport"
	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultURL = "https://api-inference.huggingface.co/models/Barghav777/phi3-lab-report-coder"

	// CodeMarker ends the prompt. The model continues after it, and some
	// endpoints echo the prompt back, so output is read after its last occurrence.
	CodeMarker = "### CODE:\n"
)

var ErrUnexpectedResponse = errors.New("unexpected response format")

// APIError is returned for any non-success response other than a loading model.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("code model request failed [%d]: %s", e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == labreport.ErrAPI
}

type Config struct {
	URL   string
	Token string
	// MaxAttempts bounds the requests made while the model is loading.
	MaxAttempts int
	// RetryInterval is the fixed wait between attempts.
	RetryInterval  time.Duration
	AttemptTimeout time.Duration
	MaxNewTokens   int
	Temperature    float64
}

func New(log *slog.Logger, cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, labreport.ConfigurationError{Setting: "HF_API_TOKEN", Reason: "Hugging Face API token is missing"}
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if _, err := jsonapi.URL(cfg.URL).String(); err != nil {
		return nil, labreport.ConfigurationError{Setting: "CODE_MODEL_URL", Reason: err.Error()}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 10 * time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = time.Minute
	}
	if cfg.MaxNewTokens <= 0 {
		cfg.MaxNewTokens = 256
	}
	return &Client{
		log: log,
		cfg: cfg,
	}, nil
}

type Client struct {
	log *slog.Logger
	cfg Config
}

type request struct {
	Inputs     string     `json:"inputs"`
	Parameters parameters `json:"parameters"`
}

type parameters struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
}

type generation struct {
	GeneratedText string `json:"generated_text"`
}

func Prompt(ragContext, observations string) string {
	var sb strings.Builder
	sb.WriteString("### CONTEXT:\n")
	sb.WriteString(ragContext)
	sb.WriteString("\n\n### OBSERVATIONS:\n")
	sb.WriteString(observations)
	sb.WriteString("\n\n")
	sb.WriteString(CodeMarker)
	return sb.String()
}

// Generate returns calculation code for the observations.
func (c *Client) Generate(ctx context.Context, ragContext, observations string) (code string, err error) {
	if c == nil || c.cfg.Token == "" {
		return "", labreport.ConfigurationError{Setting: "HF_API_TOKEN", Reason: "Hugging Face API token is missing"}
	}
	body, err := json.Marshal(request{
		Inputs: Prompt(ragContext, observations),
		Parameters: parameters{
			MaxNewTokens: c.cfg.MaxNewTokens,
			Temperature:  c.cfg.Temperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var attempt int
	op := func() (string, error) {
		attempt++
		return c.post(ctx, body)
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("code model request failed, retrying", slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.Any("error", err))
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryInterval), uint64(c.cfg.MaxAttempts-1)), ctx)
	raw, err := backoff.RetryNotifyWithData[string](op, b, notify)
	if err != nil {
		if errors.Is(err, errLoading) {
			return "", fmt.Errorf("%w: model did not load after %d attempts: %w", labreport.ErrModelUnavailable, attempt, err)
		}
		if errors.Is(err, errTransport) {
			return "", fmt.Errorf("%w: code model request failed after %d attempts: %w", labreport.ErrAPI, attempt, err)
		}
		return "", err
	}
	return ExtractCode(raw), nil
}

var (
	errLoading   = errors.New("model is loading")
	errTransport = errors.New("transport failure")
)

// post makes one request. Errors other than a loading model or a transport
// failure are permanent.
func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	res, err := jsonapi.Raw(req,
		jsonapi.WithRequestHeader("Authorization", "Bearer "+c.cfg.Token),
		jsonapi.WithRequestHeader("Content-Type", "application/json"))
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", backoff.Permanent(ctx.Err())
		}
		return "", fmt.Errorf("%w: request failed: %w", errTransport, err)
	}
	defer res.Body.Close()
	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", errTransport, err)
	}
	switch res.StatusCode {
	case http.StatusOK:
		text, err := parseGeneration(payload)
		if err != nil {
			return "", backoff.Permanent(&APIError{Status: res.StatusCode, Body: fmt.Sprintf("%v: %s", err, payload)})
		}
		return text, nil
	case http.StatusServiceUnavailable:
		return "", fmt.Errorf("%w: %s", errLoading, strings.TrimSpace(string(payload)))
	}
	return "", backoff.Permanent(&APIError{Status: res.StatusCode, Body: string(payload)})
}

// parseGeneration accepts either a list of generations or a single one.
func parseGeneration(payload []byte) (string, error) {
	var list []generation
	if err := json.Unmarshal(payload, &list); err == nil {
		if len(list) == 0 || list[0].GeneratedText == "" {
			return "", ErrUnexpectedResponse
		}
		return list[0].GeneratedText, nil
	}
	var single generation
	if err := json.Unmarshal(payload, &single); err != nil || single.GeneratedText == "" {
		return "", ErrUnexpectedResponse
	}
	return single.GeneratedText, nil
}

// ExtractCode returns the text after the last CodeMarker in raw, trimmed.
// When the marker is absent the whole output is used.
func ExtractCode(raw string) string {
	if i := strings.LastIndex(raw, CodeMarker); i >= 0 {
		return strings.TrimSpace(raw[i+len(CodeMarker):])
	}
	return strings.TrimSpace(raw)
}
