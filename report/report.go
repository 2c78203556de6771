// Package report writes the final lab report with a chat model.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a-h/labreport"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultTemperature = 1.0
	DefaultMaxTokens   = 2048
)

// Sections are the headings every report must contain, in order.
var Sections = []string{
	"Aim",
	"Theory",
	"Apparatus / Requirements",
	"Procedure",
	"Observations",
	"Calculations / Results",
	"Conclusion",
}

// DefaultPrompt is a fmt template taking the manual context, the observations
// and the calculated results, in that order.
var DefaultPrompt = `You are a meticulous scientific assistant. Your task is to write a formal and detailed lab report using the provided information.

INSTRUCTIONS

1. Report structure. The report MUST include the following sections, each with a clear heading:
` + "- " + strings.Join(Sections, "\n- ") + `

2. Tone and style. Use formal, objective language in clear and complete sentences, with smooth transitions between sections.

3. Data handling. Accurately present all data from the OBSERVATIONS and CALCULATED RESULTS below. If the observations are missing or incomplete, generate realistic sample readings consistent with the experiment. If the calculated results are missing or contain an error message, generate appropriate sample calculations based on the observations.

4. Formatting. The response must be plain text only. Do not use markdown or emojis.

PROVIDED INFORMATION

AIM, THEORY AND PROCEDURE (extracted from the lab manual):
%s

OBSERVATIONS (provided by the user):
%s

CALCULATED RESULTS (from the executed calculation code):
%s

END OF INFORMATION

Now write the complete lab report.`

type Config struct {
	Temperature float64
	MaxTokens   int
	Prompt      string
}

func New(log *slog.Logger, llm llms.Model, cfg Config) (Composer, error) {
	if llm == nil {
		return Composer{}, labreport.ConfigurationError{Setting: "GROQ_API_KEY", Reason: "report model is not configured"}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if n := strings.Count(cfg.Prompt, "%s"); n != 3 {
		return Composer{}, labreport.ConfigurationError{Setting: "REPORT_PROMPT", Reason: fmt.Sprintf("expected 3 %%s placeholders, got %d", n)}
	}
	return Composer{
		log: log,
		llm: llm,
		cfg: cfg,
	}, nil
}

type Composer struct {
	log *slog.Logger
	llm llms.Model
	cfg Config
}

func (c Composer) Prompt(ragContext, observations, results string) string {
	return fmt.Sprintf(c.cfg.Prompt, ragContext, observations, results)
}

// Compose returns the report text. Any failure to get text back from the
// model is an error; error text is never returned as a report.
func (c Composer) Compose(ctx context.Context, ragContext, observations, results string) (report string, err error) {
	start := time.Now()
	resp, err := c.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, c.Prompt(ragContext, observations, results)),
	}, llms.WithTemperature(c.cfg.Temperature), llms.WithMaxTokens(c.cfg.MaxTokens))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return "", fmt.Errorf("report generation stopped: %w", err)
		}
		return "", fmt.Errorf("%w: failed to generate report: %w", labreport.ErrAPI, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", fmt.Errorf("%w: empty response from report model", labreport.ErrAPI)
	}
	c.log.Debug("report generated", slog.Duration("duration", time.Since(start)), slog.Int("length", len(resp.Choices[0].Content)))
	return resp.Choices[0].Content, nil
}
