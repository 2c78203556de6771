package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/a-h/labreport/chunk"
	"github.com/a-h/labreport/codegen"
	"github.com/a-h/labreport/extract"
	"github.com/a-h/labreport/pipeline"
	"github.com/a-h/labreport/report"
	"github.com/a-h/labreport/retrieval"
	"github.com/a-h/labreport/sandbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// PipelineFlags configures the models and limits used to generate a report.
type PipelineFlags struct {
	HFAPIToken      string        `help:"The Hugging Face API token used by the code model." name:"hf-api-token" env:"HF_API_TOKEN" default:""`
	CodeModelURL    string        `help:"The Hugging Face inference URL of the code model." env:"CODE_MODEL_URL" default:"${code_model_url}"`
	CodeTemperature float64       `help:"The sampling temperature of the code model." env:"CODE_TEMPERATURE" default:"0.2"`
	CodeMaxAttempts int           `help:"The number of requests made while the code model is loading." env:"CODE_MAX_ATTEMPTS" default:"5"`
	CodeRetryWait   time.Duration `help:"The wait between requests while the code model is loading." env:"CODE_RETRY_WAIT" default:"10s"`
	GroqAPIKey      string        `help:"The Groq API key used by the report model." env:"GROQ_API_KEY" default:""`
	ReportModel     string        `help:"The report model." env:"REPORT_MODEL" default:"${report_model}"`
	ReportBaseURL   string        `help:"The OpenAI compatible base URL of the report model." env:"REPORT_BASE_URL" default:"${report_base_url}"`
	ReportPrompt    string        `help:"A file containing the report prompt template, with three %s placeholders for context, observations and results." env:"REPORT_PROMPT" default:""`
	ReportMaxTokens int           `help:"The maximum number of tokens in a report." env:"REPORT_MAX_TOKENS" default:"2048"`
	Embedder        string        `help:"The embedding provider." env:"EMBEDDER" enum:"ollama,openai" default:"ollama"`
	OllamaURL       string        `help:"The URL of the Ollama server." env:"OLLAMA_URL" default:"http://127.0.0.1:11434/"`
	EmbeddingModel  string        `help:"The model to use for embeddings." env:"EMBEDDING_MODEL" default:"all-minilm"`
	EmbeddingURL    string        `help:"The OpenAI compatible base URL used for embeddings when the provider is openai." env:"EMBEDDING_URL" default:""`
	EmbeddingAPIKey string        `help:"The API key used for embeddings when the provider is openai." env:"EMBEDDING_API_KEY" default:""`
	ModelTimeout    time.Duration `help:"The timeout for embedding and report model requests." env:"MODEL_TIMEOUT" default:"2m"`
	ChunkSize       int           `help:"The maximum chunk size in characters." env:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap    int           `help:"The overlap between chunks in characters." env:"CHUNK_OVERLAP" default:"150"`
	K               int           `help:"The number of manual chunks to retrieve." env:"K" default:"5"`
	SandboxTimeout  time.Duration `help:"The wall clock limit for generated code." env:"SANDBOX_TIMEOUT" default:"5s"`
	SandboxMaxSteps uint64        `help:"The execution step limit for generated code." env:"SANDBOX_MAX_STEPS" default:"10000000"`
	SecretKey       string        `help:"Accepted for compatibility, not used." env:"SECRET_KEY" default:""`
	LogLevel        string        `help:"The log level to use." env:"LOG_LEVEL" default:"info"`
}

var pipelineVars = map[string]string{
	"code_model_url":  codegen.DefaultURL,
	"report_model":    report.DefaultModel,
	"report_base_url": report.DefaultBaseURL,
}

func (f PipelineFlags) newEmbedder(httpClient *http.Client) (embeddings.Embedder, error) {
	var client embeddings.EmbedderClient
	switch f.Embedder {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(f.EmbeddingAPIKey),
			openai.WithEmbeddingModel(f.EmbeddingModel),
			openai.WithHTTPClient(httpClient),
		}
		if f.EmbeddingURL != "" {
			opts = append(opts, openai.WithBaseURL(f.EmbeddingURL))
		}
		ec, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai embedding client: %w", err)
		}
		client = ec
	default:
		ec, err := ollama.New(
			ollama.WithModel(f.EmbeddingModel),
			ollama.WithHTTPClient(httpClient),
			ollama.WithServerURL(f.OllamaURL))
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama embedding client: %w", err)
		}
		client = ec
	}
	return embeddings.NewEmbedder(client)
}

func (f PipelineFlags) newReportModel(httpClient *http.Client) (llms.Model, error) {
	if f.GroqAPIKey == "" {
		// report.New reports the missing key as a configuration error.
		return nil, nil
	}
	llm, err := openai.New(
		openai.WithToken(f.GroqAPIKey),
		openai.WithBaseURL(f.ReportBaseURL),
		openai.WithModel(f.ReportModel),
		openai.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create report model: %w", err)
	}
	return llm, nil
}

// newPipeline builds every stage up front so that missing credentials stop
// the command before any request is handled.
func (f PipelineFlags) newPipeline(log *slog.Logger, reg prometheus.Registerer) (*pipeline.Pipeline, error) {
	prompt, err := readFileOrDefault(f.ReportPrompt, report.DefaultPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to read report prompt: %w", err)
	}

	log.Info("creating model clients")
	httpClient := &http.Client{Timeout: f.ModelTimeout}
	emb, err := f.newEmbedder(httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	gen, err := codegen.New(log, codegen.Config{
		URL:           f.CodeModelURL,
		Token:         f.HFAPIToken,
		MaxAttempts:   f.CodeMaxAttempts,
		RetryInterval: f.CodeRetryWait,
		Temperature:   f.CodeTemperature,
	})
	if err != nil {
		return nil, err
	}
	llm, err := f.newReportModel(httpClient)
	if err != nil {
		return nil, err
	}
	composer, err := report.New(log, llm, report.Config{
		Temperature: report.DefaultTemperature,
		MaxTokens:   f.ReportMaxTokens,
		Prompt:      prompt,
	})
	if err != nil {
		return nil, err
	}

	stages := pipeline.Stages{
		Extractor: extract.New(log),
		Splitter:  chunk.New(f.ChunkSize, f.ChunkOverlap),
		Embedder:  emb,
		Generator: gen,
		Executor: sandbox.New(log, sandbox.Config{
			Timeout:  f.SandboxTimeout,
			MaxSteps: f.SandboxMaxSteps,
		}),
		Composer: composer,
	}
	return pipeline.New(log, stages, pipeline.Config{
		Query:   retrieval.DefaultQuery,
		K:       f.K,
		Metrics: pipeline.NewMetrics(reg),
	}), nil
}

func readFileOrDefault(filename, defaultContent string) (string, error) {
	if filename == "" {
		return defaultContent, nil
	}
	contents, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return string(contents), nil
}
