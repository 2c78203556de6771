package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/a-h/labreport"
	"github.com/a-h/labreport/pipeline"
	"github.com/a-h/labreport/report"
	"github.com/prometheus/client_golang/prometheus"
)

func validFlags() PipelineFlags {
	return PipelineFlags{
		HFAPIToken:     "hf-token",
		CodeModelURL:   "http://localhost:8080/models/coder",
		GroqAPIKey:     "groq-key",
		ReportModel:    report.DefaultModel,
		ReportBaseURL:  report.DefaultBaseURL,
		Embedder:       "ollama",
		OllamaURL:      "http://127.0.0.1:11434/",
		EmbeddingModel: "all-minilm",
		ChunkSize:      1000,
		ChunkOverlap:   150,
		K:              5,
		ModelTimeout:   2 * time.Minute,
	}
}

func TestNewPipeline(t *testing.T) {
	badPrompt := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(badPrompt, []byte("only %s here"), 0o644); err != nil {
		t.Fatalf("failed to write prompt: %v", err)
	}
	tests := []struct {
		name    string
		modify  func(f *PipelineFlags)
		setting string
	}{
		{
			name:   "valid settings build a pipeline",
			modify: func(f *PipelineFlags) {},
		},
		{
			name:    "a missing Hugging Face token is a configuration error",
			modify:  func(f *PipelineFlags) { f.HFAPIToken = "" },
			setting: "HF_API_TOKEN",
		},
		{
			name:    "a missing Groq key is a configuration error",
			modify:  func(f *PipelineFlags) { f.GroqAPIKey = "" },
			setting: "GROQ_API_KEY",
		},
		{
			name:    "a prompt without three placeholders is a configuration error",
			modify:  func(f *PipelineFlags) { f.ReportPrompt = badPrompt },
			setting: "REPORT_PROMPT",
		},
	}
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFlags()
			tt.modify(&f)
			p, err := f.newPipeline(log, prometheus.NewRegistry())
			if tt.setting == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if p == nil {
					t.Fatal("expected a pipeline")
				}
				return
			}
			if kind := labreport.KindOf(err); kind != labreport.KindConfiguration {
				t.Fatalf("expected configuration error, got %q (%v)", kind, err)
			}
			var ce labreport.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigurationError, got %T", err)
			}
			if ce.Setting != tt.setting {
				t.Errorf("expected setting %q, got %q", tt.setting, ce.Setting)
			}
		})
	}
}

func TestReadFileOrDefault(t *testing.T) {
	got, err := readFileOrDefault("", "default")
	if err != nil || got != "default" {
		t.Errorf("expected default, got %q, %v", got, err)
	}
	name := filepath.Join(t.TempDir(), "custom.txt")
	if err = os.WriteFile(name, []byte("custom"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	got, err = readFileOrDefault(name, "default")
	if err != nil || got != "custom" {
		t.Errorf("expected custom, got %q, %v", got, err)
	}
	if _, err = readFileOrDefault(filepath.Join(t.TempDir(), "missing.txt"), "default"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewPipelineModelTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	manual := filepath.Join(t.TempDir(), "manual.txt")
	if err := os.WriteFile(manual, []byte("Measure the period of a pendulum for several lengths."), 0o644); err != nil {
		t.Fatalf("failed to write manual: %v", err)
	}

	f := validFlags()
	f.Embedder = "openai"
	f.EmbeddingURL = srv.URL
	f.EmbeddingAPIKey = "key"
	f.ModelTimeout = 100 * time.Millisecond
	p, err := f.newPipeline(slog.New(slog.NewJSONHandler(io.Discard, nil)), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), pipeline.Request{
			ID:           "timeout",
			ManualPath:   manual,
			Observations: `{"length": [0.5]}`,
		})
		errs <- err
	}()
	select {
	case err = <-errs:
	case <-time.After(10 * time.Second):
		t.Fatal("expected the embedding request to time out")
	}
	var se *pipeline.StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected a stage error, got %v", err)
	}
	if se.Stage != pipeline.StageRetrieve {
		t.Errorf("expected the retrieve stage to fail, got %q", se.Stage)
	}
}
