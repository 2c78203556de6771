package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/a-h/labreport/evaluation"
	"github.com/prometheus/client_golang/prometheus"
)

type EvaluateCommand struct {
	Pipeline    PipelineFlags `embed:""`
	Dataset     string        `arg:"" help:"A JSONL file of {manual_path, observations, golden_report} records." type:"existingfile"`
	OutputDir   string        `help:"The directory evaluation results are written to." env:"EVALUATION_OUTPUT_DIR" default:"."`
	Concurrency int           `help:"The number of examples evaluated at once." env:"EVALUATION_CONCURRENCY" default:"1"`
}

func (c EvaluateCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.Pipeline.LogLevel)

	f, err := os.Open(c.Dataset)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	records, err := evaluation.ReadDataset(f, filepath.Dir(c.Dataset))
	if err != nil {
		return fmt.Errorf("failed to read dataset: %w", err)
	}
	log.Info("loaded dataset", slog.String("path", c.Dataset), slog.Int("records", len(records)))

	p, err := c.Pipeline.newPipeline(log, prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	examples, summary, err := evaluation.New(log, p, c.Concurrency).Evaluate(ctx, records)
	if err != nil {
		return fmt.Errorf("evaluation stopped: %w", err)
	}

	if err = os.MkdirAll(c.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	now := time.Now()
	textPath := evaluation.ResultsPath(c.OutputDir, now, ".txt")
	if err = writeFile(textPath, func(f *os.File) error {
		return evaluation.WriteText(f, examples, summary, textPath)
	}); err != nil {
		return err
	}
	yamlPath := evaluation.ResultsPath(c.OutputDir, now, ".yaml")
	if err = writeFile(yamlPath, func(f *os.File) error {
		return evaluation.WriteYAML(f, examples, summary)
	}); err != nil {
		return err
	}
	fmt.Print(evaluation.FormatSummary(summary, textPath))
	return nil
}

func writeFile(name string, write func(f *os.File) error) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", name, closeErr)
		}
	}()
	if err = write(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
