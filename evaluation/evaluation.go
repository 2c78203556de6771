// Package evaluation runs the pipeline over a dataset of manuals with golden
// reports and scores the generated reports with ROUGE.
package evaluation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/a-h/labreport/pipeline"
	"golang.org/x/sync/errgroup"
)

type Record struct {
	ManualPath   string          `json:"manual_path"`
	Observations json.RawMessage `json:"observations"`
	GoldenReport string          `json:"golden_report"`
}

// ReadDataset reads one JSON record per line. Blank lines are skipped.
// Relative manual paths are resolved against baseDir.
func ReadDataset(r io.Reader, baseDir string) (records []Record, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var line int
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err = json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.ManualPath == "" {
			return nil, fmt.Errorf("line %d: manual_path is required", line)
		}
		if !filepath.IsAbs(rec.ManualPath) && baseDir != "" {
			rec.ManualPath = filepath.Join(baseDir, rec.ManualPath)
		}
		records = append(records, rec)
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return records, nil
}

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

func New(log *slog.Logger, runner Runner, concurrency int) Evaluator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return Evaluator{
		log:         log,
		runner:      runner,
		concurrency: concurrency,
	}
}

type Evaluator struct {
	log         *slog.Logger
	runner      Runner
	concurrency int
}

type Example struct {
	Number     int
	ManualPath string
	Generated  string
	Golden     string
	Scores     Scores
	Err        error
}

type Summary struct {
	Total     int     `yaml:"total"`
	Failed    int     `yaml:"failed"`
	AvgRouge1 float64 `yaml:"avgRouge1F1"`
	AvgRouge2 float64 `yaml:"avgRouge2F1"`
	AvgRougeL float64 `yaml:"avgRougeLF1"`
}

// Evaluate runs every record and scores it. A record whose pipeline run fails
// is kept with its error and scores of zero.
func (e Evaluator) Evaluate(ctx context.Context, records []Record) (examples []Example, summary Summary, err error) {
	examples = make([]Example, len(records))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, rec := range records {
		g.Go(func() error {
			ex := Example{
				Number:     i + 1,
				ManualPath: rec.ManualPath,
				Golden:     rec.GoldenReport,
			}
			res, err := e.runner.Run(ctx, pipeline.Request{
				ID:           fmt.Sprintf("eval-%d", i+1),
				ManualPath:   rec.ManualPath,
				Observations: pipeline.FormatObservations(string(rec.Observations)),
			})
			if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return err
			}
			if err != nil {
				ex.Err = err
				e.log.Warn("example failed", slog.Int("example", ex.Number), slog.String("manual", rec.ManualPath), slog.Any("error", err))
			} else {
				ex.Generated = res.Report
				ex.Scores = ScoreReports(rec.GoldenReport, res.Report)
				e.log.Info("example scored", slog.Int("example", ex.Number), slog.Float64("rouge1", ex.Scores.Rouge1.F1), slog.Float64("rougeL", ex.Scores.RougeL.F1))
			}
			examples[i] = ex
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, summary, err
	}
	return examples, Summarize(examples), nil
}

func Summarize(examples []Example) (s Summary) {
	s.Total = len(examples)
	if s.Total == 0 {
		return s
	}
	for _, ex := range examples {
		if ex.Err != nil {
			s.Failed++
		}
		s.AvgRouge1 += ex.Scores.Rouge1.F1
		s.AvgRouge2 += ex.Scores.Rouge2.F1
		s.AvgRougeL += ex.Scores.RougeL.F1
	}
	n := float64(s.Total)
	s.AvgRouge1 /= n
	s.AvgRouge2 /= n
	s.AvgRougeL /= n
	return s
}
