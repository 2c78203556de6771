// Package pipeline turns a lab manual and a set of observations into a lab
// report.
//
// A run moves through Received, Extracted, Retrieved, CodeGenerated, Executed,
// Composed and Done in order, or stops in Failed at the first hard failure.
// Stages are not retried here. Failures while executing generated code are
// not hard failures: the error text becomes the calculated results.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a-h/labreport"
	"github.com/a-h/labreport/retrieval"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/textsplitter"
)

type State string

const (
	StateReceived      State = "Received"
	StateExtracted     State = "Extracted"
	StateRetrieved     State = "Retrieved"
	StateCodeGenerated State = "CodeGenerated"
	StateExecuted      State = "Executed"
	StateComposed      State = "Composed"
	StateDone          State = "Done"
	StateFailed        State = "Failed"
)

type Stage string

const (
	StageExtract  Stage = "extract"
	StageRetrieve Stage = "retrieve"
	StageGenerate Stage = "generate"
	StageExecute  Stage = "execute"
	StageCompose  Stage = "compose"
)

// StageError is returned by Run when a stage fails.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Kind() labreport.Kind {
	return labreport.KindOf(e.Err)
}

func asStageError(err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Err: err}
}

type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

type CodeGenerator interface {
	Generate(ctx context.Context, ragContext, observations string) (string, error)
}

// Executor runs generated code. It reports failures in the returned text.
type Executor interface {
	Execute(ctx context.Context, code string) string
}

type Composer interface {
	Compose(ctx context.Context, ragContext, observations, results string) (string, error)
}

type Stages struct {
	Extractor Extractor
	Splitter  textsplitter.TextSplitter
	Embedder  embeddings.Embedder
	Generator CodeGenerator
	Executor  Executor
	Composer  Composer
}

type Config struct {
	// Query selects the manual chunks passed to the models.
	Query string
	// K is the number of chunks retrieved.
	K       int
	Metrics *Metrics
}

func New(log *slog.Logger, stages Stages, cfg Config) *Pipeline {
	if cfg.Query == "" {
		cfg.Query = retrieval.DefaultQuery
	}
	if cfg.K == 0 {
		cfg.K = retrieval.DefaultK
	}
	return &Pipeline{
		log:    log,
		stages: stages,
		cfg:    cfg,
	}
}

// Pipeline is safe for concurrent use when its stages are. Every run builds
// its own retrieval index.
type Pipeline struct {
	log    *slog.Logger
	stages Stages
	cfg    Config
}

type Request struct {
	ID           string
	ManualPath   string
	Observations string
}

type Result struct {
	Context      string
	Observations string
	Code         string
	Results      string
	Report       string
	States       []State
}

func (p *Pipeline) Run(ctx context.Context, req Request) (res Result, err error) {
	log := p.log.With(slog.String("runID", req.ID))
	res.States = []State{StateReceived}
	start := time.Now()
	defer func() {
		if err != nil {
			res.States = append(res.States, StateFailed)
			se := asStageError(err)
			log.Error("pipeline failed", slog.String("stage", string(se.Stage)), slog.String("kind", string(se.Kind())), slog.Any("error", se.Err))
		} else {
			log.Info("pipeline complete", slog.Duration("duration", time.Since(start)))
		}
		p.cfg.Metrics.countRun(err)
	}()

	text, err := run(p, StageExtract, func() (string, error) {
		return p.stages.Extractor.Extract(ctx, req.ManualPath)
	})
	if err != nil {
		return res, err
	}
	res.States = append(res.States, StateExtracted)
	log.Debug("extracted manual", slog.Int("length", len(text)))

	res.Context, err = run(p, StageRetrieve, func() (string, error) {
		return p.retrieve(ctx, log, text)
	})
	if err != nil {
		return res, err
	}
	res.States = append(res.States, StateRetrieved)

	res.Observations = FormatObservations(req.Observations)
	res.Code, err = run(p, StageGenerate, func() (string, error) {
		return p.stages.Generator.Generate(ctx, res.Context, res.Observations)
	})
	if err != nil {
		return res, err
	}
	res.States = append(res.States, StateCodeGenerated)
	log.Debug("generated code", slog.String("code", res.Code))

	res.Results, err = run(p, StageExecute, func() (string, error) {
		results := p.stages.Executor.Execute(ctx, res.Code)
		return results, ctx.Err()
	})
	if err != nil {
		return res, err
	}
	res.States = append(res.States, StateExecuted)

	res.Report, err = run(p, StageCompose, func() (string, error) {
		return p.stages.Composer.Compose(ctx, res.Context, res.Observations, res.Results)
	})
	if err != nil {
		return res, err
	}
	res.States = append(res.States, StateComposed, StateDone)
	return res, nil
}

func run(p *Pipeline, stage Stage, f func() (string, error)) (string, error) {
	start := time.Now()
	out, err := f()
	p.cfg.Metrics.observeStage(stage, start, err)
	if err != nil {
		return "", &StageError{Stage: stage, Err: err}
	}
	return out, nil
}

func (p *Pipeline) retrieve(ctx context.Context, log *slog.Logger, text string) (string, error) {
	chunks, err := p.stages.Splitter.SplitText(text)
	if err != nil {
		return "", fmt.Errorf("failed to split text: %w", err)
	}
	idx, err := retrieval.Build(ctx, p.stages.Embedder, chunks)
	if err != nil {
		return "", err
	}
	hits, err := idx.Query(ctx, p.cfg.Query, p.cfg.K)
	if err != nil {
		return "", err
	}
	chunkIndexes := make([]int, len(hits))
	for i, h := range hits {
		chunkIndexes[i] = h.Index
	}
	log.Debug("retrieved context", slog.Int("chunks", len(chunks)), slog.Any("hits", chunkIndexes))
	return retrieval.JoinContext(hits), nil
}

// FormatObservations indents observations that are valid JSON with two
// spaces. Anything else is passed through unchanged.
func FormatObservations(observations string) string {
	trimmed := strings.TrimSpace(observations)
	if !json.Valid([]byte(trimmed)) {
		return observations
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return observations
	}
	return buf.String()
}
