package evaluation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/a-h/labreport/pipeline"
	"github.com/google/go-cmp/cmp"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

func TestScoreReports(t *testing.T) {
	tests := []struct {
		name      string
		golden    string
		generated string
		rouge1    float64
		rouge2    float64
		rougeL    float64
	}{
		{
			name:      "partial overlap",
			golden:    "the cat sat on the mat",
			generated: "the cat sat on a mat",
			rouge1:    0.8333,
			rouge2:    0.6,
			rougeL:    0.8333,
		},
		{
			name:      "identical",
			golden:    "The pendulum period was measured.",
			generated: "The pendulum period was measured.",
			rouge1:    1,
			rouge2:    1,
			rougeL:    1,
		},
		{
			name:      "empty generated",
			golden:    "The pendulum period was measured.",
			generated: "",
		},
		{
			name:      "stemming matches word forms",
			golden:    "running",
			generated: "runs",
			rouge1:    1,
			rougeL:    1,
		},
		{
			name:      "case and punctuation are ignored",
			golden:    "Results: g = 9.81",
			generated: "results g 9 81",
			rouge1:    1,
			rouge2:    1,
			rougeL:    1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ScoreReports(tt.golden, tt.generated)
			if !approx(s.Rouge1.F1, tt.rouge1) {
				t.Errorf("rouge1: expected %.4f, got %.4f", tt.rouge1, s.Rouge1.F1)
			}
			if !approx(s.Rouge2.F1, tt.rouge2) {
				t.Errorf("rouge2: expected %.4f, got %.4f", tt.rouge2, s.Rouge2.F1)
			}
			if !approx(s.RougeL.F1, tt.rougeL) {
				t.Errorf("rougeL: expected %.4f, got %.4f", tt.rougeL, s.RougeL.F1)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The Readings, measured at 20C.")
	expected := []string{"the", "read", "measur", "at", "20c"}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Error(diff)
	}
}

func TestReadDataset(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		input := `{"manual_path": "a.pdf", "observations": {"x": 1}, "golden_report": "A"}

{"manual_path": "/abs/b.docx", "observations": [1, 2], "golden_report": "B"}
`
		records, err := ReadDataset(strings.NewReader(input), "/data")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		if records[0].ManualPath != filepath.Join("/data", "a.pdf") {
			t.Errorf("unexpected path %q", records[0].ManualPath)
		}
		if records[1].ManualPath != "/abs/b.docx" {
			t.Errorf("unexpected path %q", records[1].ManualPath)
		}
		if string(records[0].Observations) != `{"x": 1}` {
			t.Errorf("unexpected observations %s", records[0].Observations)
		}
		if records[1].GoldenReport != "B" {
			t.Errorf("unexpected golden report %q", records[1].GoldenReport)
		}
	})
	t.Run("invalid JSON reports the line", func(t *testing.T) {
		input := "{\"manual_path\": \"a.pdf\"}\n{not json}\n"
		_, err := ReadDataset(strings.NewReader(input), "")
		if err == nil || !strings.Contains(err.Error(), "line 2") {
			t.Errorf("expected line 2 error, got %v", err)
		}
	})
	t.Run("missing manual path", func(t *testing.T) {
		_, err := ReadDataset(strings.NewReader(`{"golden_report": "A"}`), "")
		if err == nil || !strings.Contains(err.Error(), "manual_path") {
			t.Errorf("expected manual_path error, got %v", err)
		}
	})
}

type fakeRunner struct {
	m            sync.Mutex
	reports      map[string]string
	observations []string
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (res pipeline.Result, err error) {
	f.m.Lock()
	f.observations = append(f.observations, req.Observations)
	f.m.Unlock()
	if err = ctx.Err(); err != nil {
		return res, err
	}
	report, ok := f.reports[req.ManualPath]
	if !ok {
		return res, errors.New("boom")
	}
	res.Report = report
	return res, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestEvaluate(t *testing.T) {
	runner := &fakeRunner{
		reports: map[string]string{
			"a.pdf": "the cat sat on the mat",
			"c.pdf": "something else entirely",
		},
	}
	records := []Record{
		{ManualPath: "a.pdf", Observations: []byte(`{"x":1}`), GoldenReport: "the cat sat on the mat"},
		{ManualPath: "b.pdf", Observations: []byte(`{}`), GoldenReport: "anything"},
		{ManualPath: "c.pdf", Observations: []byte(`{}`), GoldenReport: "the cat sat on the mat"},
	}
	examples, summary, err := New(testLogger(), runner, 2).Evaluate(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(examples) != 3 {
		t.Fatalf("expected 3 examples, got %d", len(examples))
	}
	for i, ex := range examples {
		if ex.Number != i+1 {
			t.Errorf("example %d: unexpected number %d", i, ex.Number)
		}
		if ex.ManualPath != records[i].ManualPath {
			t.Errorf("example %d: unexpected path %q", i, ex.ManualPath)
		}
	}
	if examples[0].Scores.Rouge1.F1 != 1 {
		t.Errorf("expected perfect score, got %v", examples[0].Scores.Rouge1.F1)
	}
	if examples[1].Err == nil {
		t.Error("expected second example to fail")
	}
	if examples[1].Scores != (Scores{}) {
		t.Errorf("expected zero scores for failed example, got %+v", examples[1].Scores)
	}
	if examples[2].Scores.Rouge1.F1 != 0 {
		t.Errorf("expected zero overlap, got %v", examples[2].Scores.Rouge1.F1)
	}
	if summary.Total != 3 || summary.Failed != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if !approx(summary.AvgRouge1, 1.0/3) {
		t.Errorf("expected average 0.3333, got %.4f", summary.AvgRouge1)
	}
	var sawIndented bool
	for _, obs := range runner.observations {
		if obs == "{\n  \"x\": 1\n}" {
			sawIndented = true
		}
	}
	if !sawIndented {
		t.Errorf("expected observations to be indented, got %q", runner.observations)
	}
}

func TestEvaluateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{reports: map[string]string{"a.pdf": "x"}}
	_, _, err := New(testLogger(), runner, 1).Evaluate(ctx, []Record{{ManualPath: "a.pdf"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if s := Summarize(nil); s != (Summary{}) {
		t.Errorf("expected zero summary, got %+v", s)
	}
}

func TestResultsPath(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	got := ResultsPath("out", now, ".txt")
	if expected := filepath.Join("out", "evaluation_20240309_140507.txt"); got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
}

func TestWriteText(t *testing.T) {
	examples := []Example{
		{Number: 1, ManualPath: "/data/pendulum.pdf", Generated: "gen", Golden: "gold", Scores: Scores{Rouge1: Score{F1: 0.5}}},
		{Number: 2, ManualPath: "/data/spring.docx", Golden: "gold2", Err: errors.New("boom")},
	}
	summary := Summarize(examples)
	var buf bytes.Buffer
	if err := WriteText(&buf, examples, summary, "out/evaluation.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"========== EXAMPLE 1: pendulum.pdf ==========",
		"ROUGE-1 F1-Score: 0.5000",
		"--- GENERATED REPORT ---\ngen",
		"--- GOLDEN REPORT ---\ngold",
		"========== EXAMPLE 2: spring.docx ==========",
		"ERROR: boom",
		strings.Repeat("=", 60),
		"========== EVALUATION SUMMARY ==========",
		"Total examples evaluated: 2",
		"Failed examples: 1",
		"Average ROUGE-1 F1-Score: 0.2500",
		"Detailed results saved to: out/evaluation.txt",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteYAML(t *testing.T) {
	examples := []Example{
		{Number: 1, ManualPath: "a.pdf", Generated: "generated text", Scores: Scores{Rouge1: Score{F1: 0.5}}},
		{Number: 2, ManualPath: "b.pdf", Err: errors.New("boom")},
	}
	var buf bytes.Buffer
	if err := WriteYAML(&buf, examples, Summarize(examples)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"summary:\n  total: 2\n  failed: 1\n",
		"- example: 1",
		"manual: a.pdf",
		"error: boom",
		"rouge1:",
		"f1: 0.5",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "generated text") {
		t.Error("expected report text to be omitted")
	}
}
