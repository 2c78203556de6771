package evaluation

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ResultsPath returns dir/evaluation_YYYYMMDD_HHMMSS<ext>.
func ResultsPath(dir string, now time.Time, ext string) string {
	return filepath.Join(dir, "evaluation_"+now.Format("20060102_150405")+ext)
}

// WriteText writes per-example scores with both reports, followed by the summary.
func WriteText(w io.Writer, examples []Example, summary Summary, resultsPath string) error {
	var sb strings.Builder
	for _, ex := range examples {
		fmt.Fprintf(&sb, "========== EXAMPLE %d: %s ==========\n\n", ex.Number, filepath.Base(ex.ManualPath))
		if ex.Err != nil {
			fmt.Fprintf(&sb, "ERROR: %v\n\n", ex.Err)
		}
		fmt.Fprintf(&sb, "ROUGE-1 F1-Score: %.4f\n", ex.Scores.Rouge1.F1)
		fmt.Fprintf(&sb, "ROUGE-2 F1-Score: %.4f\n", ex.Scores.Rouge2.F1)
		fmt.Fprintf(&sb, "ROUGE-L F1-Score: %.4f\n\n", ex.Scores.RougeL.F1)
		sb.WriteString("--- GENERATED REPORT ---\n")
		sb.WriteString(ex.Generated + "\n\n")
		sb.WriteString("--- GOLDEN REPORT ---\n")
		sb.WriteString(ex.Golden + "\n\n")
		sb.WriteString(strings.Repeat("=", 60) + "\n\n")
	}
	sb.WriteString(FormatSummary(summary, resultsPath))
	_, err := io.WriteString(w, sb.String())
	return err
}

func FormatSummary(s Summary, resultsPath string) string {
	var sb strings.Builder
	sb.WriteString("\n\n========== EVALUATION SUMMARY ==========\n")
	fmt.Fprintf(&sb, "Total examples evaluated: %d\n", s.Total)
	fmt.Fprintf(&sb, "Failed examples: %d\n", s.Failed)
	fmt.Fprintf(&sb, "Average ROUGE-1 F1-Score: %.4f\n", s.AvgRouge1)
	fmt.Fprintf(&sb, "Average ROUGE-2 F1-Score: %.4f\n", s.AvgRouge2)
	fmt.Fprintf(&sb, "Average ROUGE-L F1-Score: %.4f\n", s.AvgRougeL)
	sb.WriteString("========================================\n")
	if resultsPath != "" {
		fmt.Fprintf(&sb, "Detailed results saved to: %s\n", resultsPath)
	}
	return sb.String()
}

type yamlExample struct {
	Example int    `yaml:"example"`
	Manual  string `yaml:"manual"`
	Error   string `yaml:"error,omitempty"`
	Scores  Scores `yaml:"scores"`
}

type yamlResults struct {
	Summary  Summary       `yaml:"summary"`
	Examples []yamlExample `yaml:"examples"`
}

// WriteYAML writes the summary and per-example scores without the report text.
func WriteYAML(w io.Writer, examples []Example, summary Summary) error {
	out := yamlResults{
		Summary:  summary,
		Examples: make([]yamlExample, len(examples)),
	}
	for i, ex := range examples {
		out.Examples[i] = yamlExample{
			Example: ex.Number,
			Manual:  ex.ManualPath,
			Scores:  ex.Scores,
		}
		if ex.Err != nil {
			out.Examples[i].Error = ex.Err.Error()
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return enc.Close()
}
