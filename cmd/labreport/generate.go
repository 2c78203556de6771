package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/a-h/labreport/pipeline"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type GenerateCommand struct {
	Pipeline     PipelineFlags `embed:""`
	Manual       string        `arg:"" help:"The lab manual (.pdf, .docx or .txt)." type:"existingfile"`
	Observations string        `help:"The observations, usually JSON." default:""`
	ObsFile      string        `help:"A file containing the observations, used instead of --observations." name:"observations-file" default:""`
	Verbose      bool          `help:"Also print the retrieved context, generated code and calculated results." default:"false"`
}

func (c GenerateCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.Pipeline.LogLevel)

	observations := c.Observations
	if c.ObsFile != "" {
		b, err := os.ReadFile(c.ObsFile)
		if err != nil {
			return fmt.Errorf("failed to read observations file: %w", err)
		}
		observations = string(b)
	}
	if observations == "" {
		return errors.New("no observations provided, use --observations or --observations-file")
	}

	p, err := c.Pipeline.newPipeline(log, prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	res, err := p.Run(ctx, pipeline.Request{
		ID:           uuid.NewString(),
		ManualPath:   c.Manual,
		Observations: observations,
	})
	if err != nil {
		return err
	}
	if c.Verbose {
		fmt.Printf("--- CONTEXT ---\n%s\n\n", res.Context)
		fmt.Printf("--- CODE ---\n%s\n\n", res.Code)
		fmt.Printf("--- RESULTS ---\n%s\n\n", res.Results)
		fmt.Println("--- REPORT ---")
	}
	fmt.Println(res.Report)
	return nil
}
