package main

import (
	"context"
	"fmt"

	"github.com/a-h/labreport"
)

type VersionCommand struct {
}

func (c VersionCommand) Run(ctx context.Context) (err error) {
	fmt.Println(labreport.Version)
	return nil
}
