package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
)

// QueryCmd asks one question against the indexed documents and prints
// the grounded answer.
type QueryCmd struct {
	Question string `arg:"" help:"Question to ask."`
	Sources  bool   `help:"Print the source chunks used for grounding." default:"true" negatable:""`
}

func (c *QueryCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	active, err := a.coordinator.GetActivePipeline(ctx)
	if err != nil {
		return fmt.Errorf("no active configuration: create one via the API or set OPENAI_API_KEY: %w", err)
	}

	result, err := active.Query.Query(ctx, c.Question, nil)
	if err != nil {
		return err
	}

	fmt.Println(result.Content)

	if c.Sources && len(result.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range result.Sources {
			name := src.Filename
			if name == "" {
				name = src.ChunkID
			}
			fmt.Printf("  - %s (score %.2f)\n", name, src.Score)
		}
	}
	return nil
}
