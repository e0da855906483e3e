package main

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/granthlabs/granth/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Path string `arg:"" help:"Configuration file path." type:"path"`

	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(c.Path)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Path, err)
	}

	if c.PrintConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}

	fmt.Printf("%s: configuration is valid\n", c.Path)
	return nil
}
