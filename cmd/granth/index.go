package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/granthlabs/granth/pkg/pipeline"
	"github.com/granthlabs/granth/pkg/registry"
)

// IndexCmd ingests a folder of documents in one shot.
type IndexCmd struct {
	Dir string `arg:"" help:"Folder containing documents to index." type:"path"`
}

func (c *IndexCmd) Run(cli *CLI) error {
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

	docs, err := c.collect(ctx, a.registry)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("Nothing to index.")
		return nil
	}

	for _, doc := range docs {
		if err := a.registry.Create(ctx, doc); err != nil {
			return fmt.Errorf("failed to register %s: %w", doc.Filename, err)
		}
	}

	result := active.Processor.ProcessSequentially(ctx, docs, func(current, total int, filename string) {
		fmt.Printf("[%d/%d] %s\n", current, total, filename)
	})

	fmt.Printf("Indexed %d documents", result.Processed)
	if result.Failed > 0 {
		fmt.Printf(", %d failed", result.Failed)
	}
	fmt.Println()

	if result.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", result.Failed, len(docs))
	}
	return nil
}

// collect walks the folder and builds registry entries for supported
// files not already registered.
func (c *IndexCmd) collect(ctx context.Context, reg registry.Registry) ([]*registry.Document, error) {
	existing, err := reg.List(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, doc := range existing {
		known[doc.StoragePath] = true
	}

	var docs []*registry.Document
	err = filepath.WalkDir(c.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := pipeline.ExtensionOf(d.Name())
		if !pipeline.SupportedUploadExtensions[ext] {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if known[abs] || known[path] {
			fmt.Printf("Skipping %s (already indexed)\n", d.Name())
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		docs = append(docs, &registry.Document{
			ID:          uuid.NewString(),
			Filename:    d.Name(),
			Extension:   ext,
			Size:        info.Size(),
			StoragePath: abs,
			Status:      registry.StatusPending,
			UploadedAt:  time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("folder not found: %s", c.Dir)
		}
		return nil, err
	}
	return docs, nil
}
