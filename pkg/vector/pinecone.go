package vector

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// pineconeUpsertBatch caps vectors per upsert request.
	pineconeUpsertBatch = 100

	// pineconeDeleteBatch caps ids per delete request.
	pineconeDeleteBatch = 1000
)

// PineconeConfig configures the Pinecone vector provider. The index must
// already exist; serverless index creation is managed out of band.
type PineconeConfig struct {
	APIKey    string `mapstructure:"api_key"`
	IndexName string `mapstructure:"index_name"`
	Namespace string `mapstructure:"namespace"`
	Host      string `mapstructure:"host"`
}

func (c *PineconeConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required for pinecone provider")
	}
	if c.IndexName == "" {
		return fmt.Errorf("index_name is required for pinecone provider")
	}
	return nil
}

// PineconeProvider stores vectors in a Pinecone serverless index.
type PineconeProvider struct {
	config *PineconeConfig
	client *pinecone.Client
	conn   *pinecone.IndexConnection
}

// NewPineconeProvider creates a Pinecone provider from config.
func NewPineconeProvider(cfg *PineconeConfig) (*PineconeProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientParams := pinecone.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		clientParams.Host = cfg.Host
	}

	client, err := pinecone.NewClient(clientParams)
	if err != nil {
		return nil, NewVectorStoreError("pinecone", "new", "failed to create client", err)
	}

	return &PineconeProvider{config: cfg, client: client}, nil
}

func (p *PineconeProvider) Initialize(ctx context.Context) error {
	index, err := p.client.DescribeIndex(ctx, p.config.IndexName)
	if err != nil {
		return NewVectorStoreError("pinecone", "initialize",
			fmt.Sprintf("failed to describe index %s", p.config.IndexName), err)
	}

	conn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      index.Host,
		Namespace: p.config.Namespace,
	})
	if err != nil {
		return NewVectorStoreError("pinecone", "initialize", "failed to connect to index", err)
	}
	p.conn = conn
	return nil
}

func (p *PineconeProvider) connection(ctx context.Context) (*pinecone.IndexConnection, error) {
	if p.conn == nil {
		if err := p.Initialize(ctx); err != nil {
			return nil, err
		}
	}
	return p.conn, nil
}

func (p *PineconeProvider) AddDocuments(ctx context.Context, records []Record) error {
	conn, err := p.connection(ctx)
	if err != nil {
		return err
	}

	for i := 0; i < len(records); i += pineconeUpsertBatch {
		end := i + pineconeUpsertBatch
		if end > len(records) {
			end = len(records)
		}

		vectors := make([]*pinecone.Vector, 0, end-i)
		for _, rec := range records[i:end] {
			metadata := make(map[string]any, len(rec.Metadata)+1)
			for k, v := range rec.Metadata {
				metadata[k] = v
			}
			metadata["content"] = rec.Content

			pbMeta, err := structpb.NewStruct(metadata)
			if err != nil {
				return NewVectorStoreError("pinecone", "add",
					fmt.Sprintf("failed to convert metadata for %s", rec.ID), err)
			}

			vectors = append(vectors, &pinecone.Vector{
				Id:       rec.ID,
				Values:   l2Normalize(rec.Embedding),
				Metadata: pbMeta,
			})
		}

		if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
			return NewVectorStoreError("pinecone", "add", "upsert failed", err)
		}
	}
	return nil
}

func (p *PineconeProvider) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	conn, err := p.connection(ctx)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          l2Normalize(vector),
		TopK:            uint32(k),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, NewVectorStoreError("pinecone", "search", "query failed", err)
	}

	hits := make([]Hit, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}

		metadata := make(map[string]any)
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}
		content, _ := metadata["content"].(string)
		delete(metadata, "content")

		hits = append(hits, Hit{
			ID:       match.Vector.Id,
			Content:  content,
			Score:    clampScore(match.Score),
			Metadata: metadata,
		})
	}
	return hits, nil
}

func (p *PineconeProvider) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	conn, err := p.connection(ctx)
	if err != nil {
		return err
	}

	for i := 0; i < len(ids); i += pineconeDeleteBatch {
		end := i + pineconeDeleteBatch
		if end > len(ids) {
			end = len(ids)
		}
		if err := conn.DeleteVectorsById(ctx, ids[i:end]); err != nil {
			return NewVectorStoreError("pinecone", "delete", "delete failed", err)
		}
	}
	return nil
}

func (p *PineconeProvider) Clear(ctx context.Context) error {
	conn, err := p.connection(ctx)
	if err != nil {
		return err
	}
	if err := conn.DeleteAllVectorsInNamespace(ctx); err != nil {
		return NewVectorStoreError("pinecone", "clear", "failed to clear namespace", err)
	}
	return nil
}

func (p *PineconeProvider) Count(ctx context.Context) (int, error) {
	conn, err := p.connection(ctx)
	if err != nil {
		return 0, err
	}

	stats, err := conn.DescribeIndexStats(ctx)
	if err != nil {
		return 0, NewVectorStoreError("pinecone", "count", "failed to read index stats", err)
	}
	if ns, ok := stats.Namespaces[p.config.Namespace]; ok {
		return int(ns.VectorCount), nil
	}
	return 0, nil
}

func (p *PineconeProvider) TestConnection(ctx context.Context) error {
	if _, err := p.client.DescribeIndex(ctx, p.config.IndexName); err != nil {
		return NewVectorStoreError("pinecone", "test",
			fmt.Sprintf("index %s not reachable", p.config.IndexName), err)
	}
	return nil
}

func (p *PineconeProvider) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
