package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// qdrantUpsertBatch caps points per upsert request.
const qdrantUpsertBatch = 100

// QdrantConfig configures the Qdrant gRPC vector provider.
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
}

func (c *QdrantConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
}

// QdrantProvider stores vectors in a Qdrant server over gRPC.
//
// Qdrant point ids must be UUIDs or integers, so each record id is mapped
// to a deterministic name-based UUID and the original id is kept in the
// payload.
type QdrantProvider struct {
	config *QdrantConfig
	client *qdrant.Client
}

// qdrantPointID derives a stable UUID for a record id.
func qdrantPointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// NewQdrantProvider creates a Qdrant provider from config.
func NewQdrantProvider(cfg *QdrantConfig) (*QdrantProvider, error) {
	cfg.SetDefaults()

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, NewVectorStoreError("qdrant", "new",
			fmt.Sprintf("failed to create client for %s:%d", cfg.Host, cfg.Port), err)
	}

	return &QdrantProvider{config: cfg, client: client}, nil
}

func (p *QdrantProvider) Initialize(ctx context.Context) error {
	exists, err := p.client.CollectionExists(ctx, p.config.Collection)
	if err != nil {
		return NewVectorStoreError("qdrant", "initialize", "failed to check collection", err)
	}
	if exists {
		return nil
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: p.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(p.config.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return NewVectorStoreError("qdrant", "initialize", "failed to create collection", err)
	}
	return nil
}

func (p *QdrantProvider) AddDocuments(ctx context.Context, records []Record) error {
	for i := 0; i < len(records); i += qdrantUpsertBatch {
		end := i + qdrantUpsertBatch
		if end > len(records) {
			end = len(records)
		}

		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, rec := range records[i:end] {
			payload := make(map[string]*qdrant.Value, len(rec.Metadata)+2)
			for key, value := range rec.Metadata {
				val, err := qdrant.NewValue(value)
				if err != nil {
					return NewVectorStoreError("qdrant", "add",
						fmt.Sprintf("failed to convert metadata %s for %s", key, rec.ID), err)
				}
				payload[key] = val
			}
			payload["_id"] = qdrant.NewValueString(rec.ID)
			payload["content"] = qdrant.NewValueString(rec.Content)

			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewID(qdrantPointID(rec.ID)),
				Vectors: qdrant.NewVectors(l2Normalize(rec.Embedding)...),
				Payload: payload,
			})
		}

		wait := true
		_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: p.config.Collection,
			Points:         points,
			Wait:           &wait,
		})
		if err != nil {
			return NewVectorStoreError("qdrant", "add", "upsert failed", err)
		}
	}
	return nil
}

func (p *QdrantProvider) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}

	searchResult, err := p.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: p.config.Collection,
		Vector:         l2Normalize(vector),
		Limit:          uint64(k),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, NewVectorStoreError("qdrant", "search", "search failed", err)
	}

	hits := make([]Hit, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		metadata := make(map[string]any)
		for key, value := range point.Payload {
			switch v := value.Kind.(type) {
			case *qdrant.Value_StringValue:
				metadata[key] = v.StringValue
			case *qdrant.Value_IntegerValue:
				metadata[key] = v.IntegerValue
			case *qdrant.Value_DoubleValue:
				metadata[key] = v.DoubleValue
			case *qdrant.Value_BoolValue:
				metadata[key] = v.BoolValue
			default:
				metadata[key] = value
			}
		}

		id, _ := metadata["_id"].(string)
		content, _ := metadata["content"].(string)
		delete(metadata, "_id")
		delete(metadata, "content")

		hits = append(hits, Hit{
			ID:       id,
			Content:  content,
			Score:    clampScore(point.Score),
			Metadata: metadata,
		})
	}
	return hits, nil
}

func (p *QdrantProvider) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(qdrantPointID(id)))
	}

	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: p.config.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return NewVectorStoreError("qdrant", "delete", "delete failed", err)
	}
	return nil
}

func (p *QdrantProvider) Clear(ctx context.Context) error {
	if err := p.client.DeleteCollection(ctx, p.config.Collection); err != nil {
		return NewVectorStoreError("qdrant", "clear", "failed to drop collection", err)
	}
	return p.Initialize(ctx)
}

func (p *QdrantProvider) Count(ctx context.Context) (int, error) {
	count, err := p.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: p.config.Collection,
	})
	if err != nil {
		return 0, NewVectorStoreError("qdrant", "count", "count failed", err)
	}
	return int(count), nil
}

func (p *QdrantProvider) TestConnection(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return NewVectorStoreError("qdrant", "test",
			fmt.Sprintf("server %s:%d unreachable", p.config.Host, p.config.Port), err)
	}
	return nil
}

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}
