package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// InitMetrics wires the otel meter to the default prometheus registry and
// creates the service's instruments. Disabled config yields an inert
// PrometheusMetrics whose record methods are no-ops.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("granth")

	ingestDuration, err := meter.Float64Histogram(
		"granth_document_ingest_duration_seconds",
		metric.WithDescription("Document ingest duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest duration histogram: %w", err)
	}

	ingestTotal, err := meter.Int64Counter(
		"granth_documents_ingested_total",
		metric.WithDescription("Total documents ingested"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest counter: %w", err)
	}

	ingestErrors, err := meter.Int64Counter(
		"granth_document_ingest_errors_total",
		metric.WithDescription("Total document ingest failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest errors counter: %w", err)
	}

	chunksTotal, err := meter.Int64Counter(
		"granth_chunks_indexed_total",
		metric.WithDescription("Total chunks written to the vector index"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunks counter: %w", err)
	}

	embedDuration, err := meter.Float64Histogram(
		"granth_embedding_request_duration_seconds",
		metric.WithDescription("Embedding request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding duration histogram: %w", err)
	}

	embedTokens, err := meter.Int64Counter(
		"granth_embedding_tokens_total",
		metric.WithDescription("Total tokens sent to the embedding backend"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding tokens counter: %w", err)
	}

	searchDuration, err := meter.Float64Histogram(
		"granth_vector_search_duration_seconds",
		metric.WithDescription("Vector search duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search duration histogram: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		"granth_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmInputTokens, err := meter.Int64Counter(
		"granth_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	llmOutputTokens, err := meter.Int64Counter(
		"granth_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		"granth_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	return &PrometheusMetrics{
		ingestDuration:  ingestDuration,
		ingestTotal:     ingestTotal,
		ingestErrors:    ingestErrors,
		chunksTotal:     chunksTotal,
		embedDuration:   embedDuration,
		embedTokens:     embedTokens,
		searchDuration:  searchDuration,
		llmDuration:     llmDuration,
		llmInputTokens:  llmInputTokens,
		llmOutputTokens: llmOutputTokens,
		llmErrorsTotal:  llmErrors,
	}, nil
}
