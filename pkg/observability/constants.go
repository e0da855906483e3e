package observability

const (
	AttrDocumentID     = "document.id"
	AttrDocumentExt    = "document.extension"
	AttrChunkCount     = "document.chunk_count"
	AttrLLMModel       = "llm.model"
	AttrEmbeddingModel = "embedding.model"
	AttrVectorProvider = "vector.provider"
	AttrErrorType      = "error.type"

	SpanIngest       = "document.ingest"
	SpanExtract      = "document.extract"
	SpanEmbed        = "document.embed"
	SpanQuery        = "rag.query"
	SpanVectorSearch = "rag.vector_search"
	SpanLLMRequest   = "rag.llm_request"

	DefaultServiceName = "granth"
)
