package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

const (
	indexFileName = "index.bin"
	docsFileName  = "documents.json"

	// indexMagic marks index.bin files written by this provider.
	indexMagic uint32 = 0x47524E54
)

// LocalConfig configures the file-backed local index.
type LocalConfig struct {
	Dir       string  `mapstructure:"dir"`
	Dimension int     `mapstructure:"dimension"`
	IndexType string  `mapstructure:"index_type"`
	Threshold float32 `mapstructure:"threshold"`
}

func (c *LocalConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = os.Getenv("FAISS_INDEX_PATH")
	}
	if c.Dir == "" {
		c.Dir = "./data/faiss_index"
	}
	if c.Dimension == 0 {
		if n, err := strconv.Atoi(os.Getenv("VECTOR_DIMENSION")); err == nil {
			c.Dimension = n
		}
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
	if c.IndexType == "" {
		c.IndexType = os.Getenv("FAISS_INDEX_TYPE")
	}
	if c.IndexType == "" {
		c.IndexType = "flat-ip"
	}
	if c.Threshold == 0 {
		if f, err := strconv.ParseFloat(os.Getenv("VECTOR_THRESHOLD"), 32); err == nil {
			c.Threshold = float32(f)
		}
	}
}

func (c *LocalConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	switch c.IndexType {
	case "flat-ip":
	case "hnsw-flat", "ivf-flat":
		// Approximate index types are accepted for config compatibility
		// but served by the exact flat index.
		slog.Warn("Index type not supported by local provider, using flat-ip",
			"requested", c.IndexType)
		c.IndexType = "flat-ip"
	default:
		return fmt.Errorf("unknown index type: %s", c.IndexType)
	}
	return nil
}

// LocalProvider is a file-backed exact inner-product index. Vectors live
// in memory; every mutation persists index.bin and documents.json
// together via temp-file + rename before returning.
type LocalProvider struct {
	config *LocalConfig

	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewLocalProvider creates a local index provider from config.
func NewLocalProvider(cfg *LocalConfig) (*LocalProvider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LocalProvider{
		config:  cfg,
		records: make(map[string]Record),
	}, nil
}

// Initialize creates the data directory and loads any persisted state.
// A missing or corrupt file pair starts the index empty rather than
// failing startup.
func (p *LocalProvider) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(p.config.Dir, 0o755); err != nil {
		return NewVectorStoreError("local", "initialize", "failed to create data dir", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	records, order, err := p.load()
	if err != nil {
		slog.Warn("Could not load persisted index, starting empty",
			"dir", p.config.Dir, "error", err)
		p.records = make(map[string]Record)
		p.order = nil
		return nil
	}
	p.records = records
	p.order = order

	slog.Info("Local vector index ready",
		"dir", p.config.Dir, "dimension", p.config.Dimension, "count", len(order))
	return nil
}

func (p *LocalProvider) load() (map[string]Record, []string, error) {
	docsPath := filepath.Join(p.config.Dir, docsFileName)
	indexPath := filepath.Join(p.config.Dir, indexFileName)

	docsData, err := os.ReadFile(docsPath)
	if os.IsNotExist(err) {
		if _, statErr := os.Stat(indexPath); os.IsNotExist(statErr) {
			return make(map[string]Record), nil, nil
		}
		return nil, nil, fmt.Errorf("index.bin present but documents.json missing")
	}
	if err != nil {
		return nil, nil, err
	}

	var stored []Record
	if err := json.Unmarshal(docsData, &stored); err != nil {
		return nil, nil, fmt.Errorf("corrupt documents.json: %w", err)
	}

	indexData, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, nil, err
	}
	if err := p.verifyIndex(indexData, stored); err != nil {
		return nil, nil, err
	}

	records := make(map[string]Record, len(stored))
	order := make([]string, 0, len(stored))
	for _, rec := range stored {
		records[rec.ID] = rec
		order = append(order, rec.ID)
	}
	return records, order, nil
}

// verifyIndex cross-checks index.bin against the document list. The
// vectors themselves are authoritative in documents.json; the binary file
// exists for fast mmap-style scans by external tooling and must agree.
func (p *LocalProvider) verifyIndex(data []byte, stored []Record) error {
	if len(data) < 12 {
		return fmt.Errorf("corrupt index.bin: too short")
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	dim := binary.LittleEndian.Uint32(data[4:8])
	count := binary.LittleEndian.Uint32(data[8:12])

	if magic != indexMagic {
		return fmt.Errorf("corrupt index.bin: bad magic %#x", magic)
	}
	if int(dim) != p.config.Dimension {
		return fmt.Errorf("index.bin dimension %d does not match configured %d", dim, p.config.Dimension)
	}
	if int(count) != len(stored) {
		return fmt.Errorf("index.bin count %d does not match documents.json %d", count, len(stored))
	}
	if want := 12 + int(count)*int(dim)*4; len(data) != want {
		return fmt.Errorf("corrupt index.bin: %d bytes, want %d", len(data), want)
	}
	return nil
}

// persist writes documents.json and index.bin together. Callers hold the
// write lock.
func (p *LocalProvider) persist() error {
	stored := make([]Record, 0, len(p.order))
	for _, id := range p.order {
		stored = append(stored, p.records[id])
	}

	docsData, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal documents: %w", err)
	}

	indexData := make([]byte, 12, 12+len(stored)*p.config.Dimension*4)
	binary.LittleEndian.PutUint32(indexData[0:4], indexMagic)
	binary.LittleEndian.PutUint32(indexData[4:8], uint32(p.config.Dimension))
	binary.LittleEndian.PutUint32(indexData[8:12], uint32(len(stored)))
	var buf [4]byte
	for _, rec := range stored {
		for _, v := range rec.Embedding {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			indexData = append(indexData, buf[:]...)
		}
	}

	if err := writeFileAtomic(filepath.Join(p.config.Dir, docsFileName), docsData); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(p.config.Dir, indexFileName), indexData)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (p *LocalProvider) AddDocuments(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	for _, rec := range records {
		if len(rec.Embedding) != p.config.Dimension {
			return NewVectorStoreError("local", "add",
				fmt.Sprintf("record %s has dimension %d, index expects %d",
					rec.ID, len(rec.Embedding), p.config.Dimension), nil)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, rec := range records {
		rec.Embedding = l2Normalize(rec.Embedding)
		if _, exists := p.records[rec.ID]; !exists {
			p.order = append(p.order, rec.ID)
		}
		p.records[rec.ID] = rec
	}

	if err := p.persist(); err != nil {
		return NewVectorStoreError("local", "add", "failed to persist index", err)
	}
	return nil
}

func (p *LocalProvider) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if len(vector) != p.config.Dimension {
		return nil, NewVectorStoreError("local", "search",
			fmt.Sprintf("query dimension %d, index expects %d", len(vector), p.config.Dimension), nil)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	hits := make([]Hit, 0, len(p.order))
	if len(p.order) == 0 {
		return hits, nil
	}
	if k > len(p.order) {
		k = len(p.order)
	}
	if k <= 0 {
		return hits, nil
	}

	query := l2Normalize(vector)
	for _, id := range p.order {
		rec := p.records[id]
		var ip float32
		for i, v := range rec.Embedding {
			ip += v * query[i]
		}
		score := clampScore(ip)
		if score < p.config.Threshold {
			continue
		}
		hits = append(hits, Hit{
			ID:       rec.ID,
			Content:  rec.Content,
			Score:    score,
			Metadata: rec.Metadata,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (p *LocalProvider) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := false
	for _, id := range ids {
		if _, ok := p.records[id]; ok {
			delete(p.records, id)
			removed = true
		}
	}
	if !removed {
		return nil
	}

	// Rebuild the flat index from survivors.
	order := make([]string, 0, len(p.records))
	for _, id := range p.order {
		if _, ok := p.records[id]; ok {
			order = append(order, id)
		}
	}
	p.order = order

	if err := p.persist(); err != nil {
		return NewVectorStoreError("local", "delete", "failed to persist index", err)
	}
	return nil
}

func (p *LocalProvider) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.records = make(map[string]Record)
	p.order = nil

	if err := p.persist(); err != nil {
		return NewVectorStoreError("local", "clear", "failed to persist index", err)
	}
	return nil
}

func (p *LocalProvider) Count(ctx context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order), nil
}

func (p *LocalProvider) TestConnection(ctx context.Context) error {
	if err := os.MkdirAll(p.config.Dir, 0o755); err != nil {
		return NewVectorStoreError("local", "test", "data dir not writable", err)
	}
	return nil
}

func (p *LocalProvider) Close() error {
	return nil
}
