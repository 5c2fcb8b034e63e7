package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name. Default: "healerd_solutions".
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "healerd_solutions"
	}
}

// ChromemBackend persists the population in an embedded chromem-go
// vector database. Solutions are stored as documents carrying their
// reconstructed feature vector and a JSON payload.
type ChromemBackend struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	mu sync.Mutex
}

// NewChromemBackend opens (or creates) the persistent database.
// An unreadable path is the one fatal startup condition.
func NewChromemBackend(config ChromemConfig, logger *zap.Logger) (*ChromemBackend, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	logger.Info("chromem backend initialized",
		zap.String("path", path),
		zap.String("collection", config.Collection),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemBackend{db: db, config: config, logger: logger}, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Name implements Backend.
func (b *ChromemBackend) Name() string { return "chromem" }

// embeddingFunc is a guard: every document carries a precomputed feature
// vector, so chromem should never need to embed text.
func embeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("feature vectors are precomputed")
}

func (b *ChromemBackend) collection() (*chromem.Collection, error) {
	return b.db.GetOrCreateCollection(b.config.Collection, nil, embeddingFunc)
}

func toDocument(sol *solution.Solution) (chromem.Document, error) {
	payload, err := json.Marshal(sol)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("encoding solution %s: %w", sol.ID, err)
	}
	vec := SolutionVector(sol)
	embedding := make([]float32, len(vec))
	for i, v := range vec {
		embedding[i] = float32(v)
	}
	return chromem.Document{
		ID:      sol.ID,
		Content: string(payload),
		Metadata: map[string]string{
			"error_signature": sol.ErrorSignature,
			"kind":            string(sol.Body.Kind),
			"service":         sol.Metadata.Service,
		},
		Embedding: embedding,
	}, nil
}

// Save implements Backend.
func (b *ChromemBackend) Save(ctx context.Context, sol *solution.Solution) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.collection()
	if err != nil {
		return fmt.Errorf("getting collection: %w", err)
	}
	doc, err := toDocument(sol)
	if err != nil {
		return err
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("adding document: %w", err)
	}
	return nil
}

// SaveAll implements Backend. The collection is rebuilt so pruned
// solutions do not linger on disk.
func (b *ChromemBackend) SaveAll(ctx context.Context, sols []*solution.Solution) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.db.DeleteCollection(b.config.Collection); err != nil {
		return fmt.Errorf("resetting collection: %w", err)
	}
	c, err := b.collection()
	if err != nil {
		return fmt.Errorf("recreating collection: %w", err)
	}
	if len(sols) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(sols))
	for _, sol := range sols {
		doc, err := toDocument(sol)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

// Load implements Backend. chromem has no list operation, so the full
// population is retrieved by querying with a neutral vector at the
// collection's document count.
func (b *ChromemBackend) Load(ctx context.Context) ([]*solution.Solution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.collection()
	if err != nil {
		return nil, fmt.Errorf("getting collection: %w", err)
	}
	count := c.Count()
	if count == 0 {
		return nil, nil
	}

	neutral := make([]float32, signature.VectorSize)
	for i := range neutral {
		neutral[i] = 1
	}
	results, err := c.QueryEmbedding(ctx, neutral, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	sols := make([]*solution.Solution, 0, len(results))
	for _, res := range results {
		var sol solution.Solution
		if err := json.Unmarshal([]byte(res.Content), &sol); err != nil {
			b.logger.Warn("skipping undecodable solution document",
				zap.String("id", res.ID),
				zap.Error(err),
			)
			continue
		}
		sols = append(sols, &sol)
	}
	return sols, nil
}

// Close implements Backend. chromem persists on write, nothing to flush.
func (b *ChromemBackend) Close() error { return nil }
