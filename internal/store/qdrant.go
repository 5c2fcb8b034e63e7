package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

// QdrantConfig configures the remote Qdrant mirror.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port. Default: 6334.
	Port int

	// Collection is the collection name. Default: "healerd_solutions".
	Collection string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the retry budget for transient failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry. Default: 1s.
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "healerd_solutions"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// QdrantBackend mirrors the population to a remote Qdrant instance over
// gRPC. It is an optional second copy of the population; failures are
// surfaced as errors and the store logs and continues memory-only.
type QdrantBackend struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantBackend connects to Qdrant and ensures the collection exists.
func NewQdrantBackend(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantBackend, error) {
	config.ApplyDefaults()
	if config.Host == "" {
		return nil, fmt.Errorf("qdrant host required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	b := &QdrantBackend{client: client, config: config, logger: logger}
	if err := b.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant backend initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
	)
	return b, nil
}

// Name implements Backend.
func (b *QdrantBackend) Name() string { return "qdrant" }

func (b *QdrantBackend) ensureCollection(ctx context.Context) error {
	exists, err := b.client.CollectionExists(ctx, b.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", b.config.Collection, err)
	}
	if exists {
		return nil
	}
	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(signature.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", b.config.Collection, err)
	}
	return nil
}

// retry runs op with exponential backoff on failure.
func (b *QdrantBackend) retry(ctx context.Context, name string, op func() error) error {
	backoff := b.config.RetryBackoff
	var err error
	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == b.config.MaxRetries {
			break
		}
		b.logger.Debug("qdrant operation failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func toPoint(sol *solution.Solution) (*qdrant.PointStruct, error) {
	payload, err := json.Marshal(sol)
	if err != nil {
		return nil, fmt.Errorf("encoding solution %s: %w", sol.ID, err)
	}
	vec := SolutionVector(sol)
	embedding := make([]float32, len(vec))
	for i, v := range vec {
		embedding[i] = float32(v)
	}

	// Qdrant point IDs must be UUIDs; solution IDs carry lineage
	// suffixes, so derive a stable UUID and keep the real ID in payload.
	pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(sol.ID)).String()

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointID),
		Vectors: qdrant.NewVectors(embedding...),
		Payload: map[string]*qdrant.Value{
			"id":       {Kind: &qdrant.Value_StringValue{StringValue: sol.ID}},
			"solution": {Kind: &qdrant.Value_StringValue{StringValue: string(payload)}},
		},
	}, nil
}

// Save implements Backend.
func (b *QdrantBackend) Save(ctx context.Context, sol *solution.Solution) error {
	point, err := toPoint(sol)
	if err != nil {
		return err
	}
	return b.retry(ctx, "upsert", func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: b.config.Collection,
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	})
}

// SaveAll implements Backend. The collection is rebuilt so pruned
// solutions do not linger in the mirror.
func (b *QdrantBackend) SaveAll(ctx context.Context, sols []*solution.Solution) error {
	if err := b.retry(ctx, "delete_collection", func() error {
		return b.client.DeleteCollection(ctx, b.config.Collection)
	}); err != nil {
		return fmt.Errorf("resetting collection: %w", err)
	}
	if err := b.ensureCollection(ctx); err != nil {
		return err
	}
	if len(sols) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(sols))
	for _, sol := range sols {
		point, err := toPoint(sol)
		if err != nil {
			return err
		}
		points = append(points, point)
	}
	return b.retry(ctx, "upsert_all", func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: b.config.Collection,
			Points:         points,
		})
		return err
	})
}

// Load implements Backend.
func (b *QdrantBackend) Load(ctx context.Context) ([]*solution.Solution, error) {
	var points []*qdrant.RetrievedPoint
	err := b.retry(ctx, "scroll", func() error {
		res, err := b.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: b.config.Collection,
			Limit:          qdrant.PtrOf(uint32(1000)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scrolling collection %s: %w", b.config.Collection, err)
	}

	sols := make([]*solution.Solution, 0, len(points))
	for _, point := range points {
		raw, ok := point.Payload["solution"]
		if !ok {
			continue
		}
		var sol solution.Solution
		if err := json.Unmarshal([]byte(raw.GetStringValue()), &sol); err != nil {
			b.logger.Warn("skipping undecodable solution point", zap.Error(err))
			continue
		}
		sols = append(sols, &sol)
	}
	return sols, nil
}

// Close implements Backend.
func (b *QdrantBackend) Close() error {
	return b.client.Close()
}
