package store

import (
	"context"

	"github.com/fyrsmithlabs/healerd/internal/solution"
)

// Backend is a durable mirror of the population. Implementations must
// tolerate being unavailable; the store degrades to memory-only and logs.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Save writes one solution.
	Save(ctx context.Context, sol *solution.Solution) error

	// SaveAll writes the full population.
	SaveAll(ctx context.Context, sols []*solution.Solution) error

	// Load reads the persisted population.
	Load(ctx context.Context) ([]*solution.Solution, error)

	// Close releases backend resources.
	Close() error
}
