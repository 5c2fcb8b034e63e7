// Package config provides configuration loading for healerd.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/healerd/internal/logging"
)

// Config is the full daemon configuration.
type Config struct {
	Logging logging.Config `koanf:"logging"`
	Store   StoreConfig    `koanf:"store"`
	Qdrant  QdrantConfig   `koanf:"qdrant"`
	NATS    NATSConfig     `koanf:"nats"`
	Search  SearchConfig   `koanf:"search"`
	Engine  EngineConfig   `koanf:"engine"`
}

// StoreConfig configures the embedded solution store.
type StoreConfig struct {
	// Path is the on-disk location of the chromem database.
	Path string `koanf:"path"`

	// Compress enables gzip compression of stored documents.
	Compress bool `koanf:"compress"`

	// Collection is the chromem collection name.
	Collection string `koanf:"collection"`
}

// QdrantConfig configures the optional remote vector mirror.
type QdrantConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
}

// NATSConfig configures the messaging layer. An empty URL runs the
// daemon without intake, dispatch, or outcome notifications.
type NATSConfig struct {
	URL            string   `koanf:"url"`
	IntakeSubject  string   `koanf:"intake_subject"`
	OutcomeSubject string   `koanf:"outcome_subject"`
	ExecuteSubject string   `koanf:"execute_subject"`
	ExecuteTimeout Duration `koanf:"execute_timeout"`
}

// SearchConfig configures the online knowledge providers.
type SearchConfig struct {
	// GitHubToken enables the GitHub code search provider.
	GitHubToken Secret `koanf:"github_token"`

	// StackExchangeSite is the Stack Exchange site to query.
	StackExchangeSite string `koanf:"stackexchange_site"`

	ProviderTimeout Duration `koanf:"provider_timeout"`
	MaxQueries      int      `koanf:"max_queries"`
}

// EngineConfig tunes the evolution engine.
type EngineConfig struct {
	MutationRate          float64  `koanf:"mutation_rate"`
	CrossoverRate         float64  `koanf:"crossover_rate"`
	SelectionPressure     float64  `koanf:"selection_pressure"`
	PopulationCap         int      `koanf:"population_cap"`
	OnlineSearchThreshold float64  `koanf:"online_search_threshold"`
	SimilarityThreshold   float64  `koanf:"similarity_threshold"`
	CycleInterval         Duration `koanf:"cycle_interval"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	c.Logging.ApplyDefaults()

	if c.Store.Path == "" {
		c.Store.Path = "./data/solutions"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "healerd_solutions"
	}

	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "healerd_solutions"
	}

	if c.NATS.IntakeSubject == "" {
		c.NATS.IntakeSubject = "healerd.failures"
	}
	if c.NATS.OutcomeSubject == "" {
		c.NATS.OutcomeSubject = "healerd.outcomes"
	}
	if c.NATS.ExecuteSubject == "" {
		c.NATS.ExecuteSubject = "healerd.execute"
	}
	if c.NATS.ExecuteTimeout == 0 {
		c.NATS.ExecuteTimeout = Duration(30 * time.Second)
	}

	if c.Search.StackExchangeSite == "" {
		c.Search.StackExchangeSite = "stackoverflow"
	}
	if c.Search.ProviderTimeout == 0 {
		c.Search.ProviderTimeout = Duration(5 * time.Second)
	}
	if c.Search.MaxQueries == 0 {
		c.Search.MaxQueries = 3
	}

	if c.Engine.MutationRate == 0 {
		c.Engine.MutationRate = 0.3
	}
	if c.Engine.CrossoverRate == 0 {
		c.Engine.CrossoverRate = 0.5
	}
	if c.Engine.SelectionPressure == 0 {
		c.Engine.SelectionPressure = 0.7
	}
	if c.Engine.PopulationCap == 0 {
		c.Engine.PopulationCap = 100
	}
	if c.Engine.OnlineSearchThreshold == 0 {
		c.Engine.OnlineSearchThreshold = 0.3
	}
	if c.Engine.SimilarityThreshold == 0 {
		c.Engine.SimilarityThreshold = 0.7
	}
	if c.Engine.CycleInterval == 0 {
		c.Engine.CycleInterval = Duration(5 * time.Minute)
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Qdrant.Enabled && (c.Qdrant.Port < 1 || c.Qdrant.Port > 65535) {
		return fmt.Errorf("qdrant.port out of range: %d", c.Qdrant.Port)
	}
	for name, rate := range map[string]float64{
		"engine.mutation_rate":           c.Engine.MutationRate,
		"engine.crossover_rate":          c.Engine.CrossoverRate,
		"engine.selection_pressure":      c.Engine.SelectionPressure,
		"engine.online_search_threshold": c.Engine.OnlineSearchThreshold,
		"engine.similarity_threshold":    c.Engine.SimilarityThreshold,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, rate)
		}
	}
	if c.Engine.PopulationCap < 1 {
		return fmt.Errorf("engine.population_cap must be positive")
	}
	return nil
}
