// Package config assembles an entityindex.Service from declarative
// configuration, defaulting to fully in-process backends.
package config

import (
	"context"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/entity-index/pkg/entityindex"
	metamemory "github.com/tendant/entity-index/pkg/entityindex/metadata/memory"
	metapg "github.com/tendant/entity-index/pkg/entityindex/metadata/postgres"
	storeelastic "github.com/tendant/entity-index/pkg/entityindex/store/elastic"
	storememory "github.com/tendant/entity-index/pkg/entityindex/store/memory"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top
// of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		StoreType:    "memory",
		IndexPrefix:  "",
		MetadataType: "memory",
	}
}

// ServerConfig represents server configuration for the entity-index service.
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Document store configuration
	StoreType        string // "memory", "elastic"
	ElasticAddresses []string
	IndexPrefix      string

	// Metadata configuration
	MetadataType string // "memory", "postgres"
	DatabaseURL  string

	// MemoryMetadata receives the in-process provider when MetadataType is
	// "memory", so callers can register the content model.
	MemoryMetadata *metamemory.Provider
}

// Validate checks the configuration for consistency.
func (c *ServerConfig) Validate() error {
	switch c.StoreType {
	case "memory":
	case "elastic":
		if len(c.ElasticAddresses) == 0 {
			return fmt.Errorf("elastic store requires at least one address")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.StoreType)
	}
	switch c.MetadataType {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("postgres metadata requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown metadata type %q", c.MetadataType)
	}
	return nil
}

// WithElasticStore selects the Elasticsearch document store.
func WithElasticStore(addresses []string, indexPrefix string) Option {
	return func(c *ServerConfig) error {
		c.StoreType = "elastic"
		c.ElasticAddresses = addresses
		c.IndexPrefix = indexPrefix
		return nil
	}
}

// WithPostgresMetadata selects the PostgreSQL metadata provider.
func WithPostgresMetadata(databaseURL string) Option {
	return func(c *ServerConfig) error {
		c.MetadataType = "postgres"
		c.DatabaseURL = databaseURL
		return nil
	}
}

// WithPort sets the HTTP listen port.
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		c.Port = port
		return nil
	}
}

// BuildService wires the configured backends into a Service. For the
// elastic store the index is created with its mapping when absent.
func (c *ServerConfig) BuildService(ctx context.Context) (entityindex.Service, error) {
	var store entityindex.DocumentStore
	switch c.StoreType {
	case "elastic":
		client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: c.ElasticAddresses})
		if err != nil {
			return nil, fmt.Errorf("create elasticsearch client: %w", err)
		}
		es := storeelastic.New(client, c.IndexPrefix)
		if err := es.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		store = es
	default:
		store = storememory.New()
	}

	var metadata entityindex.MetadataProvider
	switch c.MetadataType {
	case "postgres":
		pool, err := pgxpool.New(ctx, c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect metadata database: %w", err)
		}
		metadata = metapg.NewWithPool(pool)
	default:
		provider := metamemory.New()
		c.MemoryMetadata = provider
		metadata = provider
	}

	return entityindex.New(
		entityindex.WithDocumentStore(store),
		entityindex.WithMetadataProvider(metadata),
	)
}
