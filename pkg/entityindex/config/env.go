package config

import (
	"os"
	"strings"
)

// WithEnv applies environment variable overrides using the provided prefix.
//
// Environment variable mapping:
//
//	PORT              - HTTP listen port (default: "8080")
//	ENVIRONMENT       - Runtime environment (default: "development")
//	ELASTICSEARCH_URL - Comma-separated cluster addresses. When set, the
//	                    elastic document store is used; otherwise memory.
//	INDEX_PREFIX      - Prefix for the entity index name (default: "")
//	DATABASE_URL      - Metadata database connection string. When set, the
//	                    postgres metadata provider is used; otherwise memory.
func WithEnv(prefix string) Option {
	return func(c *ServerConfig) error {
		if v, ok := lookupEnv(prefix, "PORT"); ok && v != "" {
			c.Port = v
		}
		if v, ok := lookupEnv(prefix, "ENVIRONMENT"); ok && v != "" {
			c.Environment = v
		}
		if v, ok := lookupEnv(prefix, "ELASTICSEARCH_URL"); ok && v != "" {
			c.StoreType = "elastic"
			c.ElasticAddresses = splitAddresses(v)
		}
		if v, ok := lookupEnv(prefix, "INDEX_PREFIX"); ok {
			c.IndexPrefix = v
		}
		if v, ok := lookupEnv(prefix, "DATABASE_URL"); ok && v != "" {
			c.MetadataType = "postgres"
			c.DatabaseURL = v
		}
		return nil
	}
}

func lookupEnv(prefix, key string) (string, bool) {
	if prefix != "" {
		if v, ok := os.LookupEnv(prefix + key); ok {
			return v, true
		}
	}
	return os.LookupEnv(key)
}

func splitAddresses(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
