package docstore

import (
	"context"
	"fmt"

	"connsync/internal/config"
	"connsync/internal/connectors"
	"connsync/internal/encryption"
	"connsync/internal/providers/httpclient"
)

// NewDocumentStoreFromConfig creates a DocumentStore based on the docstore config type.
func NewDocumentStoreFromConfig(ctx context.Context, cfg config.DocStoreConfig, clock connectors.Clock) (connectors.DocumentStore, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryStore(clock), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem docstore requires root to be set")
		}
		return NewFileSystemStore(cfg.Root, clock, enc)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 docstore requires bucket to be set")
		}
		return NewS3Store(ctx, cfg, clock, enc)
	case "minio":
		if cfg.Bucket == "" || cfg.Endpoint == "" {
			return nil, fmt.Errorf("minio docstore requires bucket and endpoint to be set")
		}
		return NewMinioStore(ctx, cfg, clock, enc)
	case "graph":
		if cfg.URI == "" {
			return nil, fmt.Errorf("graph docstore requires uri to be set")
		}
		return NewGraphStore(ctx, cfg, clock, enc)
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("http docstore requires base_url to be set")
		}
		var token httpclient.TokenProvider
		if cfg.TokenEnv != "" {
			token = httpclient.EnvTokenProvider(cfg.TokenEnv)
		}
		return NewHTTPStore(cfg.BaseURL, token, nil), nil
	default:
		return nil, fmt.Errorf("unknown docstore type: %s", cfg.Type)
	}
}
