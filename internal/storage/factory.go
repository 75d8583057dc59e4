package storage

import (
	"context"
	"fmt"

	"github.com/kebairia/mybak/internal/config"
	"github.com/kebairia/mybak/internal/logger"
	"github.com/kebairia/mybak/internal/shell"
)

// New returns the provider selected by cfg.Provider.
func New(ctx context.Context, cfg config.StorageConfig, runner shell.Runner, log logger.Logger) (Provider, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("provider", cfg.Provider)

	switch cfg.Provider {
	case config.ProviderAzure:
		return NewAzure(cfg.Azure, runner, log), nil
	case config.ProviderS3:
		client, err := NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return NewS3(client, cfg.S3.Region, log), nil
	case config.ProviderGCS:
		client, err := NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return NewGCS(client, cfg.GCS, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Provider)
	}
}
