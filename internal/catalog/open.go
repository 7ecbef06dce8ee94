package catalog

import (
	"fmt"
	"time"

	"dvetransfer/internal/config"
)

// FromConfig returns the embedded store when no catalog URL is configured,
// else an HTTP client. The returned store is nil for a remote catalog and
// must be closed by the caller otherwise.
func FromConfig(cfg *config.Config) (Service, *Store, error) {
	if cfg.UsesEmbeddedCatalog() {
		store, err := OpenStore(cfg.CatalogDatabasePath())
		if err != nil {
			return nil, nil, fmt.Errorf("open catalog: %w", err)
		}
		return store, store, nil
	}
	client, err := NewHTTPClient(cfg.Catalog.URL,
		WithToken(cfg.Catalog.Token),
		WithTimeout(time.Duration(cfg.Catalog.TimeoutSeconds)*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog client: %w", err)
	}
	return client, nil, nil
}
