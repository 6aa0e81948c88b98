package remote

import (
	"time"

	"github.com/aretw0/introspection"
)

// BackendState exposes internal state for observability.
type BackendState struct {
	Name        string     `json:"name"`
	Dir         string     `json:"dir"`
	CachedNotes int        `json:"cached_notes"`
	CacheTTL    string     `json:"cache_ttl"`
	Generation  uint64     `json:"generation"`
	LoadedAt    *time.Time `json:"loaded_at,omitempty"`
}

// State implements introspection.Introspectable.
func (b *Backend) State() any {
	return BackendState{
		Name:        b.config.Name,
		Dir:         b.config.Dir,
		CachedNotes: b.cache.Len(),
		CacheTTL:    b.config.CacheTTL.String(),
		Generation:  b.cache.Generation(),
		LoadedAt:    b.cache.LoadedAt(),
	}
}

// ComponentType implements introspection.Component.
func (b *Backend) ComponentType() string {
	return b.config.Name
}

var _ introspection.Introspectable = (*Backend)(nil)
var _ introspection.Component = (*Backend)(nil)
