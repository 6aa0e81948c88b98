package platform

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/tilvault/pkg/adapters/remote"
)

// options holds the wiring choices that do not live in the config file.
type options struct {
	logger     *slog.Logger
	fileStore  remote.FileStore
	httpClient *http.Client
	clock      func() time.Time
	devSafety  bool
}

// Option configures how a vault is opened.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		logger:    slog.New(slog.DiscardHandler),
		devSafety: true,
	}
}

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFileStore skips backend construction and uses store instead. The
// configured backend name still labels logs and metrics.
func WithFileStore(store remote.FileStore) Option {
	return func(o *options) {
		o.fileStore = store
	}
}

// WithHTTPClient sets the client used by HTTP backends (GitHub).
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithClock replaces time.Now in the service.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithDevSafety controls the sandbox applied to local backends when the
// binary runs via `go run` or `go test`: paths outside the temp directory
// are re-rooted under it. Enabled by default.
func WithDevSafety(enabled bool) Option {
	return func(o *options) {
		o.devSafety = enabled
	}
}
