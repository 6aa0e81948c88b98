package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tilvault/internal/platform"
	"github.com/aretw0/tilvault/pkg/config"
	"github.com/aretw0/tilvault/pkg/core"
)

func main() {
	Execute()
}

// Exit codes by error kind, so scripts can tell a missing note from a
// broken backend.
var exitCodes = map[string]int{
	"validation": 2,
	"not_found":  3,
	"conflict":   4,
	"rate_limit": 5,
	"auth":       6,
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	if errors.Is(err, context.Canceled) {
		os.Exit(130)
	}
	if code, ok := exitCodes[core.KindOf(err)]; ok {
		os.Exit(code)
	}
	os.Exit(1)
}

// loadConfig resolves and reads the config file, applying --backend.
func loadConfig() (string, config.Config) {
	path, err := platform.ConfigPath(configPath)
	if err != nil {
		fatal("Failed to locate config", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal("Failed to load config", fmt.Errorf("%w: %w", core.ErrValidation, err))
	}
	if backend != "" && backend != cfg.Backend {
		cfg.Backend = backend
		if err := cfg.Validate(); err != nil {
			fatal("Invalid --backend", fmt.Errorf("%w: %w", core.ErrValidation, err))
		}
	}
	return path, cfg
}

// openVault opens the configured backend. The caller closes it.
func openVault(ctx context.Context) (*platform.Vault, config.Config) {
	_, cfg := loadConfig()
	v, err := platform.Open(ctx, cfg, platform.WithLogger(slog.Default()))
	if err != nil {
		fatal("Failed to open vault", err)
	}
	return v, cfg
}
