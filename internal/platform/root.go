package platform

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/aretw0/tilvault/pkg/config"
)

// ConfigNames are the project-local config files, in lookup order.
var ConfigNames = []string{".til.yaml", ".til.yml", ".til.json"}

// ErrNoProjectConfig is returned by FindConfig when no directory up to the
// filesystem root holds a project config.
var ErrNoProjectConfig = errors.New("no project config found")

// FindConfig looks upwards from startDir for a project-local config file
// and returns its absolute path.
func FindConfig(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range ConfigNames {
			p := filepath.Join(dir, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoProjectConfig
		}
		dir = parent
	}
}

// ConfigPath picks the config file: an explicit path wins, then
// $TIL_CONFIG, then a project config above the working directory, then
// ~/.til/config.json.
func ConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(config.EnvPath); p != "" {
		return p, nil
	}
	if wd, err := os.Getwd(); err == nil {
		if p, err := FindConfig(wd); err == nil {
			return p, nil
		}
	}
	return config.DefaultPath()
}
