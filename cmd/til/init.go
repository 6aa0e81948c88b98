package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aretw0/tilvault/internal/platform"
	"github.com/aretw0/tilvault/pkg/config"
	"github.com/aretw0/tilvault/pkg/core"
)

var (
	initRepo       string
	initPath       string
	initBucket     string
	initProject    string
	initAutoCreate bool
	initGitless    bool
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Configure a backend and prepare it for notes",
	Long: `Write the config file (when missing or when flags change it) and
initialize the backend: create the GitHub repository (--auto-create) and the
notes directory, the bucket, the database schema or the local vault.

  til init --backend github --repo alice/til-notes --auto-create
  til init --backend fs --path ~/tils
  til init --backend s3 --bucket my-tils`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path, err := platform.ConfigPath(configPath)
		if err != nil {
			fatal("Failed to locate config", err)
		}

		cfg, loadErr := config.Load(path)
		changed := false
		cmd.Flags().Visit(func(f *pflag.Flag) {
			switch f.Name {
			case "verbose", "config", "json":
			default:
				changed = true
			}
		})
		if loadErr != nil {
			if !changed {
				fatal("Failed to load config", fmt.Errorf("%w: %w", core.ErrValidation, loadErr))
			}
			cfg = config.Default()
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			changed = true
		}

		if changed {
			if err := applyInitFlags(&cfg); err != nil {
				fatal("Invalid flags", err)
			}
			if err := cfg.Validate(); err != nil {
				fatal("Invalid config", fmt.Errorf("%w: %w", core.ErrValidation, err))
			}
			if err := config.Save(path, cfg); err != nil {
				fatal("Failed to save config", err)
			}
			slog.Info("config written", "path", path, "backend", cfg.Backend)
			// Reload so defaults filled on load apply.
			if cfg, err = config.Load(path); err != nil {
				fatal("Failed to load config", err)
			}
		}

		v, err := platform.Init(cmd.Context(), cfg, platform.WithLogger(slog.Default()))
		if err != nil {
			fatal("Failed to initialize backend", err)
		}
		defer v.Close()

		fmt.Printf("Initialized %s backend (notes in %q). Config: %s\n", cfg.Backend, cfg.Dir, path)
	},
}

func applyInitFlags(cfg *config.Config) error {
	if backend != "" {
		cfg.Backend = backend
	}

	switch cfg.Backend {
	case config.BackendGitHub:
		if cfg.GitHub == nil {
			cfg.GitHub = &config.GitHubConfig{}
		}
		if initRepo != "" {
			cfg.GitHub.Repo = initRepo
		}
		if initAutoCreate {
			cfg.GitHub.AutoCreate = true
		}
	case config.BackendFS:
		p := initPath
		if p == "" {
			p = "."
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		cfg.FS = &config.FSConfig{Path: abs, Gitless: initGitless}
	case config.BackendS3:
		if cfg.S3 == nil {
			cfg.S3 = &config.S3Config{}
		}
		if initBucket != "" {
			cfg.S3.Bucket = initBucket
		}
		cfg.S3.AutoCreate = cfg.S3.AutoCreate || initAutoCreate
	case config.BackendGCS:
		if cfg.GCS == nil {
			cfg.GCS = &config.GCSConfig{}
		}
		if initBucket != "" {
			cfg.GCS.Bucket = initBucket
		}
		if initProject != "" {
			cfg.GCS.ProjectID = initProject
		}
		cfg.GCS.AutoCreate = cfg.GCS.AutoCreate || initAutoCreate
	case config.BackendBadger:
		if cfg.Badger == nil {
			cfg.Badger = &config.BadgerConfig{}
		}
		if initPath != "" {
			abs, err := filepath.Abs(initPath)
			if err != nil {
				return err
			}
			cfg.Badger.Path = abs
		}
	case config.BackendPostgres:
		if cfg.Postgres == nil {
			cfg.Postgres = &config.PostgresConfig{DSNEnv: "TIL_POSTGRES_DSN"}
		}
	}
	return nil
}

func init() {
	initCmd.Flags().StringVar(&initRepo, "repo", "", "GitHub repository (owner/name)")
	initCmd.Flags().StringVar(&initPath, "path", "", "Directory for the fs and badger backends")
	initCmd.Flags().StringVar(&initBucket, "bucket", "", "Bucket for the s3 and gcs backends")
	initCmd.Flags().StringVar(&initProject, "project", "", "Google Cloud project for bucket creation")
	initCmd.Flags().BoolVar(&initAutoCreate, "auto-create", false, "Create the repository or bucket when missing")
	initCmd.Flags().BoolVar(&initGitless, "gitless", false, "fs backend: plain files without git")
	rootCmd.AddCommand(initCmd)
}
