package tilvault_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aretw0/tilvault"
	"github.com/aretw0/tilvault/pkg/config"
)

// Example_basic opens a gitless local vault, saves a note and reads it back.
func Example_basic() {
	tmpDir, err := os.MkdirTemp("", "til-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := tilvault.Config{
		Backend:  config.BackendFS,
		Dir:      "tils",
		Timezone: "UTC",
		FS:       &config.FSConfig{Path: filepath.Join(tmpDir, "vault"), Gitless: true},
	}

	ctx := context.Background()
	vault, err := tilvault.Init(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer vault.Close()

	note, err := vault.Service.Create(ctx, tilvault.NoteInput{
		Title:   "Python decorators",
		Content: "Decorators wrap functions.",
		Tags:    []string{"Python", "tips"},
	})
	if err != nil {
		log.Fatal(err)
	}

	got, err := vault.Service.Get(ctx, note.ID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(got.Title, got.Tags)
	// Output:
	// Python decorators [python tips]
}

// ExampleMigrate copies a collection between two backends.
func ExampleMigrate() {
	tmpDir, err := os.MkdirTemp("", "til-migrate-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	from := tilvault.Config{
		Backend: config.BackendBadger, Dir: "tils", Timezone: "UTC",
		Badger: &config.BadgerConfig{Path: filepath.Join(tmpDir, "db")},
	}
	to := tilvault.Config{
		Backend: config.BackendFS, Dir: "tils", Timezone: "UTC",
		FS: &config.FSConfig{Path: filepath.Join(tmpDir, "vault"), Gitless: true},
	}

	ctx := context.Background()
	source, err := tilvault.Init(ctx, from)
	if err != nil {
		log.Fatal(err)
	}
	for _, title := range []string{"Go contexts", "SQL window functions"} {
		if _, err := source.Service.Create(ctx, tilvault.NoteInput{Title: title, Content: "..."}); err != nil {
			log.Fatal(err)
		}
	}
	source.Close()

	report, err := tilvault.Migrate(ctx, from, to, false)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("migrated %d of %d, ok=%v\n", report.Migrated, report.Total, report.OK())
	// Output:
	// migrated 2 of 2, ok=true
}
