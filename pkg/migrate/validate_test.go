package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

const okBody = "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose StatementEnd\n-- +goose Down\nSELECT 1;\n"

func TestValidateRejects(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"add_orders.sql": {Data: []byte(okBody)},
		},
		"duplicate version": {
			"20260301090000_a.sql": {Data: []byte(okBody)},
			"20260301090000_b.sql": {Data: []byte(okBody)},
		},
		"missing down": {
			"20260301090000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		},
		"unbalanced block": {
			"20260301090000_a.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n")},
		},
	}
	for name, fsys := range cases {
		if err := Validate(fsys); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateIgnoresOtherFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"20260301090000_a.sql": {Data: []byte(okBody)},
		"README.md":            {Data: []byte("notes")},
	}
	if err := Validate(fsys); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateWritesValidMigration(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

	path, err := Create(dir, "Add driver shifts!", at)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := filepath.Base(path); got != "20260302083000_add_driver_shifts.sql" {
		t.Fatalf("unexpected filename %q", got)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "-- rollback add_driver_shifts") {
		t.Fatalf("template not rendered: %s", body)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("created migration does not validate: %v", err)
	}

	if _, err := Create(dir, "add driver shifts", at); err == nil {
		t.Fatalf("expected error when the file already exists")
	}
	if _, err := Create(dir, "!!!", at); err == nil {
		t.Fatalf("expected error for an empty slug")
	}
}
