package migrate

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsAreOrderedAndAnnotated(t *testing.T) {
	files, err := Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	want := []string{"00001_ledger.sql", "00002_vesting.sql"}
	if len(files) != len(want) {
		t.Fatalf("unexpected files: %v", files)
	}
	for i, name := range want {
		if files[i] != name {
			t.Fatalf("file %d = %s, want %s", i, files[i], name)
		}
		body, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		text := string(body)
		if !strings.Contains(text, "-- +goose Up") || !strings.Contains(text, "-- +goose Down") {
			t.Fatalf("%s lacks goose annotations", name)
		}
	}
}

func TestVestingSchemaKeysProgramsByOwnerAndName(t *testing.T) {
	body, err := fs.ReadFile(migrationsFS, migrationsDir+"/00002_vesting.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "unique (owner, company_name)") {
		t.Fatal("missing (owner, company_name) unique constraint")
	}
}
