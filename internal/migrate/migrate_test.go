package migrate

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLedgerSchemaContainsConstraints(t *testing.T) {
	data, err := migrations.ReadFile(Dir + "/00001_ledger_schema.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	content := string(data)
	checks := []string{
		"CREATE TABLE IF NOT EXISTS ledger_accounts",
		"PRIMARY KEY (account_type, account_id)",
		"seq BIGSERIAL PRIMARY KEY",
		"BEFORE UPDATE OR DELETE ON ledger_entries",
		"CHECK (id = 1)",
		"INSERT INTO cashbox (id) VALUES (1)",
		"history_moved BOOLEAN",
		"DROP TABLE IF EXISTS ledger_entries",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateRejectsBadNames(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/create_things.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	}
	if err := validateFS(fsys); err == nil {
		t.Fatal("expected invalid filename error")
	}
}

func TestValidateRejectsMissingDown(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/00002_things.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
	}
	if err := validateFS(fsys); err == nil || !strings.Contains(err.Error(), "goose Down") {
		t.Fatalf("expected missing down error, got %v", err)
	}
}
