package replay

import (
	"os"
	"path/filepath"
	"testing"
)

// #region fixture-tests

func TestLoadFixture_BenignSession(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "benign_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if len(f.Interactions) == 0 {
		t.Fatal("expected at least one interaction")
	}
	if f.Constitution == nil {
		t.Fatal("expected LoadFixture to default an absent constitution")
	}
}

func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadFixture_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestLoadFixture_NoInteractions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(path, []byte(`{"description":"empty"}`), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for a fixture with no interactions")
	}
}

// #endregion fixture-tests
