package store

import (
	"io"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if first != 1 {
		t.Fatalf("first version = %d, want 1", first)
	}
	next, err := src.Next(first)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if next != 2 {
		t.Fatalf("second version = %d, want 2", next)
	}
	if _, err := src.Next(next); err == nil {
		t.Fatal("expected no migration after version 2")
	}
}

func TestMigrationsCreateTables(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	defer src.Close()

	tests := []struct {
		version uint
		table   string
	}{
		{1, "CREATE TABLE IF NOT EXISTS buttons"},
		{2, "CREATE TABLE IF NOT EXISTS button_events"},
	}
	for _, tt := range tests {
		r, _, err := src.ReadUp(tt.version)
		if err != nil {
			t.Fatalf("ReadUp(%d): %v", tt.version, err)
		}
		body, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatalf("read migration %d: %v", tt.version, err)
		}
		if !strings.Contains(string(body), tt.table) {
			t.Errorf("migration %d does not contain %q", tt.version, tt.table)
		}

		down, _, err := src.ReadDown(tt.version)
		if err != nil {
			t.Fatalf("ReadDown(%d): %v", tt.version, err)
		}
		down.Close()
	}
}
