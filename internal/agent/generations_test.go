package agent

import "testing"

func TestLastGenerationIDTakesLastNonEmptyLine(t *testing.T) {
	listing := "  1   2024-01-01 12:00:00\n  2   2024-01-02 12:00:00 (current)\n"
	id, err := LastGenerationID(listing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "2" {
		t.Fatalf("expected generation 2, got %q", id)
	}
}

func TestLastGenerationIDIgnoresTrailingBlankLines(t *testing.T) {
	listing := "  1   2024-01-01 12:00:00\n\n"
	id, err := LastGenerationID(listing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "1" {
		t.Fatalf("expected generation 1, got %q", id)
	}
}

func TestLastGenerationIDEmptyListingErrors(t *testing.T) {
	if _, err := LastGenerationID(""); err == nil {
		t.Fatalf("expected error for empty listing")
	}
}
