package memory

import (
	"context"
	"testing"
)

func TestHeuristicExtractor_Preference(t *testing.T) {
	e := NewHeuristicExtractor()
	candidates, err := e.Extract(context.Background(), "I prefer tea over coffee. The weather is nice today.")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d: %+v", len(candidates), candidates)
	}
	if candidates[0].Kind != KindPreference {
		t.Fatalf("expected KindPreference, got %v", candidates[0].Kind)
	}
}

func TestHeuristicExtractor_NoMatch(t *testing.T) {
	e := NewHeuristicExtractor()
	candidates, err := e.Extract(context.Background(), "What time is it?")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected 0 candidates, got %d", len(candidates))
	}
}
