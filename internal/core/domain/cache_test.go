package domain

import (
	"testing"
	"time"
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name     string
		in       FingerprintInputs
		expected string
	}{
		{
			name:     "normalized",
			in:       FingerprintInputs{Title: "  Graph   Databases ", Context: "For DBAs", Difficulty: DifficultyAdvanced},
			expected: "graph databases||for dbas||advanced",
		},
		{
			name:     "default difficulty",
			in:       FingerprintInputs{Title: "Graph Databases"},
			expected: "graph databases||||intermediate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Fingerprint(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestOutlineFingerprintInputs(t *testing.T) {
	a := OutlineFingerprintInputs("Graph Databases", OutlineOptions{Context: "ctx", MaxChapters: 4})
	b := OutlineFingerprintInputs("graph databases", OutlineOptions{Context: "CTX", MaxChapters: 6, Difficulty: DifficultyIntermediate})
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("expected equal fingerprints, got %q and %q", a.Fingerprint(), b.Fingerprint())
	}

	c := OutlineFingerprintInputs("Graph Databases", OutlineOptions{Context: "ctx", ExtraDescription: "with examples"})
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("expected extra description to change the fingerprint")
	}
}

func TestParagraphFingerprintInputs(t *testing.T) {
	base := ParagraphFingerprintInputs("Graph Databases", "Basics", "Nodes", ParagraphOptions{})
	same := ParagraphFingerprintInputs("Graph Databases", "Basics", "Nodes", ParagraphOptions{MaxWords: DefaultMaxWords})
	if base.Fingerprint() != same.Fingerprint() {
		t.Error("expected defaults to be applied before fingerprinting")
	}

	examples := ParagraphFingerprintInputs("Graph Databases", "Basics", "Nodes", ParagraphOptions{IncludeExamples: true})
	if base.Fingerprint() == examples.Fingerprint() {
		t.Error("expected include examples to change the fingerprint")
	}
}

func TestCacheEntryMatches(t *testing.T) {
	f1 := FingerprintInputs{Title: "Graph Databases", Difficulty: DifficultyBeginner}
	f2 := FingerprintInputs{Title: "Graph Databases", Difficulty: DifficultyAdvanced}

	entry := &CacheEntry{Fingerprint: f1.Fingerprint(), Inputs: f1}
	if !entry.Matches(f1) {
		t.Error("expected entry to match its own inputs")
	}
	if entry.Matches(f2) {
		t.Error("expected entry not to match different inputs")
	}

	tampered := &CacheEntry{Fingerprint: f1.Fingerprint(), Inputs: f2}
	if tampered.Matches(f1) {
		t.Error("expected stored inputs to be double-checked")
	}
}

func TestCacheEntryIsStale(t *testing.T) {
	now := time.Now()
	entry := &CacheEntry{CreatedAt: now.Add(-200 * time.Hour)}

	if !entry.IsStale(now, DefaultMaxAgeHours*time.Hour) {
		t.Error("expected 200h old entry to be stale at 168h")
	}
	if entry.IsStale(now, 300*time.Hour) {
		t.Error("expected 200h old entry to be fresh at 300h")
	}
}
