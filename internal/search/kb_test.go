package search

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestKB(t *testing.T) *KBIndex {
	t.Helper()
	k, err := NewKBIndex(filepath.Join(t.TempDir(), "kb.db"), nil)
	if err != nil {
		t.Fatalf("failed to create kb index: %v", err)
	}
	t.Cleanup(func() { k.Close() })
	return k
}

func TestAddDocumentChunks(t *testing.T) {
	k := newTestKB(t)

	long := strings.Repeat("security policy content for the handbook. ", 60) // > 2 chunks
	doc, err := k.AddDocument("handbook.txt", long)
	if err != nil {
		t.Fatalf("add document: %v", err)
	}
	if doc.ChunkCount < 2 {
		t.Errorf("expected multiple chunks for %d bytes, got %d", len(long), doc.ChunkCount)
	}

	docs, err := k.Documents()
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 1 || docs[0].Filename != "handbook.txt" {
		t.Fatalf("expected one handbook doc, got %v", docs)
	}
}

func TestSearchRanksByOverlap(t *testing.T) {
	k := newTestKB(t)
	k.AddDocument("vpn.md", "The VPN access policy requires manager approval before access is granted.")
	k.AddDocument("cafeteria.md", "The cafeteria opens at eight and serves lunch until two.")

	results, err := k.Search(context.Background(), "what is the VPN access policy", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Title != "vpn.md" {
		t.Errorf("expected vpn.md ranked first, got %q", results[0].Title)
	}
	if results[0].Score >= RelevanceThreshold {
		t.Errorf("expected relevant score under %v, got %v", RelevanceThreshold, results[0].Score)
	}
}

func TestSearchNoOverlapReturnsNothing(t *testing.T) {
	k := newTestKB(t)
	k.AddDocument("vpn.md", "The VPN access policy requires manager approval.")

	results, err := k.Search(context.Background(), "quarterly payroll schedule", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results without shared vocabulary, got %d", len(results))
	}
}

func TestSplitChunksOverlap(t *testing.T) {
	content := strings.Repeat("a", 2500)
	chunks := splitChunks(content, 1000, 200)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks[:len(chunks)-1] {
		if len(c) != 1000 {
			t.Errorf("chunk %d: expected 1000 bytes, got %d", i, len(c))
		}
	}

	if got := splitChunks("short", 1000, 200); len(got) != 1 || got[0] != "short" {
		t.Errorf("short content should be a single chunk, got %v", got)
	}
	if got := splitChunks("   ", 1000, 200); got != nil {
		t.Errorf("blank content should yield no chunks, got %v", got)
	}
}

func TestScoreChunk(t *testing.T) {
	q := tokenize("password policy rules")
	full, ok := scoreChunk(q, "the password policy rules are strict")
	if !ok || full != 0 {
		t.Errorf("expected perfect match score 0, got %v ok=%v", full, ok)
	}

	partial, ok := scoreChunk(q, "the password is secret")
	if !ok || partial <= full {
		t.Errorf("expected partial match to score worse than full, got %v", partial)
	}

	if _, ok := scoreChunk(q, "nothing shared here"); ok {
		t.Error("expected no match for disjoint vocabulary")
	}
}
