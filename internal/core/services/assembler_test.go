package services

import (
	"reflect"
	"strings"
	"testing"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func scored(id, doc string, index int, score float64, text string) *domain.ScoredChunk {
	return &domain.ScoredChunk{
		Chunk: &domain.DocumentChunk{ID: id, DocumentID: doc, ChunkIndex: index, Text: text, Source: doc + ".pdf"},
		Score: score,
	}
}

func fragmentIDs(ac domain.AssembledContext) []string {
	ids := make([]string, len(ac.Fragments))
	for i, f := range ac.Fragments {
		ids[i] = f.ChunkID
	}
	return ids
}

func TestContextAssembler_TopKAndDedupe(t *testing.T) {
	a := NewContextAssembler()
	chunks := []*domain.ScoredChunk{
		scored("c3", "d2", 0, 0.80, "three"),
		scored("c1", "d1", 0, 0.95, "one"),
		scored("c2", "d1", 0, 0.90, "one again"), // same document and index as c1
		scored("c4", "d3", 1, 0.70, "four"),
		scored("c5", "d4", 0, 0.60, "five"),
	}

	ac := a.Assemble(chunks, 4, 0)

	want := []string{"c1", "c3", "c4"}
	if got := fragmentIDs(ac); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestContextAssembler_StopsAtBudget(t *testing.T) {
	a := NewContextAssembler()
	long := strings.Repeat("x", 400)
	chunks := []*domain.ScoredChunk{
		scored("c1", "d1", 0, 0.9, long),
		scored("c2", "d2", 0, 0.8, long),
		scored("c3", "d3", 0, 0.7, "tiny"),
	}

	one := domain.EstimateTokens(formatFragment(1, chunks[0].Chunk))
	ac := a.Assemble(chunks, 5, one+50)

	// c2 does not fit, and assembly stops there rather than skipping to c3
	if got := fragmentIDs(ac); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Fatalf("expected only c1, got %v", got)
	}
	if ac.Tokens != one {
		t.Errorf("expected %d tokens, got %d", one, ac.Tokens)
	}
	if ac.Tokens > one+50 {
		t.Error("context exceeds budget")
	}
}

func TestContextAssembler_Format(t *testing.T) {
	a := NewContextAssembler()
	ac := a.Assemble([]*domain.ScoredChunk{
		scored("c1", "guide", 0, 0.9, "Install with make."),
		scored("c2", "faq", 0, 0.8, "Run make test."),
	}, 5, 3000)

	want := "\n[Document 1 - guide.pdf]\nInstall with make.\n" +
		"\n[Document 2 - faq.pdf]\nRun make test.\n"
	if ac.Text != want {
		t.Errorf("unexpected context text:\n%q\nwant:\n%q", ac.Text, want)
	}
	if ac.Fragments[0].Text != "Install with make." || ac.Fragments[0].Source != "guide.pdf" {
		t.Errorf("unexpected fragment: %+v", ac.Fragments[0])
	}
}

func TestContextAssembler_Idempotent(t *testing.T) {
	a := NewContextAssembler()
	input := []*domain.ScoredChunk{
		scored("b", "d1", 0, 0.8, "beta"),
		scored("a", "d2", 0, 0.8, "alpha"),
		scored("c", "d3", 0, 0.9, "gamma"),
		scored("d", "d1", 0, 0.7, "dup of b"),
	}

	first := a.Assemble(input, 3, 100)
	for i := 0; i < 10; i++ {
		again := a.Assemble(input, 3, 100)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %v vs %v", i, fragmentIDs(first), fragmentIDs(again))
		}
	}
	if got := fragmentIDs(first); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("expected [c a b], got %v", got)
	}
}

func TestContextAssembler_Empty(t *testing.T) {
	ac := NewContextAssembler().Assemble(nil, 5, 3000)
	if ac.Text != "" || len(ac.Fragments) != 0 || ac.Tokens != 0 {
		t.Errorf("expected empty context, got %+v", ac)
	}
}
