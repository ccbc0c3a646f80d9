package domain

import (
	"math"
	"testing"
)

func TestPricingCost(t *testing.T) {
	p := DefaultPricing()
	usage := TokenUsage{InputTokens: 2000, OutputTokens: 1000, TotalTokens: 3000}

	got := p.Cost("gpt-4o", usage)
	want := 2*0.0025 + 1*0.01
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Cost() = %v, want %v", got, want)
	}
	if p.Cost("llama3", usage) != 0 {
		t.Error("unknown models cost nothing")
	}
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{1, 2, 3}.Add(TokenUsage{10, 20, 30})
	if u != (TokenUsage{11, 22, 33}) {
		t.Errorf("Add() = %+v", u)
	}
}

func TestQueryResultClone(t *testing.T) {
	var nilResult *QueryResult
	if nilResult.Clone() != nil {
		t.Error("nil clones to nil")
	}

	r := &QueryResult{ID: "q1", Fragments: []ContextFragment{{ChunkID: "c1"}}, Warnings: []string{"w"}}
	c := r.Clone()
	c.Fragments[0].ChunkID = "changed"
	c.Warnings[0] = "changed"
	if r.Fragments[0].ChunkID != "c1" || r.Warnings[0] != "w" {
		t.Error("clone shares slices with the original")
	}
}

func TestFeedbackValidate(t *testing.T) {
	for _, rating := range []int{0, 6} {
		if (Feedback{Rating: rating}).Validate() == nil {
			t.Errorf("rating %d should be rejected", rating)
		}
	}
	if err := (Feedback{Rating: 5, Comment: "great"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2}
	for in, want := range tests {
		if got := EstimateTokens(in); got != want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", in, got, want)
		}
	}
}
