package services

import (
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// BuildPrompt renders the system instruction, question and context into
// provider messages.
func BuildPrompt(systemPrompt, question string, ac domain.AssembledContext) []driven.Message {
	user := "Question: " + question
	if len(ac.Fragments) > 0 {
		user += "\n\nContext Documents:\n" + ac.Text
	}
	return []driven.Message{
		{Role: driven.MessageRoleSystem, Content: systemPrompt},
		{Role: driven.MessageRoleUser, Content: user},
	}
}

// EstimateAdmissionTokens is the token reservation taken at admission:
// the fixed prompt parts plus the full context and output budgets.
// It is an upper bound for the prompt, so reconciliation mostly refunds.
func EstimateAdmissionTokens(p domain.ResolvedParams, question string) int {
	return domain.EstimateTokens(p.SystemPrompt) + domain.EstimateTokens("Question: "+question) +
		p.MaxContextTokens + p.MaxTokens
}

// estimateMessageTokens approximates prompt size when a provider reports no usage
func estimateMessageTokens(messages []driven.Message) int {
	total := 0
	for _, m := range messages {
		total += domain.EstimateTokens(m.Content)
	}
	return total
}
