package turnengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencrew/agent-mesh/internal/ai"
)

// summarizerSystemPrompt is the original's exact summarization instruction
// (original_source/brain/services/openai_service.py::summarize_messages),
// carried verbatim because it is a prompt-engineering decision, not an
// implementation detail.
const summarizerSystemPrompt = "You are an AI summarizer. Summarize the following conversation/messages as a task-focused memory. Retain key facts, decisions, and outcomes. Do not add interpretations or analysis. Be concise, clear, and specific."

const summarizerTemperature = 0.3

// summarizeAgentMemory condenses the last summaryWindow messages involving
// agentID into a fresh long-term memory row, replacing the previous
// summary and resetting message_count (spec.md §4.3 step 8,
// original_source/brain/handlers/summarizer.py).
func (e *Engine) summarizeAgentMemory(ctx context.Context, projectID string, agentID uint64, nameByID map[uint64]string, provider ai.Provider, apiKey string) error {
	recent, err := e.repo.RecentAgentMessages(ctx, projectID, agentID, e.summaryWindow)
	if err != nil {
		return fmt.Errorf("fetch recent messages: %w", err)
	}
	if len(recent) == 0 {
		return nil
	}

	// recent arrives newest-first; the transcript reads oldest-first.
	lines := make([]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		sender := nameByID[m.SenderID]
		if sender == "" {
			sender = "UnknownSender"
		}
		receiver := nameByID[m.ReceiverID]
		if receiver == "" {
			receiver = "UnknownReceiver"
		}
		lines = append(lines, fmt.Sprintf("[%s to %s]: %s", sender, receiver, strings.TrimSpace(m.Content)))
	}
	transcript := strings.Join(lines, "\n\n")

	messages := []ai.Message{
		{Role: "system", Content: summarizerSystemPrompt},
		{Role: "user", Content: "Please summarize the following conversation extract:\n\n" + transcript},
	}

	temp := summarizerTemperature
	summary, err := provider.Chat(ctx, messages, nil, &ai.ChatOptions{
		Temperature: &temp,
		MaxTokens:   e.summaryMaxTokens,
		APIKey:      apiKey,
	})
	if err != nil {
		return fmt.Errorf("summarize call: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}

	return e.repo.UpsertSummary(ctx, projectID, agentID, summary, "")
}

// shouldSummarize reports whether R's message_count has crossed
// summary-threshold, following the original's reuse of the history window
// as its own summary trigger (spec.md leaves summary-threshold as an
// independent config value, defaulted to history-window).
func shouldSummarize(messageCount, threshold int) bool {
	return messageCount >= threshold
}
