package turnengine

import (
	"fmt"

	"github.com/opencrew/agent-mesh/internal/ai"
	"github.com/opencrew/agent-mesh/internal/models"
)

// historyWindowSize computes K, the number of short-term history messages
// to fetch for a responding agent, following the original's
// min(HISTORY_WINDOW_SIZE, max(MINIMUM_WINDOW_SIZE, message_count)).
func historyWindowSize(messageCount, historyWindow, minimumWindow int) int {
	k := messageCount
	if k < minimumWindow {
		k = minimumWindow
	}
	if k > historyWindow {
		k = historyWindow
	}
	return k
}

// buildSystemPrompt combines the project-wide system prompt with the
// responding agent's role/prompt override.
func buildSystemPrompt(projectPrompt string, responder MemberView) string {
	out := projectPrompt
	if responder.Role != "" {
		out += fmt.Sprintf("\n\n[AGENT ROLE] %s", responder.Role)
	}
	if responder.Prompt != "" {
		out += "\n\n" + responder.Prompt
	}
	return out
}

// nameOrUnknown looks up an agent's display name, falling back the same way
// summarize.go's transcript formatting does when the id isn't in scope.
func nameOrUnknown(nameByID map[uint64]string, id uint64) string {
	if n := nameByID[id]; n != "" {
		return n
	}
	return "Unknown"
}

// buildPrompt assembles the ordered role-tagged prompt for one turn:
// system prompt, long-term summary, short-term history (oldest last), and
// the trigger itself. Every history and trigger line carries an explicit
// [FROM: sender TO: receiver] tag (original_source/brain/services/
// prompt_builder.py::_format_historical_message_content) because
// RecentAgentMessages pulls messages where the responder is either sender
// or receiver across every conversation it's a member of — an untagged
// line would leave the responder unable to tell which correspondent it
// came from or was meant for.
func buildPrompt(project models.Project, responder MemberView, history []models.Message, trigger models.Message, nameByID map[uint64]string) []ai.Message {
	msgs := make([]ai.Message, 0, len(history)+3)

	msgs = append(msgs, ai.Message{Role: "system", Content: buildSystemPrompt(project.SystemPrompt, responder)})

	if responder.Summary != "" {
		msgs = append(msgs, ai.Message{Role: "system", Content: "Your memory of past interactions in this project:\n" + responder.Summary})
	}

	// history arrives newest-first from RecentAgentMessages; reverse to
	// oldest-first for the prompt.
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		role := "user"
		if h.Type == models.MessageTypeAssistant && h.SenderID == responder.AgentID {
			role = "assistant"
		}
		tagged := fmt.Sprintf("[FROM: %s TO: %s] %s", nameOrUnknown(nameByID, h.SenderID), nameOrUnknown(nameByID, h.ReceiverID), h.Content)
		msgs = append(msgs, ai.Message{Role: role, Content: tagged})
	}

	triggerContent := fmt.Sprintf("[FROM: %s TO: %s] %s", nameOrUnknown(nameByID, trigger.SenderID), nameOrUnknown(nameByID, trigger.ReceiverID), trigger.Content)
	msgs = append(msgs, ai.Message{Role: "user", Content: triggerContent})

	return msgs
}

// ReplySchema is the structured-reply shape every provider is asked to
// honor for a turn.
var ReplySchema = &ai.ResponseSchema{
	Name:        "agent_reply",
	Description: "Structured reply from the responding agent",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recipient_id": map[string]any{"type": "integer", "description": "id of the agent this message is addressed to"},
			"body":         map[string]any{"type": "string", "description": "message content"},
			"thinking":     map[string]any{"type": "string", "description": "optional scratch reasoning, ignored by the core"},
		},
		"required":             []string{"recipient_id", "body"},
		"additionalProperties": false,
	},
}
