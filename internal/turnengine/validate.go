package turnengine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencrew/agent-mesh/internal/models"
)

// breachNotice mirrors the original's BREACH_NOTICE, reworded for this
// module's recipient_id/body schema instead of the original's from/to.
const breachNotice = `Your previous message was not valid JSON and did not match the required format.

Please reply using **exactly** this structure (as a real JSON object):

{
  "recipient_id": 0,
  "body": "Your message content"
}

- Do not include Markdown or code blocks
- Only return one JSON object — nothing else
- Avoid extra text or formatting`

// invalidAgentNotice mirrors the original's INVALID_AGENT_NOTICE.
const invalidAgentNoticeTmpl = `[SYSTEM CORRECTION]: Your previous message addressed an agent you are not permitted to address.

Invalid recipient_id detected: %d
Please correct the recipient_id in your JSON response and choose from the available agents: %s.

Resubmit your response with a valid recipient_id.`

// rawReply is the wire shape a provider is asked to emit.
type rawReply struct {
	RecipientID *uint64 `json:"recipient_id"`
	Body        string  `json:"body"`
	Thinking    string  `json:"thinking,omitempty"`
}

// parsedReply is a syntactically and semantically valid reply.
type parsedReply struct {
	RecipientID uint64
	Body        string
}

// parseReply extracts a JSON object from raw LLM output. Providers
// sometimes wrap the object in prose or a code fence despite instructions;
// this looks for the outermost {...} span before decoding, matching the
// original's format_checker.py leniency.
func parseReply(raw string) (*rawReply, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object found in reply")
	}
	var r rawReply
	if err := json.Unmarshal([]byte(raw[start:end+1]), &r); err != nil {
		return nil, err
	}
	if r.RecipientID == nil {
		return nil, fmt.Errorf("missing recipient_id")
	}
	if strings.TrimSpace(r.Body) == "" {
		return nil, fmt.Errorf("missing body")
	}
	return &r, nil
}

// validateRecipient checks the syntactically valid reply against R's
// allowed-recipient set (spec.md §4.3 step 5): recipient_id must be an
// agent R is permitted to address, or the System agent.
func validateRecipient(reply *rawReply, responder MemberView) (uint64, error) {
	recipient := *reply.RecipientID
	if recipient == models.SystemAgentID {
		return recipient, nil
	}
	for _, id := range responder.CanAddress {
		if id == recipient {
			return recipient, nil
		}
	}
	return 0, fmt.Errorf("recipient_id %d not in allowed set", recipient)
}

// validateBody enforces the max-message-length invariant.
func validateBody(body string, maxLen int) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", fmt.Errorf("empty body")
	}
	if maxLen > 0 && len(body) > maxLen {
		return "", fmt.Errorf("body exceeds max-message-length (%d > %d)", len(body), maxLen)
	}
	return body, nil
}

// formatValidAgentNames renders the allowed-recipient set (plus System) for
// the invalid-agent correction notice.
func formatValidAgentNames(allowed []uint64) string {
	ids := make([]uint64, 0, len(allowed)+1)
	ids = append(ids, models.SystemAgentID)
	ids = append(ids, allowed...)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}

func invalidAgentNotice(invalidID uint64, allowed []uint64) string {
	return fmt.Sprintf(invalidAgentNoticeTmpl, invalidID, formatValidAgentNames(allowed))
}
