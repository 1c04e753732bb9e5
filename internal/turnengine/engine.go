// Package turnengine implements the per-project run loop (spec.md
// §4.3-§4.5): fetch context, drain pending messages, call the LLM with a
// structured-reply schema, validate and correct, persist, and manage
// long-term memory — grounded on original_source/brain's
// message_handler.py/project_handler.py control flow, expressed as a Go
// service the way the teacher's internal/chat/service.go wraps a repo and
// a provider registry.
package turnengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/ai"
	"github.com/opencrew/agent-mesh/internal/crypto"
	"github.com/opencrew/agent-mesh/internal/models"
)

// Engine drives one project's turn loop to completion (or a stop
// condition) per invocation. One Engine is shared across every project a
// worker process handles; all state for a single run is passed through
// call arguments, never held on the Engine itself, so concurrent runs of
// different projects are safe.
type Engine struct {
	repo     *Repo
	registry *ai.Registry
	cipher   *crypto.TokenCipher

	maxRetries          int
	historyWindow       int
	minimumWindow       int
	summaryThreshold    int
	summaryWindow       int
	summaryMaxTokens    int
	maxMessageLength    int
	maxIterationsPerRun int
	llmRequestTimeout   time.Duration
}

// Config bundles the worker tunables from spec.md §6 an Engine needs.
type Config struct {
	MaxRetries          int
	HistoryWindow       int
	MinimumWindow       int
	SummaryThreshold    int
	SummaryWindow       int
	SummaryMaxTokens    int
	MaxMessageLength    int
	MaxIterationsPerRun int
	LLMRequestTimeout   time.Duration
}

func NewEngine(repo *Repo, registry *ai.Registry, cipher *crypto.TokenCipher, cfg Config) *Engine {
	return &Engine{
		repo:                repo,
		registry:            registry,
		cipher:              cipher,
		maxRetries:          cfg.MaxRetries,
		historyWindow:       cfg.HistoryWindow,
		minimumWindow:       cfg.MinimumWindow,
		summaryThreshold:    cfg.SummaryThreshold,
		summaryWindow:       cfg.SummaryWindow,
		summaryMaxTokens:    cfg.SummaryMaxTokens,
		maxMessageLength:    cfg.MaxMessageLength,
		maxIterationsPerRun: cfg.MaxIterationsPerRun,
		llmRequestTimeout:   cfg.LLMRequestTimeout,
	}
}

// Run drains every pending message for a project, one BUILD-PROMPT ->
// CALL-LLM -> validate -> persist cycle at a time, until a stop condition
// is reached: paused, token unavailable, budget exhausted, nothing
// pending, or the per-run iteration cap (spec.md §4.3, §4.5;
// original_source/brain/handlers/project_handler.py's while loop).
func (e *Engine) Run(ctx context.Context, projectID string) error {
	snap, err := e.repo.GetContext(ctx, projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("get-context: %w", err)
	}

	var apiKey string
	if snap.Token != nil && snap.Token.Active {
		apiKey, err = e.cipher.Decrypt(snap.Token.Ciphertext)
		if err != nil {
			e.logAndPause(ctx, projectID, "DECRYPTION_FAILURE", fmt.Sprintf("failed to decrypt bound token: %v", err))
			return nil
		}
	}
	if apiKey == "" {
		_ = e.repo.CreateLog(ctx, projectID, models.LogLevelWarn, "NO_API_TOKEN", "project has no active bound token")
		return nil
	}

	nameByID := make(map[uint64]string, len(snap.Members))
	for id, m := range snap.Members {
		nameByID[id] = m.Name
	}

	for iteration := 0; iteration < e.maxIterationsPerRun; iteration++ {
		flags, err := e.repo.GetProjectFlags(ctx, projectID)
		if err != nil {
			return fmt.Errorf("get-project-flags: %w", err)
		}
		if flags.Paused {
			return nil
		}
		if !flags.TokenActive {
			return e.repo.Pause(ctx, projectID, "TOKEN_INACTIVE_OR_MISSING", "assigned token is inactive or missing")
		}
		if flags.Budget <= 0 {
			return nil
		}

		pending, err := e.repo.PendingQueue(ctx, projectID)
		if err != nil {
			return fmt.Errorf("pending-queue: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		for _, trigger := range pending {
			if err := e.handleOne(ctx, snap, nameByID, apiKey, trigger); err != nil {
				log.Printf("turnengine: project %s message %s: %v", projectID, trigger.ID, err)
			}
		}
	}

	log.Printf("turnengine: project %s hit max-iterations-per-run (%d), yielding to next nudge", projectID, e.maxIterationsPerRun)
	_ = e.repo.CreateLog(ctx, projectID, models.LogLevelWarn, "MAX_ITERATIONS_REACHED",
		fmt.Sprintf("reached %d iterations, exiting run to let the next nudge continue", e.maxIterationsPerRun))
	return nil
}

// handleOne runs one message through steps 3-9 of spec.md §4.3.
func (e *Engine) handleOne(ctx context.Context, snap *Snapshot, nameByID map[uint64]string, apiKey string, trigger models.Message) error {
	responder, ok := snap.Members[trigger.ReceiverID]
	if !ok {
		e.logAndPause(ctx, trigger.ProjectID, "AGENT_NOT_FOUND",
			fmt.Sprintf("responding agent %d not found in project context", trigger.ReceiverID))
		return nil
	}

	provider, err := e.registry.Get(ctx, providerNameFor(responder.Model), responder.Model)
	if err != nil {
		return fmt.Errorf("resolve provider: %w", err)
	}

	k := historyWindowSize(responder.MessageCount, e.historyWindow, e.minimumWindow)
	history, err := e.repo.RecentAgentMessages(ctx, trigger.ProjectID, responder.AgentID, k)
	if err != nil {
		return fmt.Errorf("recent-agent-messages: %w", err)
	}

	prompt := buildPrompt(snap.Project, responder, history, trigger, nameByID)

	var reply *parsedReply
	var lastRaw string
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		raw, callErr := e.callWithDeadline(ctx, provider, prompt, apiKey)
		if callErr != nil {
			if errors.Is(callErr, context.DeadlineExceeded) {
				_ = e.repo.CreateLog(ctx, trigger.ProjectID, models.LogLevelWarn, "LLM_CALL_TIMEOUT",
					fmt.Sprintf("message %s: llm call exceeded %s on attempt %d", trigger.ID, e.llmRequestTimeout, attempt+1))
				continue
			}
			e.logAndPause(ctx, trigger.ProjectID, "LLM_TRANSPORT_ERROR", callErr.Error())
			return nil
		}
		lastRaw = raw

		parsed, parseErr := parseReply(raw)
		if parseErr != nil {
			prompt = append(prompt, ai.Message{Role: "system", Content: breachNotice})
			continue
		}

		recipient, recErr := validateRecipient(parsed, responder)
		if recErr != nil {
			prompt = append(prompt, ai.Message{Role: "system", Content: invalidAgentNotice(*parsed.RecipientID, responder.CanAddress)})
			continue
		}

		body, bodyErr := validateBody(parsed.Body, e.maxMessageLength)
		if bodyErr != nil {
			prompt = append(prompt, ai.Message{Role: "system", Content: breachNotice})
			continue
		}

		reply = &parsedReply{RecipientID: recipient, Body: body}
		break
	}

	if reply == nil {
		_ = e.repo.CreateLog(ctx, trigger.ProjectID, models.LogLevelError, "VALIDATION_FAILURE",
			fmt.Sprintf("message %s failed all validation attempts, last output: %s", trigger.ID, lastRaw))
		return e.repo.UpdateMessageStatus(ctx, trigger.ID, models.MessageStatusFailed)
	}

	convID, ok := snap.Conversations[pairKey(responder.AgentID, reply.RecipientID)]
	if !ok {
		e.logAndPause(ctx, trigger.ProjectID, "MISSING_CONVERSATION",
			fmt.Sprintf("no conversation between %d and %d", responder.AgentID, reply.RecipientID))
		_ = e.repo.UpdateMessageStatus(ctx, trigger.ID, models.MessageStatusFailed)
		return nil
	}

	if err := e.repo.CreateAgentMessage(ctx, &models.Message{
		ConversationID: convID,
		ProjectID:      trigger.ProjectID,
		SenderID:       responder.AgentID,
		ReceiverID:     reply.RecipientID,
		Content:        reply.Body,
		Type:           models.MessageTypeAssistant,
		Status:         models.MessageStatusPending,
	}); err != nil {
		return fmt.Errorf("create-agent-message: %w", err)
	}

	if err := e.repo.UpdateMessageStatus(ctx, trigger.ID, models.MessageStatusSent); err != nil {
		return fmt.Errorf("update-message-status: %w", err)
	}
	if _, err := e.repo.DecrementBudget(ctx, trigger.ProjectID); err != nil {
		return fmt.Errorf("decrement-budget: %w", err)
	}
	newCount, err := e.repo.IncrementAgentCount(ctx, trigger.ProjectID, responder.AgentID)
	if err != nil {
		return fmt.Errorf("increment-agent-count: %w", err)
	}

	if shouldSummarize(newCount, e.summaryThreshold) {
		if err := e.summarizeAgentMemory(ctx, trigger.ProjectID, responder.AgentID, nameByID, provider, apiKey); err != nil {
			log.Printf("turnengine: summarize agent %d in project %s: %v", responder.AgentID, trigger.ProjectID, err)
			_ = e.repo.CreateLog(ctx, trigger.ProjectID, models.LogLevelWarn, "SUMMARY_FAILURE", err.Error())
		}
	}

	return nil
}

// callWithDeadline bounds one provider.Chat call to llmRequestTimeout, so a
// stuck upstream can't hold a run open forever. A call that exceeds the
// deadline surfaces as context.DeadlineExceeded, which handleOne's retry
// loop treats as a normal retry rather than a fatal transport error (spec.md
// §5: "LLM calls that exceed their deadline are cancelled and count as a
// retry").
func (e *Engine) callWithDeadline(ctx context.Context, provider ai.Provider, prompt []ai.Message, apiKey string) (string, error) {
	callCtx := ctx
	if e.llmRequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.llmRequestTimeout)
		defer cancel()
	}
	raw, err := provider.Chat(callCtx, prompt, ReplySchema, &ai.ChatOptions{APIKey: apiKey})
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		return "", context.DeadlineExceeded
	}
	return raw, err
}

func (e *Engine) logAndPause(ctx context.Context, projectID, code, message string) {
	_ = e.repo.CreateLog(ctx, projectID, models.LogLevelError, code, message)
	_ = e.repo.Pause(ctx, projectID, code, message)
}

// providerNameFor picks the registry key for a model identifier. Models
// registered under the ollama registry entry are addressed by bare name
// (e.g. "llama3:latest"); anything else is routed to the openrouter entry,
// matching how config.AIProvider picks a default when an agent has none.
func providerNameFor(model string) string {
	if model == "" {
		return "ollama"
	}
	for i := 0; i < len(model); i++ {
		if model[i] == '/' {
			return "openrouter"
		}
	}
	return "ollama"
}
