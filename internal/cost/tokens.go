package cost

import (
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// charsPerToken is the conservative estimate used for fit checks. Real
// tokenizers average closer to 4 chars/token for English; 3.5 leaves head
// room so a fit check never under-counts.
const charsPerToken = 3.5

// messageOverheadTokens covers role markers and formatting per message.
const messageOverheadTokens = 4

// EstimateTokens returns a conservative token estimate for a string.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(len(text))/charsPerToken) + 1
	return n
}

// EstimateMessageTokens estimates tokens for one message including parts.
func EstimateMessageTokens(msg *models.Message) int {
	total := messageOverheadTokens
	for _, part := range msg.Content {
		switch part.Type {
		case models.PartText:
			total += EstimateTokens(part.Text)
		case models.PartToolCall:
			if part.ToolCall != nil {
				total += EstimateTokens(part.ToolCall.Name)
				total += EstimateTokens(string(part.ToolCall.Arguments))
			}
		case models.PartToolResult:
			if part.ToolResult != nil {
				total += EstimateTokens(part.ToolResult.Content)
			}
		}
	}
	return total
}

// EstimateHistoryTokens estimates tokens for an entire history.
func EstimateHistoryTokens(messages []models.Message) int {
	total := 0
	for i := range messages {
		total += EstimateMessageTokens(&messages[i])
	}
	return total
}

// FitsInContext reports whether the history fits the model's context window.
// Unknown models never fit.
func (t *Tracker) FitsInContext(messages []models.Message, modelID string) bool {
	model, ok := t.Lookup(modelID)
	if !ok || model.ContextWindow <= 0 {
		return false
	}
	return EstimateHistoryTokens(messages) <= model.ContextWindow
}

// ContextUsagePercent returns estimated tokens as a fraction of the model's
// context window, in [0, +inf). Unknown models return 1.
func (t *Tracker) ContextUsagePercent(messages []models.Message, modelID string) float64 {
	model, ok := t.Lookup(modelID)
	if !ok || model.ContextWindow <= 0 {
		return 1
	}
	return float64(EstimateHistoryTokens(messages)) / float64(model.ContextWindow)
}
