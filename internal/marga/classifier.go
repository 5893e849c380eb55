// Package marga routes requests to the cheapest adequate model tier. It
// combines a rule-based task classifier, a complexity scorer, static tier
// bindings, and a LinUCB contextual bandit that refines the choice from
// observed reward.
package marga

import (
	"strings"

	"github.com/haasonsaas/chitragupta/pkg/models"
)

// TaskType is the coarse category a request falls into.
type TaskType string

const (
	TaskChat       TaskType = "chat"
	TaskCodeGen    TaskType = "code-gen"
	TaskReasoning  TaskType = "reasoning"
	TaskSearch     TaskType = "search"
	TaskEmbedding  TaskType = "embedding"
	TaskVision     TaskType = "vision"
	TaskToolExec   TaskType = "tool-exec"
	TaskHeartbeat  TaskType = "heartbeat"
	TaskSmalltalk  TaskType = "smalltalk"
	TaskSummarize  TaskType = "summarize"
	TaskTranslate  TaskType = "translate"
	TaskMemory     TaskType = "memory"
	TaskFileOp     TaskType = "file-op"
	TaskAPICall    TaskType = "api-call"
	TaskCompaction TaskType = "compaction"
)

// Resolution says how a classified request should be served.
type Resolution string

const (
	ResolutionSkipLLM      Resolution = "skip-llm"
	ResolutionLLMOnly      Resolution = "llm-only"
	ResolutionLLMWithTools Resolution = "llm-with-tools"
)

// Classification is the classifier's verdict for one request.
type Classification struct {
	Type       TaskType   `json:"type"`
	Resolution Resolution `json:"resolution"`
	Confidence float64    `json:"confidence"`
}

// taskRule matches a task type by keyword. Rules are checked in order and
// the first hit wins, so more specific types come first.
type taskRule struct {
	taskType TaskType
	keywords []string
}

var taskRules = []taskRule{
	{TaskHeartbeat, []string{"heartbeat", "health check", "are you alive"}},
	{TaskCompaction, []string{"compact the conversation", "compact history", "compaction"}},
	{TaskEmbedding, []string{"embedding", "embed this", "vector for"}},
	{TaskTranslate, []string{"translate", "in spanish", "in french", "in german", "in japanese"}},
	{TaskSummarize, []string{"summarize", "summarise", "tl;dr", "give me a summary"}},
	{TaskMemory, []string{"remember that", "recall", "what did i say", "do you remember"}},
	{TaskVision, []string{"this image", "the screenshot", "this picture", "this diagram"}},
	{TaskFileOp, []string{"read the file", "write the file", "create a file", "delete the file", "list the directory"}},
	{TaskAPICall, []string{"call the api", "http request", "hit the endpoint", "curl"}},
	{TaskSearch, []string{"search for", "look up", "find references", "grep"}},
	{TaskCodeGen, []string{"write a function", "implement", "refactor", "fix the bug", "add a test", "```"}},
	{TaskReasoning, []string{"step by step", "prove", "why does", "explain why", "reason about", "trade-off"}},
	{TaskSmalltalk, []string{"hello", "hi there", "thanks", "thank you", "good morning", "how are you"}},
}

// resolutionFor maps a task type to how it should be served.
func resolutionFor(t TaskType) Resolution {
	switch t {
	case TaskHeartbeat, TaskCompaction, TaskEmbedding:
		return ResolutionSkipLLM
	case TaskToolExec, TaskFileOp, TaskAPICall, TaskSearch, TaskCodeGen:
		return ResolutionLLMWithTools
	default:
		return ResolutionLLMOnly
	}
}

// Classify inspects message history and assigns a task type. Keyword and
// structural features only; it never calls a model.
func Classify(history []models.Message) Classification {
	text := strings.ToLower(lastUserText(history))

	// Pending tool results mean the model is mid tool loop.
	if historyHasToolCalls(history) {
		return Classification{Type: TaskToolExec, Resolution: ResolutionLLMWithTools, Confidence: 0.9}
	}

	for _, rule := range taskRules {
		hits := 0
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > 0 {
			conf := 0.6 + 0.1*float64(hits)
			if conf > 0.95 {
				conf = 0.95
			}
			return Classification{Type: rule.taskType, Resolution: resolutionFor(rule.taskType), Confidence: conf}
		}
	}

	return Classification{Type: TaskChat, Resolution: ResolutionLLMOnly, Confidence: 0.5}
}

func lastUserText(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Text()
		}
	}
	return ""
}

func historyHasToolCalls(history []models.Message) bool {
	for i := len(history) - 1; i >= 0; i-- {
		msg := &history[i]
		if msg.Role == models.RoleUser {
			break
		}
		if len(msg.ToolCalls()) > 0 {
			return true
		}
	}
	return false
}
