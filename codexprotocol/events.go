package codexprotocol

import (
	"encoding/json"
	"strings"
)

// EventType discriminates between event kinds.
type EventType int

const (
	EventTypeUnknown EventType = iota
	EventTypeThreadStarted
	EventTypeTaskStarted
	EventTypeTaskComplete
	EventTypeTurnAborted
	EventTypeAgentMessage
	EventTypeAgentMessageDelta
	EventTypeAgentReasoning
	EventTypeAgentReasoningDelta
	EventTypePlanUpdate
	EventTypeMcpToolCallBegin
	EventTypeMcpToolCallEnd
	EventTypeExecCommandBegin
	EventTypeExecCommandOutputDelta
	EventTypeExecCommandEnd
	EventTypeApplyPatchApprovalRequest
	EventTypePatchApplyBegin
	EventTypePatchApplyEnd
	EventTypeWebSearchBegin
	EventTypeWebSearchEnd
	EventTypeTokenCount
	EventTypeError
	EventTypeWarning
	EventTypeRateLimitsUpdated
)

var eventTypeNames = [...]string{
	EventTypeUnknown:                   "unknown",
	EventTypeThreadStarted:             "thread_started",
	EventTypeTaskStarted:               "task_started",
	EventTypeTaskComplete:              "task_complete",
	EventTypeTurnAborted:               "turn_aborted",
	EventTypeAgentMessage:              "agent_message",
	EventTypeAgentMessageDelta:         "agent_message_delta",
	EventTypeAgentReasoning:            "agent_reasoning",
	EventTypeAgentReasoningDelta:       "agent_reasoning_delta",
	EventTypePlanUpdate:                "plan_update",
	EventTypeMcpToolCallBegin:          "mcp_tool_call_begin",
	EventTypeMcpToolCallEnd:            "mcp_tool_call_end",
	EventTypeExecCommandBegin:          "exec_command_begin",
	EventTypeExecCommandOutputDelta:    "exec_command_output_delta",
	EventTypeExecCommandEnd:            "exec_command_end",
	EventTypeApplyPatchApprovalRequest: "apply_patch_approval_request",
	EventTypePatchApplyBegin:           "patch_apply_begin",
	EventTypePatchApplyEnd:             "patch_apply_end",
	EventTypeWebSearchBegin:            "web_search_begin",
	EventTypeWebSearchEnd:              "web_search_end",
	EventTypeTokenCount:                "token_count",
	EventTypeError:                     "error",
	EventTypeWarning:                   "warning",
	EventTypeRateLimitsUpdated:         "rate_limits_updated",
}

func (t EventType) String() string {
	if int(t) >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "unknown"
}

// Event is a normalized app-server notification.
type Event interface {
	Type() EventType
	// Thread returns the owning thread id, or "" when the payload had none.
	Thread() string
}

// ThreadStarted reports a new or configured thread.
type ThreadStarted struct {
	ThreadID      string
	Model         string
	ModelProvider string
	RolloutPath   string
	SessionID     string
}

func (e ThreadStarted) Type() EventType { return EventTypeThreadStarted }
func (e ThreadStarted) Thread() string  { return e.ThreadID }

// TaskStarted reports the start of a turn.
type TaskStarted struct {
	ThreadID           string
	TurnID             string
	ModelContextWindow int64
}

func (e TaskStarted) Type() EventType { return EventTypeTaskStarted }
func (e TaskStarted) Thread() string  { return e.ThreadID }

// TaskComplete reports the end of a turn.
type TaskComplete struct {
	ThreadID         string
	TurnID           string
	LastAgentMessage string
	Status           string
}

func (e TaskComplete) Type() EventType { return EventTypeTaskComplete }
func (e TaskComplete) Thread() string  { return e.ThreadID }

// TurnAborted reports an interrupted turn.
type TurnAborted struct {
	ThreadID string
	TurnID   string
	Reason   string
}

func (e TurnAborted) Type() EventType { return EventTypeTurnAborted }
func (e TurnAborted) Thread() string  { return e.ThreadID }

// AgentMessage is a complete assistant message.
type AgentMessage struct {
	ThreadID string
	TurnID   string
	Message  string
}

func (e AgentMessage) Type() EventType { return EventTypeAgentMessage }
func (e AgentMessage) Thread() string  { return e.ThreadID }

// AgentMessageDelta is a streamed fragment of an assistant message.
type AgentMessageDelta struct {
	ThreadID string
	TurnID   string
	Delta    string
}

func (e AgentMessageDelta) Type() EventType { return EventTypeAgentMessageDelta }
func (e AgentMessageDelta) Thread() string  { return e.ThreadID }

// AgentReasoning is a complete reasoning block.
type AgentReasoning struct {
	ThreadID string
	TurnID   string
	Content  string
}

func (e AgentReasoning) Type() EventType { return EventTypeAgentReasoning }
func (e AgentReasoning) Thread() string  { return e.ThreadID }

// AgentReasoningDelta is a streamed fragment of reasoning.
type AgentReasoningDelta struct {
	ThreadID string
	TurnID   string
	Delta    string
}

func (e AgentReasoningDelta) Type() EventType { return EventTypeAgentReasoningDelta }
func (e AgentReasoningDelta) Thread() string  { return e.ThreadID }

// PlanStepPhase is a coarse classification of a free-form step status.
type PlanStepPhase int

const (
	PlanStepPending PlanStepPhase = iota
	PlanStepActive
	PlanStepDone
)

// PlanStep is one entry of an agent plan.
type PlanStep struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

// Phase classifies Status by substring.
func (s PlanStep) Phase() PlanStepPhase {
	status := strings.ToLower(s.Status)
	switch {
	case strings.Contains(status, "done"), strings.Contains(status, "complete"), strings.Contains(status, "success"):
		return PlanStepDone
	case strings.Contains(status, "progress"), strings.Contains(status, "active"), strings.Contains(status, "working"):
		return PlanStepActive
	default:
		return PlanStepPending
	}
}

// PlanUpdate replaces the agent's plan.
type PlanUpdate struct {
	ThreadID    string
	TurnID      string
	Explanation string
	Plan        []PlanStep
}

func (e PlanUpdate) Type() EventType { return EventTypePlanUpdate }
func (e PlanUpdate) Thread() string  { return e.ThreadID }

// McpToolCallBegin reports an MCP tool invocation.
type McpToolCallBegin struct {
	ThreadID  string
	CallID    string
	Server    string
	Tool      string
	Arguments json.RawMessage
}

func (e McpToolCallBegin) Type() EventType { return EventTypeMcpToolCallBegin }
func (e McpToolCallBegin) Thread() string  { return e.ThreadID }

// McpToolCallEnd reports an MCP tool result. Error is empty on success.
type McpToolCallEnd struct {
	ThreadID string
	CallID   string
	Result   json.RawMessage
	Error    string
}

func (e McpToolCallEnd) Type() EventType { return EventTypeMcpToolCallEnd }
func (e McpToolCallEnd) Thread() string  { return e.ThreadID }

// ExecCommandBegin reports a shell command starting.
type ExecCommandBegin struct {
	ThreadID string
	TurnID   string
	CallID   string
	Command  []string
	Cwd      string
}

func (e ExecCommandBegin) Type() EventType { return EventTypeExecCommandBegin }
func (e ExecCommandBegin) Thread() string  { return e.ThreadID }

// ExecCommandOutputDelta is a decoded chunk of command output.
type ExecCommandOutputDelta struct {
	ThreadID string
	CallID   string
	Stream   string
	Chunk    string
}

func (e ExecCommandOutputDelta) Type() EventType { return EventTypeExecCommandOutputDelta }
func (e ExecCommandOutputDelta) Thread() string  { return e.ThreadID }

// ExecCommandEnd reports a finished command. DurationMs is -1 when the
// duration could not be parsed.
type ExecCommandEnd struct {
	ThreadID   string
	TurnID     string
	CallID     string
	ExitCode   int
	DurationMs int64
}

// HasDuration reports whether DurationMs was parsed.
func (e ExecCommandEnd) HasDuration() bool { return e.DurationMs >= 0 }

func (e ExecCommandEnd) Type() EventType { return EventTypeExecCommandEnd }
func (e ExecCommandEnd) Thread() string  { return e.ThreadID }

// ApplyPatchApprovalRequest announces a patch awaiting approval.
type ApplyPatchApprovalRequest struct {
	ThreadID    string
	CallID      string
	FileChanges json.RawMessage
	Reason      string
}

// Files returns the paths named in FileChanges.
func (e ApplyPatchApprovalRequest) Files() []string {
	return sortedObjectKeys(e.FileChanges)
}

func (e ApplyPatchApprovalRequest) Type() EventType { return EventTypeApplyPatchApprovalRequest }
func (e ApplyPatchApprovalRequest) Thread() string  { return e.ThreadID }

// PatchApplyBegin reports a patch being applied.
type PatchApplyBegin struct {
	ThreadID     string
	CallID       string
	AutoApproved bool
}

func (e PatchApplyBegin) Type() EventType { return EventTypePatchApplyBegin }
func (e PatchApplyBegin) Thread() string  { return e.ThreadID }

// PatchApplyEnd reports the patch outcome.
type PatchApplyEnd struct {
	ThreadID string
	CallID   string
	Success  bool
}

func (e PatchApplyEnd) Type() EventType { return EventTypePatchApplyEnd }
func (e PatchApplyEnd) Thread() string  { return e.ThreadID }

// WebSearchBegin reports a web search.
type WebSearchBegin struct {
	ThreadID string
	CallID   string
	Query    string
}

func (e WebSearchBegin) Type() EventType { return EventTypeWebSearchBegin }
func (e WebSearchBegin) Thread() string  { return e.ThreadID }

// WebSearchEnd reports a finished web search.
type WebSearchEnd struct {
	ThreadID string
	CallID   string
}

func (e WebSearchEnd) Type() EventType { return EventTypeWebSearchEnd }
func (e WebSearchEnd) Thread() string  { return e.ThreadID }

// TokenCount carries cumulative and last-turn token totals.
type TokenCount struct {
	ThreadID        string
	TurnID          string
	TotalTokenUsage int64
	LastTokenUsage  int64
}

func (e TokenCount) Type() EventType { return EventTypeTokenCount }
func (e TokenCount) Thread() string  { return e.ThreadID }

// Error is an agent-side error.
type Error struct {
	ThreadID string
	TurnID   string
	Message  string
}

func (e Error) Type() EventType { return EventTypeError }
func (e Error) Thread() string  { return e.ThreadID }

// Warning is an agent-side warning.
type Warning struct {
	ThreadID string
	Message  string
}

func (e Warning) Type() EventType { return EventTypeWarning }
func (e Warning) Thread() string  { return e.ThreadID }

// RateLimitsUpdated carries the raw limits payload and its parsed snapshot.
// Snapshot is nil when neither window could be read.
type RateLimitsUpdated struct {
	Limits   json.RawMessage
	Snapshot *RateLimitSnapshot
}

func (e RateLimitsUpdated) Type() EventType { return EventTypeRateLimitsUpdated }
func (e RateLimitsUpdated) Thread() string  { return "" }

// Unknown preserves a notification the normalizer does not model.
type Unknown struct {
	ThreadID string
	Method   string
	Params   json.RawMessage
}

func (e Unknown) Type() EventType { return EventTypeUnknown }
func (e Unknown) Thread() string  { return e.ThreadID }
