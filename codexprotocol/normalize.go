package codexprotocol

import (
	"encoding/json"
	"strings"
)

// Notification methods understood by Normalize.
const (
	MethodThreadStarted     = "thread/started"
	MethodTurnStarted       = "turn/started"
	MethodTurnCompleted     = "turn/completed"
	MethodItemCreated       = "item/created"
	MethodItemCompleted     = "item/completed"
	MethodItemDelta         = "item/delta"
	MethodAgentMessageDelta = "item/agentMessage/delta"
	MethodRateLimitsUpdated = "account/rateLimits/updated"
	MethodSessionConfigured = "sessionConfigured"

	// CodexEventPrefix prefixes legacy event notifications whose payload
	// sits under "msg".
	CodexEventPrefix = "codex/event/"
)

const (
	defaultTurnAbortedReason = "unknown"
	defaultPlanStepStatus    = "pending"
	defaultOutputStream      = "stdout"
	unknownExitCode          = -1
	unknownDurationMs        = int64(-1)
)

// threadIDStrategies resolve a thread id from params and the optional
// codex/event "msg" payload, first match wins.
var threadIDStrategies = []func(params, msg object) (string, bool){
	func(p, _ object) (string, bool) { return p.str("threadId") },
	func(p, _ object) (string, bool) { return p.obj("thread").str("id") },
	func(_, m object) (string, bool) { return m.str("threadId") },
	func(_, m object) (string, bool) { return m.obj("thread").str("id") },
	func(p, _ object) (string, bool) { return p.str("conversationId") },
}

func resolveThreadID(params, msg object) string {
	for _, strategy := range threadIDStrategies {
		if id, ok := strategy(params, msg); ok {
			return id
		}
	}
	return ""
}

// Normalize converts one notification into an Event. It never fails:
// anything it cannot model becomes Unknown.
func Normalize(method string, params json.RawMessage) Event {
	p := decodeObject(params)
	msg := p.obj("msg")
	threadID := resolveThreadID(p, msg)

	unknown := func() Event {
		raw := params
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		return Unknown{ThreadID: threadID, Method: method, Params: raw}
	}

	switch method {
	case MethodThreadStarted:
		thread := p.obj("thread")
		if thread == nil {
			thread = p
		}
		return threadStarted(thread, thread.strOr(threadID, "id"))

	case MethodTurnStarted:
		turn := p.obj("turn")
		turnID, ok := turn.str("id")
		if !ok {
			turnID = p.strOr("", "turnId")
		}
		window, _ := turn.integer("modelContextWindow")
		return TaskStarted{ThreadID: threadID, TurnID: turnID, ModelContextWindow: window}

	case MethodTurnCompleted:
		turn := p.obj("turn")
		if turn == nil {
			turn = p
		}
		return TaskComplete{
			ThreadID:         threadID,
			TurnID:           firstStr(turn, p, "id", "turnId"),
			Status:           firstStr(turn, p, "status", "status"),
			LastAgentMessage: firstStr(turn, p, "lastMessage", "lastMessage"),
		}

	case MethodItemCreated, MethodItemCompleted:
		if ev := parseItemCreated(p, threadID); ev != nil {
			return ev
		}
		return unknown()

	case MethodItemDelta, MethodAgentMessageDelta:
		if ev := parseItemDelta(p, threadID); ev != nil {
			return ev
		}
		return unknown()

	case MethodRateLimitsUpdated:
		raw := params
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		return RateLimitsUpdated{Limits: raw, Snapshot: ParseRateLimits(raw)}

	case MethodSessionConfigured:
		payload := msg
		if payload == nil {
			payload = p
		}
		return threadStarted(payload, threadID)
	}

	if kind, ok := strings.CutPrefix(method, CodexEventPrefix); ok {
		payload, rawPayload := msg, member(params, "msg")
		if payload == nil {
			payload, rawPayload = p, params
		}
		if ev := codexEvent(kind, payload, rawPayload, threadID); ev != nil {
			return ev
		}
	}
	return unknown()
}

func firstStr(primary, fallback object, primaryKey, fallbackKey string) string {
	if s, ok := primary.str(primaryKey); ok {
		return s
	}
	return fallback.strOr("", fallbackKey)
}

func threadStarted(o object, threadID string) ThreadStarted {
	return ThreadStarted{
		ThreadID:      threadID,
		Model:         o.strOr("", "model"),
		ModelProvider: o.strOr("", "modelProvider", "model_provider"),
		RolloutPath:   o.strOr("", "rolloutPath", "rollout_path"),
		SessionID:     o.strOr("", "sessionId", "session_id"),
	}
}

func codexEvent(kind string, m object, raw json.RawMessage, threadID string) Event {
	turnID := m.strOr("", "turnId", "turn_id")
	callID := m.strOr("", "callId", "call_id")

	switch kind {
	case "session_configured":
		return threadStarted(m, threadID)
	case "task_started":
		window, _ := m.integer("modelContextWindow", "model_context_window")
		return TaskStarted{ThreadID: threadID, TurnID: turnID, ModelContextWindow: window}
	case "task_complete":
		return TaskComplete{
			ThreadID:         threadID,
			TurnID:           turnID,
			LastAgentMessage: m.strOr("", "lastAgentMessage", "last_agent_message"),
			Status:           m.strOr("", "status"),
		}
	case "turn_aborted":
		return TurnAborted{ThreadID: threadID, TurnID: turnID, Reason: m.strOr(defaultTurnAbortedReason, "reason")}
	case "agent_message":
		return AgentMessage{ThreadID: threadID, TurnID: turnID, Message: m.strOr("", "message")}
	case "agent_message_delta":
		return AgentMessageDelta{ThreadID: threadID, TurnID: turnID, Delta: m.strOr("", "delta")}
	case "agent_reasoning":
		return AgentReasoning{ThreadID: threadID, TurnID: turnID, Content: m.strOr("", "content", "text")}
	case "agent_reasoning_delta":
		return AgentReasoningDelta{ThreadID: threadID, TurnID: turnID, Delta: m.strOr("", "delta")}
	case "plan_update":
		return PlanUpdate{
			ThreadID:    threadID,
			TurnID:      turnID,
			Explanation: m.strOr("", "explanation"),
			Plan:        planSteps(m["plan"], false),
		}
	case "mcp_tool_call_begin":
		inv := m.obj("invocation")
		if inv == nil {
			inv = m
		}
		args := inv.raw("arguments")
		if args == nil {
			args = json.RawMessage("{}")
		}
		return McpToolCallBegin{
			ThreadID:  threadID,
			CallID:    callID,
			Server:    inv.strOr("", "server"),
			Tool:      inv.strOr("", "tool"),
			Arguments: args,
		}
	case "mcp_tool_call_end":
		return McpToolCallEnd{
			ThreadID: threadID,
			CallID:   callID,
			Result:   m.raw("result"),
			Error:    m.strOr("", "error"),
		}
	case "exec_command_begin":
		return ExecCommandBegin{
			ThreadID: threadID,
			TurnID:   turnID,
			CallID:   callID,
			Command:  m.stringList("command"),
			Cwd:      m.strOr("", "cwd"),
		}
	case "exec_command_output_delta":
		return ExecCommandOutputDelta{
			ThreadID: threadID,
			CallID:   callID,
			Stream:   m.strOr(defaultOutputStream, "stream"),
			Chunk:    DecodeChunk(m.strOr("", "chunk")),
		}
	case "exec_command_end":
		exitCode := unknownExitCode
		if n, ok := m.integer("exitCode", "exit_code"); ok {
			exitCode = int(n)
		}
		duration := unknownDurationMs
		if ms, ok := ParseDurationMillis(member(raw, "duration")); ok {
			duration = ms
		}
		return ExecCommandEnd{ThreadID: threadID, TurnID: turnID, CallID: callID, ExitCode: exitCode, DurationMs: duration}
	case "apply_patch_approval_request":
		changes := m.raw("fileChanges", "changes")
		if changes == nil {
			changes = json.RawMessage("{}")
		}
		return ApplyPatchApprovalRequest{ThreadID: threadID, CallID: callID, FileChanges: changes, Reason: m.strOr("", "reason")}
	case "patch_apply_begin":
		auto, _ := m.boolean("autoApproved", "auto_approved")
		return PatchApplyBegin{ThreadID: threadID, CallID: callID, AutoApproved: auto}
	case "patch_apply_end":
		ok, _ := m.boolean("success")
		return PatchApplyEnd{ThreadID: threadID, CallID: callID, Success: ok}
	case "web_search_begin":
		return WebSearchBegin{ThreadID: threadID, CallID: callID, Query: m.strOr("", "query")}
	case "web_search_end":
		return WebSearchEnd{ThreadID: threadID, CallID: callID}
	case "token_count":
		info := m.obj("info")
		return TokenCount{
			ThreadID:        threadID,
			TurnID:          turnID,
			TotalTokenUsage: tokenTotal(info, "totalTokenUsage", "total_token_usage"),
			LastTokenUsage:  tokenTotal(info, "lastTokenUsage", "last_token_usage"),
		}
	case "error":
		return Error{ThreadID: threadID, TurnID: turnID, Message: m.strOr("", "message")}
	case "warning":
		return Warning{ThreadID: threadID, Message: m.strOr("", "message")}
	}
	return nil
}

// tokenTotal reads a usage value that is either a plain count or an
// object carrying totalTokens.
func tokenTotal(info object, keys ...string) int64 {
	if n, ok := info.integer(keys...); ok {
		return n
	}
	for _, key := range keys {
		if usage := info.obj(key); usage != nil {
			if n, ok := usage.integer("totalTokens", "total_tokens"); ok {
				return n
			}
		}
	}
	return 0
}

// planSteps reads a plan array. When titleFallback is set, steps without
// "step" use "title" and unnamed steps are skipped.
func planSteps(v any, titleFallback bool) []PlanStep {
	arr, _ := v.([]any)
	steps := make([]PlanStep, 0, len(arr))
	for _, el := range arr {
		o, ok := asObject(el)
		if !ok {
			continue
		}
		name, ok := o.str("step")
		if !ok && titleFallback {
			name, ok = o.str("title")
		}
		if !ok {
			if titleFallback {
				continue
			}
			name = ""
		}
		steps = append(steps, PlanStep{Step: name, Status: o.strOr(defaultPlanStepStatus, "status")})
	}
	return steps
}

type itemKind int

const (
	itemMessage itemKind = iota
	itemReasoning
	itemPlan
)

func classifyItem(item object) itemKind {
	typ := strings.ToLower(item.strOr("", "type"))
	purpose := strings.ToLower(item.strOr("", "purpose"))
	switch {
	case strings.Contains(typ, "reasoning") || purpose == "reasoning":
		return itemReasoning
	case typ == "plan":
		return itemPlan
	default:
		return itemMessage
	}
}

func itemTurnID(params, item object) string {
	if id, ok := params.str("turnId"); ok {
		return id
	}
	return item.strOr("", "turnId")
}

// itemText tries item.text, the flattened item.content, then item.value.
func itemText(item object) string {
	if s, ok := item.str("text"); ok {
		return s
	}
	if s, ok := ExtractText(item["content"]); ok {
		return s
	}
	return item.strOr("", "value")
}

// itemDelta tries textDelta then delta, each as a string or content value.
func itemDelta(item object) (string, bool) {
	for _, key := range []string{"textDelta", "delta"} {
		if s, ok := item.str(key); ok {
			return s, true
		}
		if s, ok := ExtractText(item[key]); ok {
			return s, true
		}
	}
	return "", false
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func parseItemCreated(params object, threadID string) Event {
	item := params.obj("item")
	if item == nil {
		return nil
	}
	turnID := itemTurnID(params, item)
	text := itemText(item)
	delta, _ := itemDelta(item)

	switch classifyItem(item) {
	case itemReasoning:
		switch {
		case !isBlank(text):
			return AgentReasoning{ThreadID: threadID, TurnID: turnID, Content: text}
		case !isBlank(delta):
			return AgentReasoningDelta{ThreadID: threadID, TurnID: turnID, Delta: delta}
		}
		return nil
	case itemPlan:
		steps := item["steps"]
		if _, ok := steps.([]any); !ok {
			steps = item["plan"]
		}
		return PlanUpdate{
			ThreadID:    threadID,
			TurnID:      turnID,
			Explanation: item.strOr("", "explanation"),
			Plan:        planSteps(steps, true),
		}
	default:
		switch {
		case !isBlank(text):
			return AgentMessage{ThreadID: threadID, TurnID: turnID, Message: text}
		case !isBlank(delta):
			return AgentMessageDelta{ThreadID: threadID, TurnID: turnID, Delta: delta}
		}
		return nil
	}
}

func parseItemDelta(params object, threadID string) Event {
	item := params.obj("item")
	if item == nil {
		item = params
	}
	turnID := itemTurnID(params, item)
	delta, ok := itemDelta(item)
	if !ok {
		delta = params.strOr("", "delta")
	}
	if isBlank(delta) {
		return nil
	}
	if classifyItem(item) == itemReasoning {
		return AgentReasoningDelta{ThreadID: threadID, TurnID: turnID, Delta: delta}
	}
	return AgentMessageDelta{ThreadID: threadID, TurnID: turnID, Delta: delta}
}
