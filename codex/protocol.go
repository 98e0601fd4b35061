package codex

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Request parameter shapes for the app-server's domain methods.

// ThreadStartParams is the body of thread/start.
type ThreadStartParams struct {
	Model                 string `json:"model"`
	Cwd                   string `json:"cwd"`
	ApprovalPolicy        string `json:"approvalPolicy"`
	Sandbox               string `json:"sandbox"`
	Profile               string `json:"profile,omitempty"`
	BaseInstructions      string `json:"baseInstructions,omitempty"`
	DeveloperInstructions string `json:"developerInstructions,omitempty"`
}

// ThreadListParams is the body of thread/list.
type ThreadListParams struct {
	Cursor         string   `json:"cursor,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	ModelProviders []string `json:"modelProviders,omitempty"`
}

// UserInput is one element of a turn's input.
type UserInput struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Path string `json:"path,omitempty"`
}

// TextInput returns a text input element.
func TextInput(text string) UserInput {
	return UserInput{Type: "text", Text: text}
}

// LocalImageInput returns an image attachment read from path by the server.
func LocalImageInput(path string) UserInput {
	return UserInput{Type: "localImage", Path: path}
}

// TurnStartParams is the body of turn/start.
type TurnStartParams struct {
	ThreadID       string      `json:"threadId"`
	Input          []UserInput `json:"input"`
	Effort         string      `json:"effort"`
	Summary        string      `json:"summary"`
	ApprovalPolicy string      `json:"approvalPolicy,omitempty"`
	Sandbox        string      `json:"sandbox,omitempty"`
	Cwd            string      `json:"cwd,omitempty"`
	Model          string      `json:"model,omitempty"`
}

// Default turn settings applied when TurnStartParams leaves them empty.
const (
	DefaultEffort         = "medium"
	DefaultSummary        = "auto"
	DefaultApprovalPolicy = "onRequest"
	DefaultSandbox        = "workspaceWrite"
)

type threadIDParams struct {
	ThreadID string `json:"threadId"`
}

type turnInterruptParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
}

// AccountLoginParams is the body of account/login/start. Type is "apiKey"
// or "chatgpt".
type AccountLoginParams struct {
	Type   string `json:"type"`
	APIKey string `json:"apiKey,omitempty"`
}

type accountLoginCancelParams struct {
	LoginID string `json:"loginId"`
}

type accountReadParams struct {
	RefreshToken bool `json:"refreshToken"`
}

type execOneOffParams struct {
	Command []string `json:"command"`
	Cwd     string   `json:"cwd"`
}

type fuzzyFileSearchParams struct {
	Query      string `json:"query"`
	Cwd        string `json:"cwd"`
	MaxResults int    `json:"maxResults"`
}

type gitDiffParams struct {
	Cwd    string `json:"cwd"`
	Remote string `json:"remote"`
	Branch string `json:"branch"`
}

// Defaults for the search and diff helpers.
const (
	DefaultFuzzyMaxResults = 20
	DefaultGitRemote       = "origin"
	DefaultGitBranch       = "main"
)

// ThreadRef identifies a thread returned by the server.
type ThreadRef struct {
	ID            string
	Preview       string
	ModelProvider string
	// CreatedAt is a unix timestamp, zero when absent.
	CreatedAt int64
}

// ThreadList is one page of thread/list.
type ThreadList struct {
	Threads    []ThreadRef
	NextCursor string
}

// TurnRef describes a turn returned by turn/start.
type TurnRef struct {
	ID     string
	Status string
	Items  []json.RawMessage
	Error  string
}

type threadWire struct {
	ID            string          `json:"id"`
	Preview       string          `json:"preview"`
	ModelProvider string          `json:"modelProvider"`
	CreatedAt     json.RawMessage `json:"createdAt"`
}

func (w threadWire) ref() ThreadRef {
	return ThreadRef{
		ID:            w.ID,
		Preview:       w.Preview,
		ModelProvider: w.ModelProvider,
		CreatedAt:     lenientInt(w.CreatedAt),
	}
}

type turnWire struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Items  []json.RawMessage `json:"items"`
	Error  json.RawMessage   `json:"error"`
}

// lenientInt accepts a number or numeric string and yields 0 otherwise.
func lenientInt(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

// errorText reads a turn error given either as a string or as an object
// with a message.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
