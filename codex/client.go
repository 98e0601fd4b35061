package codex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mzhaom/codex-appserver/codexprotocol"
	"github.com/mzhaom/codex-appserver/config"
)

// Requester sends a request and returns its raw result.
type Requester interface {
	SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Client exposes the app-server's domain methods over a Requester. It
// satisfies session.TurnInterrupter and session.ThreadArchiver.
type Client struct {
	rpc Requester
}

// NewClient wraps rpc.
func NewClient(rpc Requester) *Client {
	return &Client{rpc: rpc}
}

// StartThread creates a thread. Empty approval policy and sandbox fall back
// to DefaultApprovalPolicy and DefaultSandbox; the sandbox may be given in
// either kebab-case or server form.
func (c *Client) StartThread(ctx context.Context, p ThreadStartParams) (*ThreadRef, error) {
	if p.ApprovalPolicy == "" {
		p.ApprovalPolicy = DefaultApprovalPolicy
	}
	if p.Sandbox == "" {
		p.Sandbox = DefaultSandbox
	}
	p.Sandbox = config.ToServerSandboxMode(p.Sandbox)
	return c.threadCall(ctx, "thread/start", p)
}

// ResumeThread reopens an existing thread.
func (c *Client) ResumeThread(ctx context.Context, threadID string) (*ThreadRef, error) {
	return c.threadCall(ctx, "thread/resume", threadIDParams{ThreadID: threadID})
}

func (c *Client) threadCall(ctx context.Context, method string, params any) (*ThreadRef, error) {
	raw, err := c.rpc.SendRequest(ctx, method, params)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Thread *threadWire `json:"thread"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProtocolError{Message: "failed to parse " + method + " response", Line: string(raw), Cause: err}
	}
	if resp.Thread == nil {
		return nil, missing(method, "thread", raw)
	}
	if resp.Thread.ID == "" {
		return nil, missing(method, "thread.id", raw)
	}
	ref := resp.Thread.ref()
	return &ref, nil
}

// ListThreads returns one page of threads.
func (c *Client) ListThreads(ctx context.Context, p ThreadListParams) (*ThreadList, error) {
	raw, err := c.rpc.SendRequest(ctx, "thread/list", p)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data       []threadWire `json:"data"`
		NextCursor *string      `json:"nextCursor"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProtocolError{Message: "failed to parse thread/list response", Line: string(raw), Cause: err}
	}
	list := &ThreadList{Threads: make([]ThreadRef, 0, len(resp.Data))}
	for _, t := range resp.Data {
		list.Threads = append(list.Threads, t.ref())
	}
	if resp.NextCursor != nil {
		list.NextCursor = *resp.NextCursor
	}
	return list, nil
}

// ArchiveThread archives a thread.
func (c *Client) ArchiveThread(ctx context.Context, threadID string) error {
	_, err := c.rpc.SendRequest(ctx, "thread/archive", threadIDParams{ThreadID: threadID})
	return err
}

// StartTurn sends user input on a thread. Empty effort and summary fall
// back to DefaultEffort and DefaultSummary.
func (c *Client) StartTurn(ctx context.Context, p TurnStartParams) (*TurnRef, error) {
	if p.Effort == "" {
		p.Effort = DefaultEffort
	}
	if p.Summary == "" {
		p.Summary = DefaultSummary
	}
	if p.Sandbox != "" {
		p.Sandbox = config.ToServerSandboxMode(p.Sandbox)
	}
	if p.Input == nil {
		p.Input = []UserInput{}
	}
	raw, err := c.rpc.SendRequest(ctx, "turn/start", p)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Turn *turnWire `json:"turn"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProtocolError{Message: "failed to parse turn/start response", Line: string(raw), Cause: err}
	}
	if resp.Turn == nil {
		return nil, missing("turn/start", "turn", raw)
	}
	if resp.Turn.ID == "" {
		return nil, missing("turn/start", "turn.id", raw)
	}
	ref := &TurnRef{
		ID:     resp.Turn.ID,
		Status: resp.Turn.Status,
		Items:  resp.Turn.Items,
		Error:  errorText(resp.Turn.Error),
	}
	if ref.Status == "" {
		ref.Status = "unknown"
	}
	return ref, nil
}

// SendText starts a turn with a single text input.
func (c *Client) SendText(ctx context.Context, threadID, text string) (*TurnRef, error) {
	return c.StartTurn(ctx, TurnStartParams{ThreadID: threadID, Input: []UserInput{TextInput(text)}})
}

// InterruptTurn asks the server to stop a running turn.
func (c *Client) InterruptTurn(ctx context.Context, threadID, turnID string) error {
	_, err := c.rpc.SendRequest(ctx, "turn/interrupt", turnInterruptParams{ThreadID: threadID, TurnID: turnID})
	return err
}

// ListModels returns the raw model/list result.
func (c *Client) ListModels(ctx context.Context) (json.RawMessage, error) {
	return c.rpc.SendRequest(ctx, "model/list", struct{}{})
}

// AccountLoginStart begins a login flow.
func (c *Client) AccountLoginStart(ctx context.Context, p AccountLoginParams) (json.RawMessage, error) {
	return c.rpc.SendRequest(ctx, "account/login/start", p)
}

// AccountLoginCancel cancels a pending login.
func (c *Client) AccountLoginCancel(ctx context.Context, loginID string) (json.RawMessage, error) {
	return c.rpc.SendRequest(ctx, "account/login/cancel", accountLoginCancelParams{LoginID: loginID})
}

// AccountLogout logs out.
func (c *Client) AccountLogout(ctx context.Context) (json.RawMessage, error) {
	return c.rpc.SendRequest(ctx, "account/logout", struct{}{})
}

// AccountRead returns the account, optionally refreshing its token.
func (c *Client) AccountRead(ctx context.Context, refreshToken bool) (json.RawMessage, error) {
	return c.rpc.SendRequest(ctx, "account/read", accountReadParams{RefreshToken: refreshToken})
}

// AccountRateLimitsRead returns the raw rate limit payload.
func (c *Client) AccountRateLimitsRead(ctx context.Context) (json.RawMessage, error) {
	return c.rpc.SendRequest(ctx, "account/rateLimits/read", struct{}{})
}

// RateLimits reads and parses the account rate limits. It returns nil with
// no error when the server reports no windows.
func (c *Client) RateLimits(ctx context.Context) (*codexprotocol.RateLimitSnapshot, error) {
	raw, err := c.AccountRateLimitsRead(ctx)
	if err != nil {
		return nil, err
	}
	return codexprotocol.ParseRateLimits(raw), nil
}

// ExecOneOffCommand runs a command outside any thread.
func (c *Client) ExecOneOffCommand(ctx context.Context, command []string, cwd string) (json.RawMessage, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("execOneOffCommand: empty command")
	}
	return c.rpc.SendRequest(ctx, "execOneOffCommand", execOneOffParams{Command: command, Cwd: cwd})
}

// FuzzyFileSearch searches file names under cwd. maxResults <= 0 means
// DefaultFuzzyMaxResults.
func (c *Client) FuzzyFileSearch(ctx context.Context, query, cwd string, maxResults int) (json.RawMessage, error) {
	if maxResults <= 0 {
		maxResults = DefaultFuzzyMaxResults
	}
	return c.rpc.SendRequest(ctx, "fuzzyFileSearch", fuzzyFileSearchParams{Query: query, Cwd: cwd, MaxResults: maxResults})
}

// GitDiffToRemote diffs the working tree against remote/branch, defaulting
// to origin/main.
func (c *Client) GitDiffToRemote(ctx context.Context, cwd, remote, branch string) (json.RawMessage, error) {
	if remote == "" {
		remote = DefaultGitRemote
	}
	if branch == "" {
		branch = DefaultGitBranch
	}
	return c.rpc.SendRequest(ctx, "gitDiffToRemote", gitDiffParams{Cwd: cwd, Remote: remote, Branch: branch})
}
