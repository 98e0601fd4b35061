package config

import "strings"

// Allowed values for string settings.
var (
	SummaryOptions = []string{"auto", "concise", "detailed", "none"}
	SandboxModes   = []string{"read-only", "workspace-write", "danger-full-access"}
	LogLevels      = []string{"error", "warn", "info", "debug"}
)

// SandboxPreset describes one sandbox mode.
type SandboxPreset struct {
	Value       string
	DisplayName string
	Description string
	Default     bool
}

// SandboxPresets lists the sandbox modes in increasing order of access.
var SandboxPresets = []SandboxPreset{
	{
		Value:       "read-only",
		DisplayName: "Read-only",
		Description: "Agent can only read files, no modifications allowed",
	},
	{
		Value:       "workspace-write",
		DisplayName: "Workspace write",
		Description: "Agent can read and write files within the workspace",
		Default:     true,
	},
	{
		Value:       "danger-full-access",
		DisplayName: "Full access",
		Description: "Agent has unrestricted access to the filesystem",
	},
}

// DefaultSandboxPreset returns the preset marked default.
func DefaultSandboxPreset() SandboxPreset {
	for _, p := range SandboxPresets {
		if p.Default {
			return p
		}
	}
	return SandboxPresets[0]
}

// FindSandboxPreset looks a preset up by value.
func FindSandboxPreset(value string) (SandboxPreset, bool) {
	for _, p := range SandboxPresets {
		if p.Value == value {
			return p, true
		}
	}
	return SandboxPreset{}, false
}

// ModelPreset pairs a model with a reasoning effort.
type ModelPreset struct {
	Model       string
	Effort      string
	DisplayName string
	Description string
	Default     bool
}

// ModelPresets lists the known model/effort combinations, grouped by model.
var ModelPresets = []ModelPreset{
	{Model: "gpt-5-codex", Effort: "low", DisplayName: "gpt-5-codex • Low", Description: "Fastest responses with limited reasoning", Default: true},
	{Model: "gpt-5-codex", Effort: "medium", DisplayName: "gpt-5-codex • Medium", Description: "Dynamically adjusts reasoning based on the task"},
	{Model: "gpt-5-codex", Effort: "high", DisplayName: "gpt-5-codex • High", Description: "Maximizes reasoning depth for complex or ambiguous problems"},
	{Model: "gpt-5-codex-mini", Effort: "medium", DisplayName: "gpt-5-codex-mini • Medium", Description: "Cheaper, faster, but less capable"},
	{Model: "gpt-5-codex-mini", Effort: "high", DisplayName: "gpt-5-codex-mini • High", Description: "Cheaper, faster, but less capable"},
	{Model: "gpt-5", Effort: "minimal", DisplayName: "gpt-5 • Minimal", Description: "Fastest responses with little reasoning"},
	{Model: "gpt-5", Effort: "low", DisplayName: "gpt-5 • Low", Description: "Balances speed with some reasoning"},
	{Model: "gpt-5", Effort: "medium", DisplayName: "gpt-5 • Medium", Description: "Solid balance of reasoning depth and latency"},
	{Model: "gpt-5", Effort: "high", DisplayName: "gpt-5 • High", Description: "Maximizes reasoning depth for complex problems"},
}

// DefaultModelPreset returns the preset marked default.
func DefaultModelPreset() ModelPreset {
	for _, p := range ModelPresets {
		if p.Default {
			return p
		}
	}
	return ModelPresets[0]
}

// FindModelPreset looks a preset up by model and effort.
func FindModelPreset(model, effort string) (ModelPreset, bool) {
	for _, p := range ModelPresets {
		if p.Model == model && p.Effort == effort {
			return p, true
		}
	}
	return ModelPreset{}, false
}

// ToServerSandboxMode converts a kebab-case sandbox mode to the camelCase
// form the app-server expects. Values already in server form and unknown
// values pass through unchanged.
func ToServerSandboxMode(value string) string {
	switch value {
	case "readOnly", "workspaceWrite", "dangerFullAccess":
		return value
	}
	switch strings.ToLower(value) {
	case "read-only", "readonly":
		return "readOnly"
	case "workspace-write", "workspacewrite":
		return "workspaceWrite"
	case "danger-full-access", "dangerfullaccess":
		return "dangerFullAccess"
	}
	return value
}
