// Package runner defines the execution backend that turns a rendered
// prompt into output. Kronion consumes this interface; concrete
// backends (CLI agents, HTTP providers) live outside the core.
package runner

import "context"

// Options carries per-invocation execution settings.
type Options struct {
	WorkingDir string `json:"working_dir,omitempty"`
	Model      string `json:"model,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// Result is what a backend produced for a single prompt.
type Result struct {
	Content          string `json:"content"`
	SessionID        string `json:"session_id,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// Backend executes a prompt. Implementations must honor context
// cancellation and return promptly once ctx is done.
type Backend interface {
	Execute(ctx context.Context, prompt string, opts Options) (*Result, error)
}
