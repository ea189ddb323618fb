// Package codex drives the codex CLI as an opaque subprocess: it builds the
// argument vector for fresh and resumed sessions, runs the process under a
// timeout, and scans its JSON event stream for session announcements.
package codex

import (
	"github.com/zulandar/minicodex/internal/config"
)

// Flags understood by the codex CLI.
const (
	FlagBypass       = "--dangerously-bypass-approvals-and-sandbox"
	FlagSandbox      = "--sandbox"
	FlagApproval     = "--ask-for-approval"
	FlagFullAuto     = "--full-auto"
	FlagSearch       = "--search"
	FlagNoSearch     = "--no-search"
	FlagJSON         = "--json"
	FlagModel        = "--model"
	FlagOutputLast   = "--output-last-message"
	SubcommandExec   = "exec"
	SubcommandResume = "resume"
)

// BuildOpts describes one turn's invocation.
type BuildOpts struct {
	// SessionID selects resume mode when non-empty.
	SessionID    string
	OutputPath   string
	Instructions string
}

// Builder turns settings and per-turn options into codex argument vectors.
type Builder struct {
	settings config.CodexSettings
}

// NewBuilder creates a Builder for the given settings.
func NewBuilder(settings config.CodexSettings) *Builder {
	return &Builder{settings: settings}
}

// Args returns the argument vector (without the executable) for a turn.
func (b *Builder) Args(opts BuildOpts) []string {
	if opts.SessionID != "" {
		return b.resumeArgs(opts)
	}
	return b.freshArgs(opts)
}

// Invocation returns a complete Invocation for a turn.
func (b *Builder) Invocation(opts BuildOpts) Invocation {
	return Invocation{
		Command:    b.settings.Command,
		Args:       b.Args(opts),
		Dir:        b.settings.WorkspaceRoot,
		Timeout:    b.settings.Timeout,
		OutputPath: opts.OutputPath,
		Resume:     opts.SessionID != "",
	}
}

func (b *Builder) freshArgs(opts BuildOpts) []string {
	args := append(b.safetyArgs(), b.baseArgs()...)
	if b.settings.EnableSearch {
		args = append(args, FlagSearch)
	}
	if b.fullAutoAllowed() {
		args = append(args, FlagFullAuto)
	}
	return b.appendTail(args, opts)
}

func (b *Builder) resumeArgs(opts BuildOpts) []string {
	args := b.safetyArgs()
	if b.fullAutoAllowed() {
		args = append(args, FlagFullAuto)
	}
	if b.settings.EnableSearch {
		args = append(args, FlagSearch)
	}
	args = append(args, SubcommandExec, SubcommandResume, opts.SessionID)
	return b.appendTail(args, opts)
}

// appendTail adds the flags shared by both modes, ending with the prompt.
func (b *Builder) appendTail(args []string, opts BuildOpts) []string {
	args = append(args, FlagJSON)
	if b.settings.Model != "" {
		args = append(args, FlagModel, b.settings.Model)
	}
	args = append(args, FlagOutputLast, opts.OutputPath, opts.Instructions)
	return args
}

// safetyArgs emits the bypass flag alone, or sandbox and approval flags
// independently.
func (b *Builder) safetyArgs() []string {
	if b.settings.DangerousBypass {
		return []string{FlagBypass}
	}
	var args []string
	if b.settings.Sandbox != "" {
		args = append(args, FlagSandbox, b.settings.Sandbox)
	}
	if b.settings.AskForApproval != "" {
		args = append(args, FlagApproval, b.settings.AskForApproval)
	}
	return args
}

// fullAutoAllowed reports whether --full-auto may be added: it implies a
// safety posture that any explicit safety flag would contradict.
func (b *Builder) fullAutoAllowed() bool {
	s := b.settings
	return s.UseFullAuto && !s.DangerousBypass && s.Sandbox == "" && s.AskForApproval == ""
}

// baseArgs copies the configured base arguments. --json is always appended
// later so a configured one is dropped; with search enabled, an explicit
// --no-search or a duplicate --search is dropped too.
func (b *Builder) baseArgs() []string {
	args := make([]string, 0, len(b.settings.BaseArgs)+8)
	for _, arg := range b.settings.BaseArgs {
		if arg == FlagJSON {
			continue
		}
		if b.settings.EnableSearch && (arg == FlagNoSearch || arg == FlagSearch) {
			continue
		}
		args = append(args, arg)
	}
	return args
}
