// Package werr defines wreckit's error taxonomy. Every failure surfaced to
// the CLI carries a Kind that maps onto a process exit code, and optionally a
// Subkind refining the failure class (e.g. a rate-limited agent run or a
// rejected git push). Errors wrap their cause so callers can use errors.Is
// and errors.As across package boundaries.
package werr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the top-level failure categories.
type Kind int

const (
	// KindUnknown is the zero value; errors without a wreckit kind.
	KindUnknown Kind = iota

	// KindUsage is an invalid command or missing argument. Exit code 2.
	KindUsage

	// KindNotFound is a missing item or resource. Exit code 3.
	KindNotFound

	// KindState is a transition rejected by the state machine. Exit code 4.
	KindState

	// KindAgent is a backend failure. Exit code 5.
	KindAgent

	// KindGit is a failed git or gh command. Exit code 6.
	KindGit

	// KindArtifact is a required artifact missing or malformed.
	KindArtifact

	// KindConfig is a malformed config file or migration failure.
	KindConfig

	// KindInterrupted is user cancellation; not a failure in logs. Exit code 7.
	KindInterrupted
)

// Agent subkinds, mirroring the backend error classification.
const (
	SubAuth            = "auth"
	SubRateLimit       = "rate_limit"
	SubContextWindow   = "context_window"
	SubNetwork         = "network"
	SubTimeout         = "timeout"
	SubPolicyViolation = "policy_violation"
	SubOther           = "other"
)

// Git subkinds.
const (
	SubPushRejected         = "push_rejected"
	SubWorkingTreeDirty     = "working_tree_dirty"
	SubPRToolMissing        = "pr_tool_missing"
	SubDirectMergeNotAllowed = "direct_merge_not_allowed"
)

// Artifact subkinds.
const (
	SubMissingArtifact = "missing_artifact"
	SubMalformedPRD    = "malformed_prd"
	SubTemplate        = "template"
	SubNoToolsAllowed  = "no_tools_allowed"
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state_violation"
	case KindAgent:
		return "agent"
	case KindGit:
		return "git"
	case KindArtifact:
		return "artifact"
	case KindConfig:
		return "config"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// ExitCode returns the CLI exit code for the kind. Artifact and config
// failures surface as precondition errors (4) because they block a phase
// from starting or completing.
func (k Kind) ExitCode() int {
	switch k {
	case KindUnknown:
		return 1
	case KindUsage:
		return 2
	case KindNotFound:
		return 3
	case KindState, KindArtifact, KindConfig:
		return 4
	case KindAgent:
		return 5
	case KindGit:
		return 6
	case KindInterrupted:
		return 7
	default:
		return 1
	}
}

// Error is a classified wreckit error.
type Error struct {
	Kind    Kind
	Subkind string
	Msg     string
	Cause   error
}

// New creates an Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps cause. A nil cause returns nil.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithSub returns a copy of e carrying the given subkind.
func (e *Error) WithSub(subkind string) *Error {
	clone := *e
	clone.Subkind = subkind
	return &clone
}

// Error implements the error interface.
func (e *Error) Error() string {
	label := e.Kind.String()
	if e.Subkind != "" {
		label += ":" + e.Subkind
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", label, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", label, e.Msg)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports kind equality so errors.Is(err, &Error{Kind: KindGit}) style
// sentinels work. Subkind matches only when the target specifies one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Subkind == "" || t.Subkind == e.Subkind
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindUnknown
}

// SubkindOf returns the Subkind of the first *Error in err's chain, or "".
func SubkindOf(err error) string {
	var we *Error
	if errors.As(err, &we) {
		return we.Subkind
	}
	return ""
}

// ExitCode returns the CLI exit code for err. A nil error is 0; an error
// without a wreckit kind is 1. Context cancellation anywhere in the chain is
// treated as an interrupt.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if kind := KindOf(err); kind != KindUnknown {
		return kind.ExitCode()
	}
	return 1
}
