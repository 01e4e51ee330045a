// Package errs implements the causal-chain error formatting the resolver
// uses for fatal failures, classified by kind so the CLI can choose an exit
// code and callers can test for a specific failure without string matching.
// The chain-of-causes shape follows the teacher's GitError/GitErrContext
// layering; classification is delegated to a small external ErrorCode enum
// rather than reinvented here.
package errs

import (
	"errors"
	"fmt"
	"strings"

	fcerrors "github.com/input-output-hk/catalyst-forge-libs/errors"
)

// Kind enumerates the six failure categories spec §7 distinguishes.
type Kind int

const (
	KindUsage Kind = iota
	KindConfig
	KindNetwork
	KindCheckout
	KindCache
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage error"
	case KindConfig:
		return "configuration error"
	case KindNetwork:
		return "network error"
	case KindCheckout:
		return "checkout error"
	case KindCache:
		return "cache error"
	case KindInternal:
		return "internal error"
	default:
		return "unknown error"
	}
}

// Code maps a Kind to the external ErrorCode taxonomy used for
// machine-readable classification.
func (k Kind) Code() fcerrors.ErrorCode {
	switch k {
	case KindUsage:
		return fcerrors.CodeInvalidInput
	case KindConfig:
		return fcerrors.CodeInvalidConfig
	case KindNetwork:
		return fcerrors.CodeNetwork
	case KindCheckout:
		return fcerrors.CodeExecutionFailed
	case KindCache:
		return fcerrors.CodeSchemaFailed
	case KindInternal:
		return fcerrors.CodeInternal
	default:
		return fcerrors.CodeUnknown
	}
}

// ExitCode returns the process exit status conventionally associated with
// a Kind, following the teacher CLI's 0/1/128 split (1 for ordinary
// failures, 128 for conditions a shell would treat as "fatal git error"),
// plus 2 for usage errors.
func (k Kind) ExitCode() int {
	switch k {
	case KindUsage:
		return 2
	case KindInternal:
		return 128
	default:
		return 1
	}
}

// Error is a contextualized failure: a Kind, a message describing the step
// that failed, and an optional wrapped cause. Printing an Error renders the
// full "While doing X:\n  While doing Y:\n    cause" chain.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

// New creates a root Error with no further cause.
func New(kind Kind, context string) *Error {
	return &Error{Kind: kind, Context: context}
}

// Wrap attaches context to an existing error, preserving its Kind if cause
// is itself an *Error, or assigning kind otherwise.
func Wrap(kind Kind, context string, cause error) *Error {
	if cause == nil {
		return New(kind, context)
	}
	if inner, ok := cause.(*Error); ok {
		kind = inner.Kind
	}
	return &Error{Kind: kind, Context: context, Cause: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	e.render(&b, 0)
	return b.String()
}

func (e *Error) render(b *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%sWhile %s:\n", indent, e.Context)
	if e.Cause == nil {
		return
	}
	if inner, ok := e.Cause.(*Error); ok {
		inner.render(b, depth+1)
		return
	}
	fmt.Fprintf(b, "%s  %s", indent, e.Cause.Error())
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err (or any error it wraps) carries kind, mirroring
// how the teacher's cli layer distinguishes recoverable conditions.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
