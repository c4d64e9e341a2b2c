// Package outcome classifies run failures and maps them to the sysexits
// codes Postfix interprets: 0 accept, 69 (EX_UNAVAILABLE) hard bounce,
// 75 (EX_TEMPFAIL) defer and retry.
package outcome

import (
	"errors"
	"fmt"
)

const (
	CodeSuccess   = 0
	CodePermanent = 69
	CodeTemporary = 75
)

type Kind int

const (
	// KindInvalidInvocation means the argv contract with Postfix was not
	// met. Retrying cannot help, so the message hard-bounces.
	KindInvalidInvocation Kind = iota + 1
	// KindInputRead means process input could not be read: the message on
	// stdin or the configuration file. Deferred and retried.
	KindInputRead
	// KindStoreUnavailable means the correlation database could not be
	// opened. The condition may be transient (lock contention, missing
	// mount), so the message is deferred.
	KindStoreUnavailable
	// KindStoreWrite means an insert or commit failed after a successful
	// open. Callers log and continue; losing a tracking row is preferable
	// to losing the mail.
	KindStoreWrite
	// KindSubmission means sendmail failed to launch or exited non-zero.
	KindSubmission
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInvocation:
		return "invalid-invocation"
	case KindInputRead:
		return "input-read"
	case KindStoreUnavailable:
		return "store-unavailable"
	case KindStoreWrite:
		return "store-write"
	case KindSubmission:
		return "submission"
	default:
		return "unknown"
	}
}

// Error carries the taxonomy kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the taxonomy kind of err, or 0 if err carries none.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return 0
}

// ExitCode maps an error to the process exit status. Errors without a
// taxonomy kind exit 1; those only come from operator subcommands, never
// from the filter path.
func ExitCode(err error) int {
	if err == nil {
		return CodeSuccess
	}
	switch KindOf(err) {
	case KindInvalidInvocation:
		return CodePermanent
	case KindInputRead, KindStoreUnavailable, KindSubmission:
		return CodeTemporary
	case KindStoreWrite:
		// Never surfaced as a run failure, but keep the mapping total.
		return CodeTemporary
	default:
		return 1
	}
}
