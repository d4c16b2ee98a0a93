// Package apperror implements the closed error taxonomy used throughout
// icloud-photos-sync-go. Each kind carries a severity, a human message, an
// optional cause, and a free-form context bag, grounded on the teacher's
// *GraphError (internal/graph/errors.go in the reference corpus): sentinel
// errors for errors.Is classification, plus a struct that carries the rich
// context a crash report would want.
package apperror

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Severity classifies whether an error aborts the current operation (Fatal)
// or is logged and surfaced without aborting (Warn).
type Severity int

const (
	SeverityWarn Severity = iota
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "FATAL"
	}

	return "WARN"
}

// Kind is the closed set of error kinds from spec.md §7.
type Kind int

const (
	KindICloudError Kind = iota
	KindICloudWarning
	KindAuthError
	KindMFAWarning
	KindLibraryError
	KindLibraryWarning
	KindSyncError
	KindSyncWarning
	KindArchiveError
	KindArchiveWarning
	KindTokenError
	KindInterruptError
	KindDaemonAppError
)

func (k Kind) String() string {
	switch k {
	case KindICloudError:
		return "iCloudError"
	case KindICloudWarning:
		return "iCloudWarning"
	case KindAuthError:
		return "AuthError"
	case KindMFAWarning:
		return "MFAWarning"
	case KindLibraryError:
		return "LibraryError"
	case KindLibraryWarning:
		return "LibraryWarning"
	case KindSyncError:
		return "SyncError"
	case KindSyncWarning:
		return "SyncWarning"
	case KindArchiveError:
		return "ArchiveError"
	case KindArchiveWarning:
		return "ArchiveWarning"
	case KindTokenError:
		return "TokenError"
	case KindInterruptError:
		return "InterruptError"
	case KindDaemonAppError:
		return "DaemonAppError"
	default:
		return "UnknownError"
	}
}

// severityOf reports the fixed severity for each kind, per spec.md §7.
func severityOf(k Kind) Severity {
	switch k {
	case KindICloudWarning, KindMFAWarning, KindLibraryWarning, KindSyncWarning, KindArchiveWarning:
		return SeverityWarn
	default:
		return SeverityFatal
	}
}

// Error is the concrete error type for every kind in the taxonomy. A nil
// *Error is never returned by constructors below; use errors.Is against the
// Kind-specific sentinels (ErrNoLock, etc.) for narrower classification.
type Error struct {
	id      string
	kind    Kind
	message string
	cause   error
	context map[string]any
}

// New creates an Error of the given kind with a message and optional
// key/value context pairs (must be supplied as alternating string keys and
// arbitrary values; malformed pairs are dropped).
func New(kind Kind, message string, kv ...any) *Error {
	return &Error{
		id:      uuid.New().String(),
		kind:    kind,
		message: message,
		context: kvToMap(kv),
	}
}

// Wrap creates an Error of the given kind wrapping cause, with context.
func Wrap(kind Kind, cause error, message string, kv ...any) *Error {
	return &Error{
		id:      uuid.New().String(),
		kind:    kind,
		message: message,
		cause:   cause,
		context: kvToMap(kv),
	}
}

func kvToMap(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}

	m := make(map[string]any, len(kv)/2)

	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}

		m[key] = kv[i+1]
	}

	return m
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}

	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// ID returns a UUID identifying this error occurrence, suitable for
// correlating a log line with an (externally implemented) crash report.
func (e *Error) ID() string { return e.id }

// Kind returns the error's taxonomy kind.
func (e *Error) Kind() Kind { return e.kind }

// Severity returns the error's fixed severity.
func (e *Error) Severity() Severity { return severityOf(e.kind) }

// Context returns the free-form attribute bag attached to this error.
func (e *Error) Context() map[string]any {
	if e.context == nil {
		return map[string]any{}
	}

	return e.context
}

// IsFatal reports whether err is an *Error with fatal severity, or is not an
// *apperror.Error at all (unclassified errors are treated as fatal by the
// top-level handler).
func IsFatal(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Severity() == SeverityFatal
	}

	return err != nil
}

// ExitCode maps an error's kind to a process exit code for the CLI, per
// spec.md §6: 0 success, 1 invalid CLI, 2 interrupted, non-zero otherwise
// indicates the fatal error kind.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var ae *Error
	if !errors.As(err, &ae) {
		return 1
	}

	if ae.kind == KindInterruptError {
		return 2
	}

	return int(ae.kind) + 10
}

// ErrNoLock is the distinct sentinel for "release called with no lock held",
// per spec.md §4.1.
var ErrNoLock = errors.New("apperror: no lock held")
