// Package ierr defines the error taxonomy shared by every runtime
// subsystem (value validation, table store, transaction log, host-call
// dispatch, reducer/query engine, network seam).
package ierr

import "fmt"

// Kind identifies a category of runtime error without tying callers to a
// specific message format. Handlers branch on Kind; humans read Error().
type Kind int

const (
	Internal Kind = iota
	ModuleNotFound
	ReducerNotFound
	QueryNotFound
	TableNotFound
	AbiMismatch
	ValidationError
	DuplicateKey
	MissingKey
	AccessDenied
	ReducerCycle
	QueryMutation
	NetworkSendFailed
	ProtocolError
	LogFormatError
	LogCorrupt
	LogIo
	MemoryRead
	GuestTrap
	GuestAbort
	ModuleLoadError
)

func (k Kind) String() string {
	switch k {
	case ModuleNotFound:
		return "ModuleNotFound"
	case ReducerNotFound:
		return "ReducerNotFound"
	case QueryNotFound:
		return "QueryNotFound"
	case TableNotFound:
		return "TableNotFound"
	case AbiMismatch:
		return "AbiMismatch"
	case ValidationError:
		return "ValidationError"
	case DuplicateKey:
		return "DuplicateKey"
	case MissingKey:
		return "MissingKey"
	case AccessDenied:
		return "AccessDenied"
	case ReducerCycle:
		return "ReducerCycle"
	case QueryMutation:
		return "QueryMutation"
	case NetworkSendFailed:
		return "NetworkSendFailed"
	case ProtocolError:
		return "ProtocolError"
	case LogFormatError:
		return "LogFormatError"
	case LogCorrupt:
		return "LogCorrupt"
	case LogIo:
		return "LogIo"
	case MemoryRead:
		return "MemoryRead"
	case GuestTrap:
		return "GuestTrap"
	case GuestAbort:
		return "GuestAbort"
	case ModuleLoadError:
		return "ModuleLoadError"
	default:
		return "Internal"
	}
}

// Error is the concrete error type surfaced across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/message context to an underlying error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
