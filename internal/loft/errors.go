package loft

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrorKind distinguishes failures so callers can offer the right remedy
// (wait, retry, choose another folder, restore a backup).
type ErrorKind int

const (
	// KindUnknown is returned by KindOf for nil errors.
	KindUnknown ErrorKind = iota
	// KindWorkspaceMissing: the path or a required file inside it does not exist.
	KindWorkspaceMissing
	// KindLockContention: another process currently holds the workspace.
	KindLockContention
	// KindInvalidDatabase: bytes failed the header check.
	KindInvalidDatabase
	// KindStructural: any other failure (permissions, malformed metadata, I/O).
	KindStructural
)

func (k ErrorKind) String() string {
	switch k {
	case KindWorkspaceMissing:
		return "WORKSPACE_MISSING"
	case KindLockContention:
		return "LOCK_CONTENTION"
	case KindInvalidDatabase:
		return "INVALID_DATABASE"
	case KindStructural:
		return "STRUCTURAL"
	default:
		return "UNKNOWN"
	}
}

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrWorkspaceMissing = &Error{Kind: KindWorkspaceMissing}
	ErrLockContention   = &Error{Kind: KindLockContention}
	ErrInvalidDatabase  = &Error{Kind: KindInvalidDatabase}
	ErrStructural       = &Error{Kind: KindStructural}
)

// ErrNoActiveWorkspace is returned when an operation needs the active workspace
// and the pointer is empty.
var ErrNoActiveWorkspace = errors.New("no active workspace")

// Reason explains a MISSING boot state in terms a recovery screen can act on.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonNotDownloaded  Reason = "not_downloaded"
	ReasonMovedOrDeleted Reason = "moved_or_deleted"
	ReasonCorrupt        Reason = "corrupt"
	ReasonLocked         Reason = "locked"
	ReasonUnreadable     Reason = "unreadable"
)

// Error is the typed error returned at the workspace boundary.
type Error struct {
	Kind    ErrorKind
	Path    string
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Path == "" && t.Message == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain. Lock-like OS errors
// are reported as KindLockContention and any other non-nil error as KindStructural.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if IsLockError(err) {
		return KindLockContention
	}
	return KindStructural
}

// lockPhrases are the lowercase messages SQLite, flock and sync agents use for
// a held file. Bare "locked" is not enough: it also matches "unlocked".
var lockPhrases = []string{
	"database is locked",
	"database table is locked",
	"file is locked",
	"is locked by",
	"locked by another",
	"resource busy",
	"ebusy",
}

// IsLockError reports whether err means the workspace is transiently held by
// someone else: a KindLockContention error, a busy/would-block errno, or a
// message in the shape sync agents and SQLite use for it.
func IsLockError(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindLockContention
	}
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range lockPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// NewError builds an *Error. It is used by gateways to tag their failures.
func NewError(kind ErrorKind, path, message string, err error) *Error {
	return &Error{Kind: kind, Path: path, Message: message, Err: err}
}

// classify converts any gateway error into an *Error, keeping an existing kind.
// When the *Error is wrapped, the whole chain is kept as the cause so the
// outer context is not lost.
func classify(err error, path, message string) *Error {
	var e *Error
	if errors.As(err, &e) {
		if error(e) != err {
			c := &Error{Kind: e.Kind, Path: e.Path, Reason: e.Reason, Message: message, Err: err}
			if c.Path == "" {
				c.Path = path
			}
			return c
		}
		// Copy so callers can fill Path and Reason without touching a shared value.
		c := *e
		if c.Path == "" {
			c.Path = path
		}
		return &c
	}
	if IsLockError(err) {
		return &Error{Kind: KindLockContention, Path: path, Reason: ReasonLocked, Message: message, Err: err}
	}
	return &Error{Kind: KindStructural, Path: path, Reason: ReasonUnreadable, Message: message, Err: err}
}
