// Package rverr defines the error kinds shared across the rv CLI.
//
// Errors are classified so that commands can decide between "print and exit 1",
// "print setup guidance", and "propagate the remote exit code verbatim".
package rverr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for top-level handling.
type Kind int

const (
	KindUnknown        Kind = iota
	KindConnection          // auth failed, unreachable host, refused, transport timeout
	KindConfig              // malformed local config
	KindNotInitialized      // no config present, setup required
	KindParse               // scheduler output did not match the documented grammar
	KindAllocator           // no viable strategies, all submissions failed or died, monitor timeout
	KindRemoteExit          // the user's command returned non-zero
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindConfig:
		return "config"
	case KindNotInitialized:
		return "not-initialized"
	case KindParse:
		return "parse"
	case KindAllocator:
		return "allocator"
	case KindRemoteExit:
		return "remote-exit"
	}
	return "unknown"
}

// E is a kinded error. Op names the operation that failed ("slurm.submit",
// "remote.exec"). ExitCode is meaningful only for KindRemoteExit.
type E struct {
	Kind     Kind
	Op       string
	Msg      string
	ExitCode int
	Err      error
}

func (e *E) Error() string {
	s := e.Msg
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }

// New builds a kinded error with a formatted message.
func New(kind Kind, op, format string, args ...interface{}) *E {
	return &E{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying error.
func Wrap(kind Kind, op string, err error, format string, args ...interface{}) *E {
	return &E{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// RemoteExit reports a non-zero exit from the user's remote command. The CLI
// propagates code verbatim.
func RemoteExit(op string, code int, stderr string) *E {
	return &E{Kind: KindRemoteExit, Op: op, Msg: fmt.Sprintf("remote command exited %d: %s", code, stderr), ExitCode: code}
}

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// ExitCode extracts the remote exit code from err, or def when err is not a
// remote-exit error.
func ExitCode(err error, def int) int {
	var e *E
	if errors.As(err, &e) && e.Kind == KindRemoteExit {
		return e.ExitCode
	}
	return def
}
