// Package merr defines the error kinds shared across the SDK so callers
// can branch on failure type with errors.Is / errors.As instead of
// string matching. The teacher repo wraps plain fmt.Errorf throughout
// and has no dedicated errors package; this one exists because the spec
// requires callers to distinguish RPCError.error_code, KVError subtypes,
// and registration/election failures, which a bare %w chain can't carry.
package merr

import (
	"errors"
	"fmt"
)

// Kind classifies an SDK-level failure.
type Kind string

const (
	KindInvalidIdentifier Kind = "InvalidIdentifier"
	KindSerialization     Kind = "SerializationError"
	KindKV                Kind = "KVError"
	KindKeyExists         Kind = "KeyExists"
	KindRevisionMismatch  Kind = "RevisionMismatch"
	KindNotFound          Kind = "NotFound"
	KindRegistration      Kind = "RegistrationError"
	KindElection          Kind = "ElectionError"
	KindRPC               Kind = "RPCError"
)

// Error is the SDK's common error type. ServiceName is populated for
// RegistrationError; Code is populated for RPCError.
type Error struct {
	Kind        Kind
	ServiceName string
	Code        string
	Msg         string
	Cause       error
}

func (e *Error) Error() string {
	if e.ServiceName != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.ServiceName, e.Msg)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by Kind so errors.Is(err, merr.KeyExists) style checks work
// against a sentinel constructed with the same Kind and no other fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newKind(kind Kind) *Error { return &Error{Kind: kind} }

// Sentinels for errors.Is comparisons.
var (
	KeyExists        = newKind(KindKeyExists)
	RevisionMismatch = newKind(KindRevisionMismatch)
	NotFound         = newKind(KindNotFound)
)

func InvalidIdentifier(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidIdentifier, Msg: fmt.Sprintf(format, args...)}
}

func Serialization(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindSerialization, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

func KV(kind Kind, cause error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

func Registration(serviceName string, cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindRegistration, ServiceName: serviceName, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

func Election(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindElection, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

func RPC(code string, format string, args ...interface{}) error {
	return &Error{Kind: KindRPC, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap is a thin helper matching the teacher's fmt.Errorf("...: %w", err)
// idiom for spots that don't need a typed Kind.
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// AsKind reports whether err (or one it wraps) is a *Error of kind k.
func AsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
