package turn

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"

	"github.com/pkg/errors"
)

// Kind classifies why a turn failed, so callers can react programmatically.
type Kind int

const (
	KindUnexpected Kind = iota
	KindTransport
	KindValidation
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote"
	default:
		return "unexpected"
	}
}

// Error is the failure signal returned for a turn that produced no reply.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// RemoteError is returned by backends when the remote service answered with a failure
// (rejected credential, exhausted quota, model error, ...).
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Code != "":
		return fmt.Sprintf("remote service error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("remote service error (status %d): %s", e.StatusCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("remote service error (%s): %s", e.Code, e.Message)
	default:
		return "remote service error: " + e.Message
	}
}

// KindOf classifies err. Errors that are not recognized are KindUnexpected.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnexpected
	}

	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, ErrInvalidParams) || errors.Is(err, ErrInvalidRequest) {
		return KindValidation
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return KindRemote
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return KindTransport
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransport
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return KindTransport
	}
	return KindUnexpected
}

func IsTransport(err error) bool {
	return err != nil && KindOf(err) == KindTransport
}

func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

func IsRemote(err error) bool {
	return err != nil && KindOf(err) == KindRemote
}
