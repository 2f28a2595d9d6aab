package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeDeadlineExceeded   = Code(codes.DeadlineExceeded)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodeDeadlineExceeded:   http.StatusGatewayTimeout,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Kind tells which battle collaborator failed.
type Kind string

const (
	KindMatchmaking        Kind = "matchmaking"
	KindSubmission         Kind = "submission"
	KindContentUnavailable Kind = "content_unavailable"
	KindRealtimeDisconnect Kind = "realtime_disconnect"
)

type Error struct {
	Code    Code   `json:"code"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Kind != "" {
		s = fmt.Sprintf("%s: %s", e.Kind, s)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

// IsKind reports whether err is a battle error of the given kind.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// FromStatus returns the code carried by a gRPC status error, or fallback when err has none.
func FromStatus(err error, fallback Code) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	s, ok := status.FromError(err)
	if !ok || s.Code() == codes.Unknown || s.Code() == codes.OK {
		return fallback
	}

	return Code(s.Code())
}

// Matchmaking wraps a failure of the pairing service.
func Matchmaking(cause error, opts ...Option) *Error {
	return wrap(KindMatchmaking, cause, CodeUnavailable, opts)
}

// Submission wraps a failure of the grading call.
func Submission(cause error, opts ...Option) *Error {
	return wrap(KindSubmission, cause, CodeUnavailable, opts)
}

// ContentUnavailable wraps a failure to load question content.
func ContentUnavailable(cause error, opts ...Option) *Error {
	return wrap(KindContentUnavailable, cause, CodeNotFound, opts)
}

// RealtimeDisconnect wraps a loss of the push feed.
func RealtimeDisconnect(cause error, opts ...Option) *Error {
	return wrap(KindRealtimeDisconnect, cause, CodeUnavailable, opts)
}

func wrap(k Kind, cause error, fallback Code, opts []Option) *Error {
	code := fallback
	if cause != nil {
		code = FromStatus(cause, fallback)
	}

	e := New(code, append([]Option{WithCause(cause)}, opts...)...)
	e.Kind = k
	return e
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithKind(k Kind) Option {
	return optionFunc(func(e *Error) {
		e.Kind = k
	})
}
