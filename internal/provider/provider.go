// Package provider defines the error taxonomy shared by every external
// dependency of the pipeline (LLM, image, TTS, object store, transcoder).
//
// Every failure surfaced to a video record carries a Kind so the engines
// can decide between retry, fallback and terminal failure without string
// matching, and so the stored error message names its class.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindTimeout is a per-call deadline hit.
	KindTimeout Kind = "timeout"
	// KindTransient is a retriable provider failure (5xx, connection reset).
	KindTransient Kind = "provider_transient"
	// KindAuth is an authentication/authorization rejection. Never retried.
	KindAuth Kind = "provider_auth"
	// KindQuota is a rate/quota rejection. Retried once after a longer delay.
	KindQuota Kind = "provider_quota"
	// KindContentPolicy is a safety-system rejection of the prompt. Not
	// retried as-is; the caller softens the prompt instead.
	KindContentPolicy Kind = "content_policy"
	// KindBadOutput is a structurally unusable provider response.
	KindBadOutput Kind = "bad_output"
	// KindUploadFailed is an object store write that exhausted its attempts.
	KindUploadFailed Kind = "upload_failed"
	// KindObjectNotVisible is an uploaded object that never became readable.
	KindObjectNotVisible Kind = "object_not_visible"
	// KindTranscoderFailed is a transcoder probe or render failure.
	KindTranscoderFailed Kind = "transcoder_failed"
	// KindInvalidStatus is an operation requested from the wrong lifecycle state.
	KindInvalidStatus Kind = "invalid_status"
	// KindNotFound is a missing video record.
	KindNotFound Kind = "not_found"
	// KindCancelled is a caller-cancelled operation.
	KindCancelled Kind = "cancelled"
	// KindUnknown is anything unclassified.
	KindUnknown Kind = "unknown"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "llm.generate_script"
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is supports errors.Is matching on kind-only sentinel errors.
func (e *Error) Is(target error) bool {
	var pe *Error
	if errors.As(target, &pe) {
		return pe.Kind == e.Kind && (pe.Op == "" || pe.Op == e.Op)
	}
	return false
}

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Constructors per kind, for call sites that know what went wrong.

func Timeout(op string, err error) *Error          { return New(KindTimeout, op, err) }
func Transient(op string, err error) *Error        { return New(KindTransient, op, err) }
func Auth(op string, err error) *Error             { return New(KindAuth, op, err) }
func Quota(op string, err error) *Error            { return New(KindQuota, op, err) }
func ContentPolicy(op string, err error) *Error    { return New(KindContentPolicy, op, err) }
func BadOutput(op string, err error) *Error        { return New(KindBadOutput, op, err) }
func UploadFailed(op string, err error) *Error     { return New(KindUploadFailed, op, err) }
func ObjectNotVisible(op string, err error) *Error { return New(KindObjectNotVisible, op, err) }
func TranscoderFailed(op string, err error) *Error { return New(KindTranscoderFailed, op, err) }
func InvalidStatus(op string, err error) *Error    { return New(KindInvalidStatus, op, err) }
func NotFound(op string, err error) *Error         { return New(KindNotFound, op, err) }
func Cancelled(op string, err error) *Error        { return New(KindCancelled, op, err) }

// KindOf walks the error chain and returns its classification.
// Bare context errors map to timeout/cancelled so call sites can wrap
// provider SDK failures without special-casing deadline expiry.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// IsKind reports whether err classifies as the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retriable reports whether the error kind is worth retrying as-is.
// Content policy and bad output are handled by fallbacks, not retries;
// auth failures never heal on their own.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindTransient, KindQuota, KindObjectNotVisible:
		return true
	}
	return false
}

// FromHTTPStatus classifies an HTTP provider response status.
func FromHTTPStatus(op string, status int, body string) *Error {
	err := fmt.Errorf("status %d: %s", status, truncate(body, 200))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Auth(op, err)
	case status == http.StatusTooManyRequests:
		return Quota(op, err)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return BadOutput(op, err)
	case status >= 500:
		return Transient(op, err)
	default:
		return New(KindUnknown, op, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
