package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEngineLoad    = errors.New("engine load failed")
	ErrConversion    = errors.New("conversion failed")
	ErrUpload        = errors.New("upload failed")
	ErrTranscription = errors.New("transcription request failed")
	ErrCancelled     = errors.New("cancelled")
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// ServiceError carries the marker and stage context of a failure alongside
// the underlying cause. Both the marker and the cause participate in
// errors.Is/As matching.
type ServiceError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

func (e *ServiceError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

func (e *ServiceError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Marker != nil {
		out = append(out, e.Marker)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &ServiceError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// WithHint attaches an operator-facing remediation hint to the outermost
// ServiceError in err. Errors without one are returned unchanged.
func WithHint(err error, hint string) error {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return err
	}
	clone := *svcErr
	clone.Hint = strings.TrimSpace(hint)
	if svcErr == err {
		return &clone
	}
	return &hintedError{err: err, hinted: &clone}
}

type hintedError struct {
	err    error
	hinted *ServiceError
}

func (h *hintedError) Error() string { return h.err.Error() }

func (h *hintedError) Unwrap() []error { return []error{h.hinted, h.err} }

// ErrorDetails is the flattened view of a failure used by loggers and status
// reporting.
type ErrorDetails struct {
	Kind      string
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     string
}

// Details extracts the structured context of err. Plain errors produce a
// details value whose Message is the error text.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return ErrorDetails{Kind: Kind(err), Message: strings.TrimSpace(err.Error())}
	}
	details := ErrorDetails{
		Kind:      Kind(err),
		Stage:     svcErr.Stage,
		Operation: svcErr.Operation,
		Message:   svcErr.Message,
		Hint:      svcErr.Hint,
	}
	if svcErr.Cause != nil {
		details.Cause = strings.TrimSpace(svcErr.Cause.Error())
	}
	if details.Message == "" {
		details.Message = details.Cause
	}
	return details
}

// Kind returns a short classification label for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCancellation(err):
		return "cancelled"
	case errors.Is(err, ErrEngineLoad):
		return "engine_load"
	case errors.Is(err, ErrConversion):
		return "conversion"
	case errors.Is(err, ErrUpload):
		return "upload"
	case errors.Is(err, ErrTranscription):
		return "transcription"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	default:
		return "transient"
	}
}

// IsCancellation reports whether err stems from a caller abort rather than a
// failure of the work itself.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
