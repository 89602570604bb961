package gateway

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeTransportFailure  = "UPSTREAM_TRANSPORT_FAILURE"
	TextCodeUpstreamRejected  = "UPSTREAM_REJECTED"
	TextCodeMalformedResponse = "UPSTREAM_MALFORMED"
	TextCodeInvalidRequest    = "UPSTREAM_INVALID_REQUEST"
)

// ErrTransportFailure is reported when the upstream could not be reached
// or did not answer before the call timeout.
var ErrTransportFailure = goerrors.New("upstream identity provider unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeTransportFailure)

// ErrUpstreamRejected is reported on any non 200 answer
var ErrUpstreamRejected = goerrors.New("upstream identity provider rejected the request", goerrors.CategoryAuth).
	WithTextCode(TextCodeUpstreamRejected).
	WithCode(goerrors.CodeUnauthorized)

// ErrMalformedResponse is reported when a 200 answer lacks required fields
var ErrMalformedResponse = goerrors.New("upstream identity provider returned a malformed response", goerrors.CategoryOperation).
	WithTextCode(TextCodeMalformedResponse)

// ErrInvalidRequest is reported when a call is missing its inputs and is
// not sent upstream at all
var ErrInvalidRequest = goerrors.New("invalid upstream request", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidRequest).
	WithCode(goerrors.CodeBadRequest)

// UpstreamError captures normalized upstream response details.
type UpstreamError struct {
	Operation   string
	Status      int
	Description string
	Timeout     bool
	Err         error
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "upstream error"
	}

	scope := "upstream"
	if e.Operation != "" {
		scope = fmt.Sprintf("upstream %s", e.Operation)
	}

	if e.Description != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed", scope)
}

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *UpstreamError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	if e.Timeout {
		meta["timeout"] = true
	}
	return meta
}

func wrapUpstreamError(base *goerrors.Error, uerr *UpstreamError) error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	clone.Source = uerr
	if meta := uerr.Metadata(); len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// IsTransportFailure reports whether err is a network or timeout failure
func IsTransportFailure(err error) bool {
	return hasTextCode(err, TextCodeTransportFailure)
}

// IsUpstreamRejected reports whether the upstream answered with an error status
func IsUpstreamRejected(err error) bool {
	return hasTextCode(err, TextCodeUpstreamRejected)
}

// IsMalformedResponse reports whether a success envelope was unusable
func IsMalformedResponse(err error) bool {
	return hasTextCode(err, TextCodeMalformedResponse)
}

// IsInvalidRequest reports whether the call was rejected before sending
func IsInvalidRequest(err error) bool {
	return hasTextCode(err, TextCodeInvalidRequest)
}

func hasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if err == nil || !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}
