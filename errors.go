package identity

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeDuplicateIdentity = "DUPLICATE_IDENTITY"
	TextCodeNotFound          = "IDENTITY_NOT_FOUND"
	TextCodeUnverified        = "IDENTITY_UNVERIFIED"
	TextCodeStorageFault      = "STORAGE_FAULT"
	TextCodeInvalidIdentity   = "INVALID_IDENTITY"
	TextCodeIdentityConflict  = "IDENTITY_CONFLICT"
)

// ErrDuplicateIdentity is returned when a create or update would reuse a
// channel value already held by another account.
var ErrDuplicateIdentity = goerrors.New("identity channel already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(goerrors.CodeConflict)

// ErrNotFound is returned when no active row matches the lookup
var ErrNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrUnverified is returned when a password does not match.
var ErrUnverified = goerrors.New("identity could not be verified", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnverified).
	WithCode(goerrors.CodeUnauthorized)

// ErrStorageFault wraps unexpected persistence errors
var ErrStorageFault = goerrors.New("identity storage fault", goerrors.CategoryInternal).
	WithTextCode(TextCodeStorageFault)

// ErrInvalidIdentity is returned when input breaks the channel rules of its provider
var ErrInvalidIdentity = goerrors.New("invalid identity", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidIdentity).
	WithCode(goerrors.CodeBadRequest)

// ErrIdentityConflict is returned by provisioning when the account found on a
// fallback channel is already bound to a different upstream user.
var ErrIdentityConflict = goerrors.New("identity bound to a different upstream user", goerrors.CategoryConflict).
	WithTextCode(TextCodeIdentityConflict).
	WithCode(goerrors.CodeConflict)

// IsDuplicateIdentity reports whether err is a channel collision
func IsDuplicateIdentity(err error) bool {
	return hasTextCode(err, TextCodeDuplicateIdentity)
}

// IsNotFound reports whether err is a missed lookup
func IsNotFound(err error) bool {
	return hasTextCode(err, TextCodeNotFound)
}

// IsUnverified reports whether err is a failed password comparison
func IsUnverified(err error) bool {
	return hasTextCode(err, TextCodeUnverified)
}

// IsStorageFault reports whether err came from the persistence layer
func IsStorageFault(err error) bool {
	return hasTextCode(err, TextCodeStorageFault)
}

// IsInvalidIdentity reports whether err is a validation failure
func IsInvalidIdentity(err error) bool {
	return hasTextCode(err, TextCodeInvalidIdentity)
}

// IsIdentityConflict reports whether err is a provisioning conflict
func IsIdentityConflict(err error) bool {
	return hasTextCode(err, TextCodeIdentityConflict)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// duplicateIdentity returns a fresh ErrDuplicateIdentity naming the channel
func duplicateIdentity(channel Channel, source error) error {
	clone := ErrDuplicateIdentity.Clone()
	clone.Source = source
	return clone.WithMetadata(map[string]any{
		"channel": string(channel),
	})
}

func notFound(channel Channel, source error) error {
	clone := ErrNotFound.Clone()
	clone.Source = source
	return clone.WithMetadata(map[string]any{
		"channel": string(channel),
	})
}

func storageFault(op string, source error) error {
	clone := ErrStorageFault.Clone()
	clone.Source = source
	meta := map[string]any{"operation": op}
	if source != nil {
		meta["cause"] = source.Error()
	}
	return clone.WithMetadata(meta)
}

func invalidIdentity(reason string, source error) error {
	clone := ErrInvalidIdentity.Clone()
	clone.Source = source
	return clone.WithMetadata(map[string]any{
		"reason": reason,
	})
}
