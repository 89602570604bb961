package identity

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// CreateAccountInput carries every field create_account accepts. Channel
// fields left blank are stored as NULL.
type CreateAccountInput struct {
	Email          string
	PasswordHash   string
	Name           string
	ProfileImage   string
	Role           string
	OAuthSub       string
	ExternalUserID string
	Phone          string
	AuthProvider   AuthProvider
	APIKey         string
}

// Validate checks field formats and the per provider channel rules.
func (in CreateAccountInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Length(3, 254), is.Email),
		validation.Field(&in.Name, validation.Length(0, 255)),
		validation.Field(&in.Phone, validation.Length(3, 32)),
		validation.Field(&in.ExternalUserID, validation.Length(1, 255)),
		validation.Field(&in.AuthProvider,
			validation.In(ProviderCredentials, ProviderOTP, ProviderGoogle),
		),
	)
	if err != nil {
		return err
	}
	return ValidateProviderChannels(in.AuthProvider, in.Email, in.Phone, in.PasswordHash)
}

// ValidateProviderChannels enforces the channel shape each provider requires:
// OTP holds a phone and no email, GOOGLE holds an email, CREDENTIALS holds
// an email and a password hash. An empty provider carries no rule.
func ValidateProviderChannels(provider AuthProvider, email, phone, passwordHash string) error {
	switch provider {
	case ProviderOTP:
		if phone == "" {
			return errors.New("OTP identities require a phone")
		}
		if email != "" {
			return errors.New("OTP identities must not carry an email")
		}
	case ProviderGoogle:
		if email == "" {
			return errors.New("GOOGLE identities require an email")
		}
	case ProviderCredentials:
		if email == "" || passwordHash == "" {
			return errors.New("CREDENTIALS identities require an email and a password")
		}
	}
	return nil
}
