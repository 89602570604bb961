package identity

import (
	"time"

	"github.com/uptrace/bun"
)

// AuthProvider tags the channel that last authenticated an account
type AuthProvider string

const (
	// ProviderCredentials is local email and password
	ProviderCredentials AuthProvider = "CREDENTIALS"
	// ProviderOTP is the phone verified one time passcode flow
	ProviderOTP AuthProvider = "OTP"
	// ProviderGoogle is Google sign in brokered by the upstream provider
	ProviderGoogle AuthProvider = "GOOGLE"
)

// Valid reports whether p is one of the known providers.
func (p AuthProvider) Valid() bool {
	switch p {
	case ProviderCredentials, ProviderOTP, ProviderGoogle:
		return true
	}
	return false
}

// Channel is an alternate key that can resolve to an Account.
// The value doubles as the column name in storage.
type Channel string

const (
	ChannelEmail          Channel = "email"
	ChannelPhone          Channel = "phone"
	ChannelExternalUserID Channel = "external_user_id"
	ChannelAPIKey         Channel = "api_key"
	ChannelOAuthSub       Channel = "oauth_sub"
)

// Channels lists every channel in the order collisions are reported.
var Channels = []Channel{
	ChannelEmail,
	ChannelPhone,
	ChannelExternalUserID,
	ChannelAPIKey,
	ChannelOAuthSub,
}

// Valid reports whether c names one of the lookup channels.
func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// CredentialHeld reports whether the channel lives on the credential
// row as well as on the account row.
func (c Channel) CredentialHeld() bool {
	switch c {
	case ChannelEmail, ChannelPhone, ChannelExternalUserID:
		return true
	}
	return false
}

const (
	// DefaultProfileImage is assigned when no image is supplied
	DefaultProfileImage = "/user.png"
	// DefaultRole is assigned to new accounts when no role is supplied
	DefaultRole = "pending"
)

// Account is the profile facing identity record
type Account struct {
	bun.BaseModel   `bun:"table:accounts,alias:acc"`
	ID              string       `bun:"id,pk" json:"id"`
	Name            string       `bun:"name,notnull" json:"name"`
	Email           string       `bun:"email,nullzero,unique" json:"email,omitempty"`
	Phone           string       `bun:"phone,nullzero,unique" json:"phone,omitempty"`
	ExternalUserID  string       `bun:"external_user_id,nullzero,unique" json:"external_user_id,omitempty"`
	AuthProvider    AuthProvider `bun:"auth_provider,nullzero" json:"auth_provider,omitempty"`
	Role            string       `bun:"role,notnull" json:"role"`
	ProfileImageURL string       `bun:"profile_image_url,notnull" json:"profile_image_url"`
	APIKey          string       `bun:"api_key,nullzero,unique" json:"api_key,omitempty"`
	OAuthSub        string       `bun:"oauth_sub,nullzero,unique" json:"oauth_sub,omitempty"`
	CreatedAt       time.Time    `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt       time.Time    `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// ChannelValue returns the value the account holds for channel c
func (a *Account) ChannelValue(c Channel) string {
	if a == nil {
		return ""
	}
	switch c {
	case ChannelEmail:
		return a.Email
	case ChannelPhone:
		return a.Phone
	case ChannelExternalUserID:
		return a.ExternalUserID
	case ChannelAPIKey:
		return a.APIKey
	case ChannelOAuthSub:
		return a.OAuthSub
	}
	return ""
}

// Credential is the auth facing record. It shares the account id.
type Credential struct {
	bun.BaseModel  `bun:"table:credentials,alias:cred"`
	ID             string       `bun:"id,pk" json:"id"`
	Email          string       `bun:"email,nullzero,unique" json:"email,omitempty"`
	PasswordHash   string       `bun:"password_hash,nullzero" json:"-"`
	Active         bool         `bun:"active,notnull" json:"active"`
	ExternalUserID string       `bun:"external_user_id,nullzero,unique" json:"external_user_id,omitempty"`
	Phone          string       `bun:"phone,nullzero,unique" json:"phone,omitempty"`
	AuthProvider   AuthProvider `bun:"auth_provider,nullzero" json:"auth_provider,omitempty"`
	CreatedAt      time.Time    `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time    `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// ExternalIdentity is the canonical shape of an identity asserted by the
// upstream provider, independent of the flow that produced it.
type ExternalIdentity struct {
	ExternalUserID string       `json:"external_user_id"`
	Email          string       `json:"email,omitempty"`
	Phone          string       `json:"phone,omitempty"`
	AuthProvider   AuthProvider `json:"auth_provider"`
	FirstName      string       `json:"first_name,omitempty"`
	LastName       string       `json:"last_name,omitempty"`
	ProfileImage   string       `json:"profile_image,omitempty"`
}

// FullName joins first and last name, skipping blanks
func (e ExternalIdentity) FullName() string {
	return BuildFullName(e.FirstName, e.LastName)
}
