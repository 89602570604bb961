package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-identity"
)

// flexString accepts a JSON string or number. The upstream has sent user
// ids in both forms.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string {
	return strings.TrimSpace(string(f))
}

type sendOTPRecord struct {
	Phone   string `json:"phone"`
	Session string `json:"session"`
}

type verifyOTPRecord struct {
	Message     string     `json:"message"`
	Type        string     `json:"type"`
	AccessToken string     `json:"accessToken"`
	ExpiresAt   string     `json:"expiresAt"`
	UserID      flexString `json:"userId"`
}

func (r verifyOTPRecord) validate() error {
	return requireFields(map[string]string{
		"userId":      r.UserID.String(),
		"accessToken": r.AccessToken,
	})
}

type googleRecord struct {
	AccessToken string     `json:"accessToken"`
	Type        string     `json:"type"`
	ExpiresAt   string     `json:"expiresAt"`
	UserID      flexString `json:"userId"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	ProfilePic  string     `json:"profilePic"`
}

func (r googleRecord) validate() error {
	return requireFields(map[string]string{
		"userId":      r.UserID.String(),
		"accessToken": r.AccessToken,
		"email":       r.Email,
	})
}

func requireFields(fields map[string]string) error {
	var missing []string
	for _, name := range []string{"userId", "accessToken", "email"} {
		v, ok := fields[name]
		if ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// mapOTPIdentity keeps the phone the caller verified. The upstream never
// returns email or names for OTP sign in.
func mapOTPIdentity(r verifyOTPRecord, phone string) *identity.ExternalIdentity {
	return &identity.ExternalIdentity{
		ExternalUserID: r.UserID.String(),
		Phone:          strings.TrimSpace(phone),
		AuthProvider:   identity.ProviderOTP,
		ProfileImage:   identity.DefaultProfileImage,
	}
}

func mapGoogleIdentity(r googleRecord) *identity.ExternalIdentity {
	image := strings.TrimSpace(r.ProfilePic)
	if image == "" {
		image = identity.DefaultProfileImage
	}
	return &identity.ExternalIdentity{
		ExternalUserID: r.UserID.String(),
		Email:          strings.TrimSpace(r.Email),
		AuthProvider:   identity.ProviderGoogle,
		FirstName:      strings.TrimSpace(r.FirstName),
		LastName:       strings.TrimSpace(r.LastName),
		ProfileImage:   image,
	}
}

var expiryLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseExpiry is best effort; an unparseable value yields the zero time
func parseExpiry(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
