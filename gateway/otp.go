package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-identity"
)

const (
	msgOTPSent     = "OTP sent successfully"
	msgOTPVerified = "OTP verified successfully"
)

// SendOTPOutcome is the normalized send-otp result. Err is set whenever
// OK is false.
type SendOTPOutcome struct {
	OK      bool
	Message string
	Session string
	Err     error
}

// AuthOutcome is the normalized result of verify-otp and google. Identity
// and Token are set only when OK is true.
type AuthOutcome struct {
	OK        bool
	Message   string
	Identity  *identity.ExternalIdentity
	Token     string
	TokenType string
	ExpiresAt time.Time
	Err       error
}

type sendOTPPayload struct {
	Phone string `json:"phone"`
	Hash  string `json:"hash,omitempty"`
}

type verifyOTPPayload struct {
	Phone   string `json:"phone"`
	Code    string `json:"code"`
	Session string `json:"session"`
}

// SendOTP asks the upstream to text a passcode to phone. hash is the
// optional app signature used for SMS autofill.
func (g *Gateway) SendOTP(ctx context.Context, phone, hash, affiliateCode string) SendOTPOutcome {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return SendOTPOutcome{Message: opSendOTP.failureMessage, Err: g.invalidRequest(opSendOTP, "phone is required")}
	}

	env, fail := g.post(ctx, opSendOTP, sendOTPPayload{Phone: phone, Hash: hash}, affiliateCode)
	if fail != nil {
		return SendOTPOutcome{Message: fail.message, Err: fail.err}
	}

	var rec sendOTPRecord
	if err := decodeData(env, &rec); err != nil {
		g.logger.Warn("send_otp returned no session data: %v", err)
	}

	g.logger.Debug("otp sent to %s", maskPhone(phone))
	return SendOTPOutcome{
		OK:      true,
		Message: env.message(msgOTPSent),
		Session: strings.TrimSpace(rec.Session),
	}
}

// VerifyOTP exchanges a passcode for an upstream identity. The returned
// identity carries the phone given here, not one echoed by the upstream.
func (g *Gateway) VerifyOTP(ctx context.Context, phone, code, session, affiliateCode string) AuthOutcome {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.TrimSpace(code) == "" || strings.TrimSpace(session) == "" {
		return AuthOutcome{Message: opVerifyOTP.failureMessage, Err: g.invalidRequest(opVerifyOTP, "phone, code and session are required")}
	}

	env, fail := g.post(ctx, opVerifyOTP, verifyOTPPayload{Phone: phone, Code: code, Session: session}, affiliateCode)
	if fail != nil {
		return AuthOutcome{Message: fail.message, Err: fail.err}
	}

	var rec verifyOTPRecord
	if err := decodeData(env, &rec); err != nil {
		fail := g.malformed(opVerifyOTP, http.StatusOK, "decode data", err)
		return AuthOutcome{Message: fail.message, Err: fail.err}
	}
	if err := rec.validate(); err != nil {
		fail := g.malformed(opVerifyOTP, http.StatusOK, err.Error(), nil)
		return AuthOutcome{Message: fail.message, Err: fail.err}
	}

	return AuthOutcome{
		OK:        true,
		Message:   env.message(msgOTPVerified),
		Identity:  mapOTPIdentity(rec, phone),
		Token:     rec.AccessToken,
		TokenType: rec.Type,
		ExpiresAt: parseExpiry(rec.ExpiresAt),
	}
}

func (g *Gateway) invalidRequest(op operation, desc string) error {
	return wrapUpstreamError(ErrInvalidRequest, &UpstreamError{Operation: op.name, Description: desc})
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
