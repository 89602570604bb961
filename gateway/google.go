package gateway

import (
	"context"
	"net/http"
	"strings"
)

const msgGoogleAuthenticated = "Google authentication successful"

type googlePayload struct {
	GoogleToken string `json:"googleToken"`
}

// AuthenticateWithGoogle exchanges a Google token for an upstream identity.
func (g *Gateway) AuthenticateWithGoogle(ctx context.Context, googleToken, affiliateCode string) AuthOutcome {
	if strings.TrimSpace(googleToken) == "" {
		return AuthOutcome{Message: opGoogle.failureMessage, Err: g.invalidRequest(opGoogle, "google token is required")}
	}

	env, fail := g.post(ctx, opGoogle, googlePayload{GoogleToken: googleToken}, affiliateCode)
	if fail != nil {
		return AuthOutcome{Message: fail.message, Err: fail.err}
	}

	var rec googleRecord
	if err := decodeData(env, &rec); err != nil {
		fail := g.malformed(opGoogle, http.StatusOK, "decode data", err)
		return AuthOutcome{Message: fail.message, Err: fail.err}
	}
	if err := rec.validate(); err != nil {
		fail := g.malformed(opGoogle, http.StatusOK, err.Error(), nil)
		return AuthOutcome{Message: fail.message, Err: fail.err}
	}

	return AuthOutcome{
		OK:        true,
		Message:   env.message(msgGoogleAuthenticated),
		Identity:  mapGoogleIdentity(rec),
		Token:     rec.AccessToken,
		TokenType: rec.Type,
		ExpiresAt: parseExpiry(rec.ExpiresAt),
	}
}
