// Package signin runs the external sign in path: the upstream provider
// verifies the user, then the local account is found or created.
package signin

import (
	"context"
	"time"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/gateway"
)

// Upstream is the part of the gateway the flow depends on
type Upstream interface {
	SendOTP(ctx context.Context, phone, hash, affiliateCode string) gateway.SendOTPOutcome
	VerifyOTP(ctx context.Context, phone, code, session, affiliateCode string) gateway.AuthOutcome
	AuthenticateWithGoogle(ctx context.Context, googleToken, affiliateCode string) gateway.AuthOutcome
}

// Provisioner finds or creates the local account for an external identity
type Provisioner interface {
	Provision(ctx context.Context, ident identity.ExternalIdentity) (*identity.ProvisionResult, error)
}

// Result is a completed sign in
type Result struct {
	Account       *identity.Account
	UpstreamToken string
	TokenType     string
	ExpiresAt     time.Time
	IsNewAccount  bool
	Linked        bool
	Message       string
}

// Service composes the gateway and provisioning
type Service struct {
	upstream    Upstream
	provisioner Provisioner
	logger      identity.Logger
}

// NewService returns a Service logging through a no-op zap logger
func NewService(upstream Upstream, provisioner Provisioner) *Service {
	return &Service{
		upstream:    upstream,
		provisioner: provisioner,
		logger:      identity.NewZapLogger(nil),
	}
}

// WithLogger sets the logger, nil keeps the current one
func (s *Service) WithLogger(logger identity.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// RequestOTP forwards to the upstream provider unchanged
func (s *Service) RequestOTP(ctx context.Context, phone, hash, affiliateCode string) gateway.SendOTPOutcome {
	return s.upstream.SendOTP(ctx, phone, hash, affiliateCode)
}

// SignInWithOTP verifies the passcode and provisions the phone account.
// The upstream message is returned alongside any error so callers can
// show it.
func (s *Service) SignInWithOTP(ctx context.Context, phone, code, session, affiliateCode string) (*Result, error) {
	return s.complete(ctx, s.upstream.VerifyOTP(ctx, phone, code, session, affiliateCode))
}

// SignInWithGoogle exchanges the Google token and provisions the email account.
func (s *Service) SignInWithGoogle(ctx context.Context, googleToken, affiliateCode string) (*Result, error) {
	return s.complete(ctx, s.upstream.AuthenticateWithGoogle(ctx, googleToken, affiliateCode))
}

func (s *Service) complete(ctx context.Context, out gateway.AuthOutcome) (*Result, error) {
	if !out.OK || out.Identity == nil {
		err := out.Err
		if err == nil {
			err = gateway.ErrMalformedResponse.Clone()
		}
		return &Result{Message: out.Message}, err
	}

	res, err := s.provisioner.Provision(ctx, *out.Identity)
	if err != nil {
		s.logger.Warn("provisioning %s identity %s failed: %v", out.Identity.AuthProvider, out.Identity.ExternalUserID, err)
		return &Result{Message: out.Message}, err
	}

	return &Result{
		Account:       res.Account,
		UpstreamToken: out.Token,
		TokenType:     out.TokenType,
		ExpiresAt:     out.ExpiresAt,
		IsNewAccount:  res.Created,
		Linked:        res.Linked,
		Message:       out.Message,
	}, nil
}
