package signin_test

import (
	"context"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/gateway"
	"github.com/stretchr/testify/mock"
)

// MockUpstream implements signin.Upstream
type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) SendOTP(ctx context.Context, phone, hash, affiliateCode string) gateway.SendOTPOutcome {
	args := m.Called(ctx, phone, hash, affiliateCode)
	return args.Get(0).(gateway.SendOTPOutcome)
}

func (m *MockUpstream) VerifyOTP(ctx context.Context, phone, code, session, affiliateCode string) gateway.AuthOutcome {
	args := m.Called(ctx, phone, code, session, affiliateCode)
	return args.Get(0).(gateway.AuthOutcome)
}

func (m *MockUpstream) AuthenticateWithGoogle(ctx context.Context, googleToken, affiliateCode string) gateway.AuthOutcome {
	args := m.Called(ctx, googleToken, affiliateCode)
	return args.Get(0).(gateway.AuthOutcome)
}

// MockProvisioner implements signin.Provisioner
type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) Provision(ctx context.Context, ident identity.ExternalIdentity) (*identity.ProvisionResult, error) {
	args := m.Called(ctx, ident)
	res, _ := args.Get(0).(*identity.ProvisionResult)
	return res, args.Error(1)
}
