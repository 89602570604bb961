package identity

import (
	"context"
	"strings"

	"github.com/uptrace/bun"
)

// ProvisionResult describes how an external identity landed on an account
type ProvisionResult struct {
	Account   *Account
	Created   bool
	Linked    bool
	MatchedBy Channel
}

// Provisioner finds or creates the local account for an identity asserted
// by the upstream provider. Resolution only ever uses the channels the
// provider declared: external_user_id, then phone for OTP or email for
// GOOGLE. An account found on the fallback channel that is bound to a
// different upstream user is never merged.
type Provisioner struct {
	resolver        *Resolver
	repos           RepositoryManager
	logger          Logger
	activitySink    ActivitySink
	fallbackLinking bool
}

// NewProvisioner returns a Provisioner creating accounts through resolver
func NewProvisioner(repos RepositoryManager, resolver *Resolver) *Provisioner {
	return &Provisioner{
		resolver:        resolver,
		repos:           repos,
		logger:          defLogger(),
		activitySink:    noopActivitySink{},
		fallbackLinking: true,
	}
}

// WithLogger sets the logger, a nil logger restores the default
func (p *Provisioner) WithLogger(logger Logger) *Provisioner {
	p.logger = normalizeLogger(logger)
	return p
}

// WithActivitySink configures an ActivitySink for emitting provisioning events.
func (p *Provisioner) WithActivitySink(sink ActivitySink) *Provisioner {
	p.activitySink = normalizeActivitySink(sink)
	return p
}

// WithFallbackLinking toggles binding an unbound account found by phone or
// email to the upstream user. When disabled such an account makes
// provisioning fail with ErrDuplicateIdentity instead.
func (p *Provisioner) WithFallbackLinking(enabled bool) *Provisioner {
	p.fallbackLinking = enabled
	return p
}

// FallbackChannel returns the channel tried after external_user_id
func FallbackChannel(provider AuthProvider) (Channel, bool) {
	switch provider {
	case ProviderOTP:
		return ChannelPhone, true
	case ProviderGoogle:
		return ChannelEmail, true
	}
	return "", false
}

// Provision resolves ident to an account, creating one when no account
// holds any of its declared channels.
func (p *Provisioner) Provision(ctx context.Context, ident ExternalIdentity) (*ProvisionResult, error) {
	ident = p.normalize(ident)
	if err := p.validate(ident); err != nil {
		return nil, err
	}

	res, err := p.find(ctx, ident)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res, err = p.create(ctx, ident)
		if IsDuplicateIdentity(err) {
			// a concurrent provisioning may have won the insert
			dupErr := err
			res, err = p.find(ctx, ident)
			if err == nil && res == nil {
				err = dupErr
			}
		}
		if err != nil {
			return nil, err
		}
	}

	recordActivity(ctx, p.activitySink, p.logger, ActivityEvent{
		EventType:    ActivityEventAccountProvisioned,
		AccountID:    res.Account.ID,
		Channel:      res.MatchedBy,
		AuthProvider: ident.AuthProvider,
		Metadata: map[string]any{
			"created": res.Created,
			"linked":  res.Linked,
		},
	})
	return res, nil
}

// find returns nil, nil when no account matches any declared channel
func (p *Provisioner) find(ctx context.Context, ident ExternalIdentity) (*ProvisionResult, error) {
	var res *ProvisionResult
	err := p.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res = nil
		accounts := p.repos.Accounts()

		account, cred, err := accounts.GetByChannelTx(ctx, tx, ChannelExternalUserID, ident.ExternalUserID)
		switch {
		case err == nil:
			if err := p.refresh(ctx, tx, account, cred, ident); err != nil {
				return err
			}
			res = &ProvisionResult{MatchedBy: ChannelExternalUserID}
			return p.reload(ctx, tx, account.ID, res)
		case !IsNotFound(err):
			return err
		}

		fallback, _ := FallbackChannel(ident.AuthProvider)
		value := fallbackValue(ident, fallback)
		if !p.fallbackLinking || value == "" {
			return nil
		}

		account, cred, err = accounts.GetByChannelTx(ctx, tx, fallback, value)
		if IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}

		if cred.ExternalUserID != "" && cred.ExternalUserID != ident.ExternalUserID {
			clone := ErrIdentityConflict.Clone()
			return clone.WithMetadata(map[string]any{
				"channel":    string(fallback),
				"account_id": account.ID,
			})
		}

		linked := false
		if cred.ExternalUserID == "" {
			n, err := accounts.BindExternalIDTx(ctx, tx, account.ID, ident.ExternalUserID)
			if err != nil {
				return err
			}
			if err := expectOneRow(n); err != nil {
				return err
			}
			cred.ExternalUserID = ident.ExternalUserID
			linked = true
		}
		if err := p.refresh(ctx, tx, account, cred, ident); err != nil {
			return err
		}
		res = &ProvisionResult{MatchedBy: fallback, Linked: linked}
		return p.reload(ctx, tx, account.ID, res)
	})
	if err != nil {
		return nil, p.resolver.boundary("provision lookup", err)
	}

	if res != nil && res.Linked {
		p.logger.Info("linked upstream user %s to account %s by %s", ident.ExternalUserID, res.Account.ID, res.MatchedBy)
		recordActivity(ctx, p.activitySink, p.logger, ActivityEvent{
			EventType:    ActivityEventAccountLinked,
			AccountID:    res.Account.ID,
			Channel:      res.MatchedBy,
			AuthProvider: ident.AuthProvider,
		})
	}
	return res, nil
}

func (p *Provisioner) create(ctx context.Context, ident ExternalIdentity) (*ProvisionResult, error) {
	name := ident.FullName()
	if name == "" && ident.AuthProvider == ProviderOTP {
		name = ident.Phone
	}

	in := CreateAccountInput{
		Name:           name,
		ProfileImage:   ident.ProfileImage,
		ExternalUserID: ident.ExternalUserID,
		AuthProvider:   ident.AuthProvider,
	}
	switch ident.AuthProvider {
	case ProviderOTP:
		in.Phone = ident.Phone
	case ProviderGoogle:
		in.Email = ident.Email
	}

	account, err := p.resolver.CreateAccount(ctx, in)
	if err != nil {
		return nil, err
	}
	return &ProvisionResult{
		Account:   account,
		Created:   true,
		MatchedBy: ChannelExternalUserID,
	}, nil
}

// refresh fills blank profile fields and retags the provider when the
// credential still satisfies the new provider's channel rules
func (p *Provisioner) refresh(ctx context.Context, tx bun.IDB, account *Account, cred *Credential, ident ExternalIdentity) error {
	patch := ProfilePatch{}
	if account.Name == "" {
		patch.Name = ident.FullName()
	}
	if ident.ProfileImage != "" && ident.ProfileImage != DefaultProfileImage &&
		(account.ProfileImageURL == "" || account.ProfileImageURL == DefaultProfileImage) {
		patch.ProfileImage = ident.ProfileImage
	}
	if cred.AuthProvider != ident.AuthProvider &&
		ValidateProviderChannels(ident.AuthProvider, cred.Email, cred.Phone, cred.PasswordHash) == nil {
		patch.AuthProvider = ident.AuthProvider
	}
	_, err := p.repos.Accounts().RefreshProfileTx(ctx, tx, account.ID, patch)
	return err
}

func (p *Provisioner) reload(ctx context.Context, tx bun.IDB, id string, res *ProvisionResult) error {
	account, err := p.repos.Accounts().GetByIDTx(ctx, tx, id)
	if err != nil {
		return err
	}
	res.Account = account
	return nil
}

func (p *Provisioner) normalize(ident ExternalIdentity) ExternalIdentity {
	ident.ExternalUserID = strings.TrimSpace(ident.ExternalUserID)
	ident.Email = NormalizeEmail(ident.Email)
	ident.Phone = p.resolver.NormalizeChannel(ChannelPhone, ident.Phone)
	ident.FirstName = strings.TrimSpace(ident.FirstName)
	ident.LastName = strings.TrimSpace(ident.LastName)
	ident.ProfileImage = strings.TrimSpace(ident.ProfileImage)
	return ident
}

func (p *Provisioner) validate(ident ExternalIdentity) error {
	if ident.ExternalUserID == "" {
		return invalidIdentity("external identity requires an external user id", nil)
	}
	if _, ok := FallbackChannel(ident.AuthProvider); !ok {
		return invalidIdentity("unsupported provider "+string(ident.AuthProvider), nil)
	}
	if err := ValidateProviderChannels(ident.AuthProvider, ident.Email, ident.Phone, ""); err != nil {
		return invalidIdentity(err.Error(), err)
	}
	return nil
}

func fallbackValue(ident ExternalIdentity, c Channel) string {
	switch c {
	case ChannelPhone:
		return ident.Phone
	case ChannelEmail:
		return ident.Email
	}
	return ""
}
