package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Resolver creates accounts and resolves them from a single identity
// channel. Construct one per process and share it; it holds no per request
// state.
//
// Methods returning (*Account, error) or error expose the full outcome
// taxonomy. The Authenticate* and Update* methods collapse it to nil or
// false so callers never see storage errors.
type Resolver struct {
	repos        RepositoryManager
	verifier     Verifier
	hasher       Hasher
	logger       Logger
	activitySink ActivitySink
	phoneRegion  string
	defaultRole  string
	newID        func() string

	decoyOnce sync.Once
	decoyHash string
}

// NewResolver returns a Resolver over repos. A nil verifier falls back to
// bcrypt with the default cost. A verifier that is also a Hasher builds the
// decoy hash; otherwise a bcrypt decoy is used until WithHasher is called.
func NewResolver(repos RepositoryManager, verifier Verifier) *Resolver {
	if verifier == nil {
		verifier = NewBcryptVerifier(0)
	}
	r := &Resolver{
		repos:        repos,
		verifier:     verifier,
		logger:       defLogger(),
		activitySink: noopActivitySink{},
		phoneRegion:  DefaultPhoneRegion,
		defaultRole:  DefaultRole,
		newID:        uuid.NewString,
	}
	if h, ok := verifier.(Hasher); ok {
		r.hasher = h
	} else {
		r.hasher = NewBcryptVerifier(0)
	}
	return r
}

// WithLogger sets the logger, a nil logger restores the default
func (r *Resolver) WithLogger(logger Logger) *Resolver {
	r.logger = normalizeLogger(logger)
	return r
}

// WithActivitySink configures an ActivitySink for emitting account events.
func (r *Resolver) WithActivitySink(sink ActivitySink) *Resolver {
	r.activitySink = normalizeActivitySink(sink)
	return r
}

// WithHasher sets the hasher used to build the decoy hash compared when an
// email is unknown. It must produce hashes the verifier understands. A nil
// hasher is ignored.
func (r *Resolver) WithHasher(h Hasher) *Resolver {
	if h != nil {
		r.hasher = h
	}
	return r
}

// WithPhoneRegion sets the region used to parse numbers without a prefix
func (r *Resolver) WithPhoneRegion(region string) *Resolver {
	if region != "" {
		r.phoneRegion = strings.ToUpper(region)
	}
	return r
}

// WithDefaultRole sets the role given to accounts created without one
func (r *Resolver) WithDefaultRole(role string) *Resolver {
	if role != "" {
		r.defaultRole = role
	}
	return r
}

// NormalizeChannel applies the resolver's normalization to value
func (r *Resolver) NormalizeChannel(c Channel, value string) string {
	return NormalizeChannel(c, value, r.phoneRegion)
}

// CreateAccount builds the account and its credential in one transaction.
// Every present channel is checked for collisions inside that transaction
// before the insert; the unique constraints catch concurrent writers.
func (r *Resolver) CreateAccount(ctx context.Context, in CreateAccountInput) (*Account, error) {
	in = r.normalizeInput(in)
	if err := in.Validate(); err != nil {
		return nil, invalidIdentity(err.Error(), err)
	}

	id := r.newID()
	account := &Account{
		ID:              id,
		Name:            in.Name,
		Email:           in.Email,
		Phone:           in.Phone,
		ExternalUserID:  in.ExternalUserID,
		AuthProvider:    in.AuthProvider,
		Role:            in.Role,
		ProfileImageURL: in.ProfileImage,
		APIKey:          in.APIKey,
		OAuthSub:        in.OAuthSub,
	}
	cred := &Credential{
		ID:             id,
		Email:          in.Email,
		PasswordHash:   in.PasswordHash,
		Active:         true,
		ExternalUserID: in.ExternalUserID,
		Phone:          in.Phone,
		AuthProvider:   in.AuthProvider,
	}

	err := r.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, c := range Channels {
			taken, err := r.repos.Accounts().ChannelTakenTx(ctx, tx, c, account.ChannelValue(c), "")
			if err != nil {
				return err
			}
			if taken {
				return duplicateIdentity(c, nil)
			}
		}
		return r.repos.Accounts().CreateTx(ctx, tx, account, cred)
	})
	if err != nil {
		return nil, r.boundary("create account", err)
	}

	r.logger.Info("account %s created via %s", account.ID, providerLabel(account.AuthProvider))
	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType:    ActivityEventAccountCreated,
		AccountID:    account.ID,
		AuthProvider: account.AuthProvider,
	})
	return account, nil
}

// Lookup resolves value on exactly one channel among active accounts. It
// returns ErrInvalidIdentity for a channel outside Channels, ErrNotFound or
// ErrStorageFault otherwise.
func (r *Resolver) Lookup(ctx context.Context, channel Channel, value string) (*Account, error) {
	account, _, err := r.lookup(ctx, channel, value)
	return account, err
}

// GetAccount loads an account by id regardless of channel
func (r *Resolver) GetAccount(ctx context.Context, id string) (*Account, error) {
	account, err := r.repos.Accounts().GetByIDTx(ctx, r.repos.DB(), id)
	if err != nil {
		return nil, r.boundary("get account", err)
	}
	return account, nil
}

// VerifyCredentials returns ErrUnverified for both an unknown email and a
// wrong password. An unknown email still pays for one hash comparison.
func (r *Resolver) VerifyCredentials(ctx context.Context, email, password string) (*Account, error) {
	account, cred, err := r.lookup(ctx, ChannelEmail, email)
	if err != nil {
		r.verifier.Verify(password, r.decoy())
		if IsStorageFault(err) {
			return nil, err
		}
		return nil, unverified()
	}

	hash := cred.PasswordHash
	if hash == "" {
		r.verifier.Verify(password, r.decoy())
		return nil, unverified()
	}
	if !r.verifier.Verify(password, hash) {
		return nil, unverified()
	}
	return account, nil
}

// AuthenticateByCredentials returns the account when email and password
// match an active credential, nil otherwise.
func (r *Resolver) AuthenticateByCredentials(ctx context.Context, email, password string) *Account {
	account, err := r.VerifyCredentials(ctx, email, password)
	if err != nil {
		recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Channel:   ChannelEmail,
			Metadata:  map[string]any{"reason": failureReason(err)},
		})
		return nil
	}
	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType:    ActivityEventLoginSuccess,
		AccountID:    account.ID,
		Channel:      ChannelEmail,
		AuthProvider: ProviderCredentials,
	})
	return account
}

// AuthenticateByAPIKey returns nil for an empty key without touching the store.
func (r *Resolver) AuthenticateByAPIKey(ctx context.Context, key string) *Account {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	return r.authenticate(ctx, ChannelAPIKey, key)
}

func (r *Resolver) AuthenticateByExternalID(ctx context.Context, externalUserID string) *Account {
	return r.authenticate(ctx, ChannelExternalUserID, externalUserID)
}

func (r *Resolver) AuthenticateByPhone(ctx context.Context, phone string) *Account {
	return r.authenticate(ctx, ChannelPhone, phone)
}

// AuthenticateByEmail resolves a trusted email without a password. Callers
// must have verified ownership of the address some other way.
func (r *Resolver) AuthenticateByEmail(ctx context.Context, email string) *Account {
	return r.authenticate(ctx, ChannelEmail, email)
}

// AuthenticateByOAuthSub resolves the legacy OAuth subject claim
func (r *Resolver) AuthenticateByOAuthSub(ctx context.Context, sub string) *Account {
	return r.authenticate(ctx, ChannelOAuthSub, sub)
}

// ChangePassword replaces the password hash of account id. The provider
// channel rules are checked against the stored credential, so a
// CREDENTIALS account can not have its hash cleared.
func (r *Resolver) ChangePassword(ctx context.Context, id, passwordHash string) error {
	err := r.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		accounts := r.repos.Accounts()
		cred, err := accounts.GetCredentialTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := ValidateProviderChannels(cred.AuthProvider, cred.Email, cred.Phone, passwordHash); err != nil {
			return invalidIdentity(err.Error(), err)
		}
		n, err := accounts.UpdatePasswordTx(ctx, tx, id, passwordHash)
		if err != nil {
			return err
		}
		return expectOneRow(n)
	})
	if err != nil {
		return r.boundary("update password", err)
	}
	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType: ActivityEventPasswordUpdated,
		AccountID: id,
	})
	return nil
}

// UpdatePassword reports whether exactly one credential changed
func (r *Resolver) UpdatePassword(ctx context.Context, id, passwordHash string) bool {
	return r.ChangePassword(ctx, id, passwordHash) == nil
}

// ChangeEmail re-checks uniqueness and the provider channel rules against
// the stored credential before writing both rows.
func (r *Resolver) ChangeEmail(ctx context.Context, id, email string) error {
	email = NormalizeEmail(email)
	if email != "" {
		if err := validation.Validate(email, is.Email); err != nil {
			return invalidIdentity(err.Error(), err)
		}
	}

	err := r.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		accounts := r.repos.Accounts()
		cred, err := accounts.GetCredentialTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if cred.Email == email {
			return nil
		}
		if err := ValidateProviderChannels(cred.AuthProvider, email, cred.Phone, cred.PasswordHash); err != nil {
			return invalidIdentity(err.Error(), err)
		}
		taken, err := accounts.ChannelTakenTx(ctx, tx, ChannelEmail, email, id)
		if err != nil {
			return err
		}
		if taken {
			return duplicateIdentity(ChannelEmail, nil)
		}
		n, err := accounts.UpdateEmailTx(ctx, tx, id, email)
		if err != nil {
			return err
		}
		return expectOneRow(n)
	})
	if err != nil {
		return r.boundary("update email", err)
	}
	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType: ActivityEventEmailUpdated,
		AccountID: id,
		Channel:   ChannelEmail,
	})
	return nil
}

// UpdateEmail reports whether the email was stored
func (r *Resolver) UpdateEmail(ctx context.Context, id, email string) bool {
	return r.ChangeEmail(ctx, id, email) == nil
}

// ChangeAPIKey sets or, with an empty key, clears the account API key.
func (r *Resolver) ChangeAPIKey(ctx context.Context, id, key string) error {
	key = strings.TrimSpace(key)
	err := r.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		accounts := r.repos.Accounts()
		taken, err := accounts.ChannelTakenTx(ctx, tx, ChannelAPIKey, key, id)
		if err != nil {
			return err
		}
		if taken {
			return duplicateIdentity(ChannelAPIKey, nil)
		}
		n, err := accounts.UpdateAPIKeyTx(ctx, tx, id, key)
		if err != nil {
			return err
		}
		return expectOneRow(n)
	})
	if err != nil {
		return r.boundary("update api key", err)
	}
	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType: ActivityEventAPIKeyUpdated,
		AccountID: id,
		Channel:   ChannelAPIKey,
	})
	return nil
}

func (r *Resolver) UpdateAPIKey(ctx context.Context, id, key string) bool {
	return r.ChangeAPIKey(ctx, id, key) == nil
}

// Delete removes the account and then its credential. Both deletes must
// hit exactly one row or the transaction rolls back.
func (r *Resolver) Delete(ctx context.Context, id string) error {
	err := r.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		accounts := r.repos.Accounts()
		n, err := accounts.DeleteAccountTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := expectOneRow(n); err != nil {
			return err
		}
		n, err = accounts.DeleteCredentialTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if n != 1 {
			return storageFault("delete credential", errors.New("credential row missing for account"))
		}
		return nil
	})
	if err != nil {
		return r.boundary("delete account", err)
	}
	r.logger.Info("account %s deleted", id)
	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType: ActivityEventAccountDeleted,
		AccountID: id,
	})
	return nil
}

// DeleteAccount reports whether both rows were removed
func (r *Resolver) DeleteAccount(ctx context.Context, id string) bool {
	return r.Delete(ctx, id) == nil
}

func (r *Resolver) authenticate(ctx context.Context, channel Channel, value string) *Account {
	account, _, err := r.lookup(ctx, channel, value)
	if err != nil {
		return nil
	}
	return account
}

func (r *Resolver) lookup(ctx context.Context, channel Channel, value string) (*Account, *Credential, error) {
	if !channel.Valid() {
		return nil, nil, r.boundary("lookup", invalidIdentity("unknown channel "+string(channel), nil))
	}
	value = r.NormalizeChannel(channel, value)
	if value == "" {
		return nil, nil, notFound(channel, nil)
	}
	account, cred, err := r.repos.Accounts().GetByChannelTx(ctx, r.repos.DB(), channel, value)
	if err != nil {
		return nil, nil, r.boundary("lookup by "+string(channel), err)
	}
	return account, cred, nil
}

// boundary converts err into the outcome taxonomy. Anything not already
// classified is a storage fault and gets logged.
func (r *Resolver) boundary(op string, err error) error {
	switch {
	case IsNotFound(err), IsDuplicateIdentity(err), IsInvalidIdentity(err), IsUnverified(err), IsIdentityConflict(err):
		r.logger.Debug("%s: %v", op, err)
		return err
	case IsStorageFault(err):
		r.logger.Error("%s: %v", op, err)
		return err
	default:
		r.logger.Error("%s: %v", op, err)
		return storageFault(op, err)
	}
}

func (r *Resolver) normalizeInput(in CreateAccountInput) CreateAccountInput {
	in.Email = NormalizeEmail(in.Email)
	in.Phone = NormalizePhone(in.Phone, r.phoneRegion)
	in.ExternalUserID = strings.TrimSpace(in.ExternalUserID)
	in.APIKey = strings.TrimSpace(in.APIKey)
	in.OAuthSub = strings.TrimSpace(in.OAuthSub)
	in.Name = strings.TrimSpace(in.Name)
	in.ProfileImage = strings.TrimSpace(in.ProfileImage)

	if in.ProfileImage == "" {
		in.ProfileImage = DefaultProfileImage
	}
	if in.Role == "" {
		in.Role = r.defaultRole
	}
	if in.AuthProvider == "" && in.Email != "" && in.PasswordHash != "" {
		in.AuthProvider = ProviderCredentials
	}
	return in
}

// decoy returns a hash of a random secret, built on first use
func (r *Resolver) decoy() string {
	r.decoyOnce.Do(func() {
		h, err := r.hasher.Hash(uuid.NewString())
		if err != nil {
			r.logger.Warn("decoy hash unavailable: %v", err)
			return
		}
		r.decoyHash = h
	})
	return r.decoyHash
}

func expectOneRow(n int64) error {
	if n != 1 {
		return notFound("", nil)
	}
	return nil
}

// unverified carries no source so unknown accounts and wrong passwords
// read the same
func unverified() error {
	return ErrUnverified.Clone()
}

func failureReason(err error) string {
	if IsStorageFault(err) {
		return TextCodeStorageFault
	}
	return TextCodeUnverified
}

func providerLabel(p AuthProvider) string {
	if p == "" {
		return "unspecified provider"
	}
	return string(p)
}
