package identity_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccount_LocalCredentials(t *testing.T) {
	ctx := context.Background()
	db, resolver := setupResolver(t)

	account, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        " Ann@Example.com ",
		PasswordHash: mustHash(t, "s3cret-pass"),
		Name:         "Ann",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, account.ID)
	assert.Equal(t, "ann@example.com", account.Email)
	assert.Equal(t, identity.ProviderCredentials, account.AuthProvider)
	assert.Equal(t, identity.DefaultRole, account.Role)
	assert.Equal(t, identity.DefaultProfileImage, account.ProfileImageURL)
	assert.Equal(t, 1, countRows(t, db, "accounts"))
	assert.Equal(t, 1, countRows(t, db, "credentials"))

	got := resolver.AuthenticateByCredentials(ctx, "ANN@example.com", "s3cret-pass")
	require.NotNil(t, got)
	assert.Equal(t, account.ID, got.ID)
}

func TestCreateAccount_DuplicateChannelLeavesStoreUnchanged(t *testing.T) {
	cases := []struct {
		name    string
		first   identity.CreateAccountInput
		second  identity.CreateAccountInput
		channel string
	}{
		{
			name:    "email",
			first:   identity.CreateAccountInput{Email: "a@b.com", PasswordHash: "h1", Name: "A"},
			second:  identity.CreateAccountInput{Email: "A@B.com", PasswordHash: "h2", Name: "B"},
			channel: "email",
		},
		{
			name:    "phone",
			first:   identity.CreateAccountInput{Phone: "+12015550123", ExternalUserID: "u1", AuthProvider: identity.ProviderOTP},
			second:  identity.CreateAccountInput{Phone: "(201) 555-0123", ExternalUserID: "u2", AuthProvider: identity.ProviderOTP},
			channel: "phone",
		},
		{
			name:    "external user id",
			first:   identity.CreateAccountInput{Phone: "+12015550123", ExternalUserID: "u1", AuthProvider: identity.ProviderOTP},
			second:  identity.CreateAccountInput{Email: "g@b.com", ExternalUserID: "u1", AuthProvider: identity.ProviderGoogle},
			channel: "external_user_id",
		},
		{
			name:    "api key",
			first:   identity.CreateAccountInput{Email: "a@b.com", PasswordHash: "h1", APIKey: "key-1"},
			second:  identity.CreateAccountInput{Email: "c@d.com", PasswordHash: "h2", APIKey: "key-1"},
			channel: "api_key",
		},
		{
			name:    "oauth sub",
			first:   identity.CreateAccountInput{Email: "a@b.com", PasswordHash: "h1", OAuthSub: "sub-1"},
			second:  identity.CreateAccountInput{Email: "c@d.com", PasswordHash: "h2", OAuthSub: "sub-1"},
			channel: "oauth_sub",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			db, resolver := setupResolver(t)

			_, err := resolver.CreateAccount(ctx, tc.first)
			require.NoError(t, err)

			_, err = resolver.CreateAccount(ctx, tc.second)
			require.Error(t, err)
			assert.True(t, identity.IsDuplicateIdentity(err), "got %v", err)

			assert.Equal(t, 1, countRows(t, db, "accounts"))
			assert.Equal(t, 1, countRows(t, db, "credentials"))
		})
	}
}

func TestCreateAccount_NullChannelsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	db, resolver := setupResolver(t)

	_, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{Phone: "+12015550123", ExternalUserID: "u1", AuthProvider: identity.ProviderOTP})
	require.NoError(t, err)
	_, err = resolver.CreateAccount(ctx, identity.CreateAccountInput{Phone: "+12015550124", ExternalUserID: "u2", AuthProvider: identity.ProviderOTP})
	require.NoError(t, err)

	assert.Equal(t, 2, countRows(t, db, "credentials"))
}

func TestCreateAccount_EnforcesProviderChannels(t *testing.T) {
	ctx := context.Background()
	_, resolver := setupResolver(t)

	cases := map[string]identity.CreateAccountInput{
		"otp without phone":           {ExternalUserID: "u1", AuthProvider: identity.ProviderOTP},
		"otp with email":              {Phone: "+12015550123", Email: "a@b.com", AuthProvider: identity.ProviderOTP},
		"google without email":        {ExternalUserID: "g1", AuthProvider: identity.ProviderGoogle},
		"credentials without hash":    {Email: "a@b.com", AuthProvider: identity.ProviderCredentials},
		"unknown provider":            {Email: "a@b.com", AuthProvider: identity.AuthProvider("GITHUB")},
		"malformed email":             {Email: "not-an-email", PasswordHash: "h"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := resolver.CreateAccount(ctx, in)
			require.Error(t, err)
			assert.True(t, identity.IsInvalidIdentity(err), "got %v", err)
		})
	}
}

func TestAuthenticateByCredentials_EnumerationResistance(t *testing.T) {
	ctx := context.Background()
	_, repos := setupStore(t)

	var calls int32
	bcrypt := identity.NewBcryptVerifier(testBcryptCost)
	verifier := identity.VerifierFunc(func(plain, hash string) bool {
		atomic.AddInt32(&calls, 1)
		return bcrypt.Verify(plain, hash)
	})
	resolver := identity.NewResolver(repos, verifier).WithHasher(bcrypt)

	_, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        "ann@example.com",
		PasswordHash: mustHash(t, "right-password"),
	})
	require.NoError(t, err)

	unknown := resolver.AuthenticateByCredentials(ctx, "nobody@example.com", "right-password")
	unknownCalls := atomic.SwapInt32(&calls, 0)

	wrong := resolver.AuthenticateByCredentials(ctx, "ann@example.com", "wrong-password")
	wrongCalls := atomic.SwapInt32(&calls, 0)

	assert.Nil(t, unknown)
	assert.Nil(t, wrong)
	assert.Equal(t, wrongCalls, unknownCalls)

	_, errUnknown := resolver.VerifyCredentials(ctx, "nobody@example.com", "x")
	_, errWrong := resolver.VerifyCredentials(ctx, "ann@example.com", "x")
	assert.True(t, identity.IsUnverified(errUnknown))
	assert.True(t, identity.IsUnverified(errWrong))
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestAuthenticateByCredentials_IgnoresInactive(t *testing.T) {
	ctx := context.Background()
	db, resolver := setupResolver(t)

	account, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        "ann@example.com",
		PasswordHash: mustHash(t, "pw-123456"),
	})
	require.NoError(t, err)

	_, err = db.Exec("UPDATE credentials SET active = FALSE WHERE id = ?", account.ID)
	require.NoError(t, err)

	assert.Nil(t, resolver.AuthenticateByCredentials(ctx, "ann@example.com", "pw-123456"))
	assert.Nil(t, resolver.AuthenticateByEmail(ctx, "ann@example.com"))
}

func TestAuthenticateByCredentials_ExternalAccountHasNoPassword(t *testing.T) {
	ctx := context.Background()
	_, resolver := setupResolver(t)

	_, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Email:          "g@example.com",
		ExternalUserID: "g1",
		AuthProvider:   identity.ProviderGoogle,
	})
	require.NoError(t, err)

	assert.Nil(t, resolver.AuthenticateByCredentials(ctx, "g@example.com", ""))
	assert.NotNil(t, resolver.AuthenticateByEmail(ctx, "g@example.com"))
}

func TestAuthenticateByPhone_ChannelIsolation(t *testing.T) {
	ctx := context.Background()
	_, resolver := setupResolver(t)

	_, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Email:          "555-0100@example.com",
		ExternalUserID: "555-0100",
		AuthProvider:   identity.ProviderGoogle,
	})
	require.NoError(t, err)

	assert.Nil(t, resolver.AuthenticateByPhone(ctx, "555-0100"))

	otp, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Phone:          "555-0100",
		ExternalUserID: "u-otp",
		AuthProvider:   identity.ProviderOTP,
	})
	require.NoError(t, err)

	got := resolver.AuthenticateByPhone(ctx, "555-0100")
	require.NotNil(t, got)
	assert.Equal(t, otp.ID, got.ID)
	assert.Equal(t, "555-0100", got.Phone)
}

func TestAuthenticateByPhone_NormalizesNumbers(t *testing.T) {
	ctx := context.Background()
	_, resolver := setupResolver(t)

	account, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Phone:          "(201) 555-0123",
		ExternalUserID: "u1",
		AuthProvider:   identity.ProviderOTP,
	})
	require.NoError(t, err)
	assert.Equal(t, "+12015550123", account.Phone)

	got := resolver.AuthenticateByPhone(ctx, "+1 201 555 0123")
	require.NotNil(t, got)
	assert.Equal(t, account.ID, got.ID)
}

func TestAuthenticateByExternalID(t *testing.T) {
	ctx := context.Background()
	_, resolver := setupResolver(t)

	account, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Phone:          "+12015550123",
		ExternalUserID: "u1",
		AuthProvider:   identity.ProviderOTP,
	})
	require.NoError(t, err)

	got := resolver.AuthenticateByExternalID(ctx, "u1")
	require.NotNil(t, got)
	assert.Equal(t, account.ID, got.ID)
	assert.Nil(t, resolver.AuthenticateByExternalID(ctx, "u2"))
	assert.Nil(t, resolver.AuthenticateByExternalID(ctx, ""))
}

func TestAuthenticateByAPIKey_EmptyKeySkipsStore(t *testing.T) {
	ctx := context.Background()
	db, resolver := setupResolver(t)

	counter := &queryCounter{}
	db.AddQueryHook(counter)

	assert.Nil(t, resolver.AuthenticateByAPIKey(ctx, ""))
	assert.Nil(t, resolver.AuthenticateByAPIKey(ctx, "   "))
	assert.Equal(t, int64(0), counter.count())

	assert.Nil(t, resolver.AuthenticateByAPIKey(ctx, "missing"))
	assert.Greater(t, counter.count(), int64(0))
}

func TestUpdateAPIKey(t *testing.T) {
	ctx := context.Background()
	_, resolver := setupResolver(t)

	a, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{Email: "a@b.com", PasswordHash: "h"})
	require.NoError(t, err)
	b, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{Email: "c@d.com", PasswordHash: "h"})
	require.NoError(t, err)

	assert.True(t, resolver.UpdateAPIKey(ctx, a.ID, "key-a"))
	got := resolver.AuthenticateByAPIKey(ctx, "key-a")
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)

	assert.False(t, resolver.UpdateAPIKey(ctx, b.ID, "key-a"))
	assert.True(t, identity.IsDuplicateIdentity(resolver.ChangeAPIKey(ctx, b.ID, "key-a")))

	assert.True(t, resolver.UpdateAPIKey(ctx, a.ID, ""))
	assert.Nil(t, resolver.AuthenticateByAPIKey(ctx, "key-a"))
	assert.False(t, resolver.UpdateAPIKey(ctx, "missing", "key-x"))
}

func TestUpdatePassword(t *testing.T) {
	ctx := context.Background()
	_, resolver := setupResolver(t)

	account, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        "ann@example.com",
		PasswordHash: mustHash(t, "old-password"),
	})
	require.NoError(t, err)

	assert.True(t, resolver.UpdatePassword(ctx, account.ID, mustHash(t, "new-password")))
	assert.Nil(t, resolver.AuthenticateByCredentials(ctx, "ann@example.com", "old-password"))
	assert.NotNil(t, resolver.AuthenticateByCredentials(ctx, "ann@example.com", "new-password"))

	assert.False(t, resolver.UpdatePassword(ctx, "missing", "hash"))
	assert.True(t, identity.IsNotFound(resolver.ChangePassword(ctx, "missing", "hash")))
}

func TestUpdatePassword_KeepsProviderChannels(t *testing.T) {
	ctx := context.Background()
	db, resolver := setupResolver(t)

	ann, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        "ann@example.com",
		PasswordHash: mustHash(t, "secret"),
	})
	require.NoError(t, err)

	var before string
	require.NoError(t, db.QueryRow("SELECT password_hash FROM credentials WHERE id = ?", ann.ID).Scan(&before))

	assert.False(t, resolver.UpdatePassword(ctx, ann.ID, ""))
	assert.True(t, identity.IsInvalidIdentity(resolver.ChangePassword(ctx, ann.ID, "")))

	var after string
	require.NoError(t, db.QueryRow("SELECT password_hash FROM credentials WHERE id = ?", ann.ID).Scan(&after))
	assert.Equal(t, before, after)
	assert.NotNil(t, resolver.AuthenticateByCredentials(ctx, "ann@example.com", "secret"))

	otp, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{Phone: "+12015550123", ExternalUserID: "u1", AuthProvider: identity.ProviderOTP})
	require.NoError(t, err)
	assert.True(t, resolver.UpdatePassword(ctx, otp.ID, ""))
}

func TestLookup_RejectsUnknownChannel(t *testing.T) {
	ctx := context.Background()
	_, resolver := setupResolver(t)

	_, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        "ann@example.com",
		PasswordHash: "h",
		Role:         "admin",
	})
	require.NoError(t, err)

	for _, channel := range []identity.Channel{"role", "name", "password_hash", "id"} {
		account, err := resolver.Lookup(ctx, channel, "admin")
		assert.Nil(t, account)
		assert.True(t, identity.IsInvalidIdentity(err), "channel %s: %v", channel, err)
	}

	assert.True(t, identity.ChannelOAuthSub.Valid())
	assert.False(t, identity.Channel("role").Valid())
}

func TestUpdateEmail(t *testing.T) {
	ctx := context.Background()
	db, resolver := setupResolver(t)

	ann, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{Email: "ann@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	_, err = resolver.CreateAccount(ctx, identity.CreateAccountInput{Email: "bob@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	otp, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{Phone: "+12015550123", ExternalUserID: "u1", AuthProvider: identity.ProviderOTP})
	require.NoError(t, err)

	t.Run("collision", func(t *testing.T) {
		assert.False(t, resolver.UpdateEmail(ctx, ann.ID, "BOB@example.com"))
		assert.True(t, identity.IsDuplicateIdentity(resolver.ChangeEmail(ctx, ann.ID, "bob@example.com")))
	})

	t.Run("otp accounts carry no email", func(t *testing.T) {
		assert.False(t, resolver.UpdateEmail(ctx, otp.ID, "otp@example.com"))
	})

	t.Run("credentials need an email", func(t *testing.T) {
		assert.False(t, resolver.UpdateEmail(ctx, ann.ID, ""))
	})

	t.Run("unknown account", func(t *testing.T) {
		assert.False(t, resolver.UpdateEmail(ctx, "missing", "x@example.com"))
	})

	t.Run("success keeps both rows in sync", func(t *testing.T) {
		require.True(t, resolver.UpdateEmail(ctx, ann.ID, "Ann.New@Example.com"))

		var accEmail, credEmail string
		require.NoError(t, db.QueryRow("SELECT email FROM accounts WHERE id = ?", ann.ID).Scan(&accEmail))
		require.NoError(t, db.QueryRow("SELECT email FROM credentials WHERE id = ?", ann.ID).Scan(&credEmail))
		assert.Equal(t, "ann.new@example.com", accEmail)
		assert.Equal(t, "ann.new@example.com", credEmail)

		assert.Nil(t, resolver.AuthenticateByEmail(ctx, "ann@example.com"))
		assert.NotNil(t, resolver.AuthenticateByEmail(ctx, "ann.new@example.com"))
	})
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	db, resolver := setupResolver(t)

	account, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{Email: "ann@example.com", PasswordHash: "h"})
	require.NoError(t, err)

	assert.True(t, resolver.DeleteAccount(ctx, account.ID))
	assert.Equal(t, 0, countRows(t, db, "accounts"))
	assert.Equal(t, 0, countRows(t, db, "credentials"))

	assert.False(t, resolver.DeleteAccount(ctx, account.ID))
}

func TestDeleteAccount_MissingCredentialRollsBack(t *testing.T) {
	ctx := context.Background()
	db, resolver := setupResolver(t)

	account, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{Email: "ann@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	_, err = db.Exec("DELETE FROM credentials WHERE id = ?", account.ID)
	require.NoError(t, err)

	assert.False(t, resolver.DeleteAccount(ctx, account.ID))
	assert.Equal(t, 1, countRows(t, db, "accounts"))
}

func TestLookup_DistinguishesStorageFault(t *testing.T) {
	ctx := context.Background()
	db, resolver := setupResolver(t)

	_, err := resolver.Lookup(ctx, identity.ChannelEmail, "nobody@example.com")
	assert.True(t, identity.IsNotFound(err))

	require.NoError(t, db.Close())

	_, err = resolver.Lookup(ctx, identity.ChannelEmail, "nobody@example.com")
	assert.True(t, identity.IsStorageFault(err), "got %v", err)
	assert.Nil(t, resolver.AuthenticateByEmail(ctx, "nobody@example.com"))
	assert.False(t, resolver.UpdatePassword(ctx, "id", "hash"))
}

func TestResolver_RecordsActivity(t *testing.T) {
	ctx := context.Background()
	_, repos := setupStore(t)

	var events []identity.ActivityEventType
	resolver := identity.NewResolver(repos, identity.NewBcryptVerifier(testBcryptCost)).
		WithActivitySink(identity.ActivitySinkFunc(func(_ context.Context, evt identity.ActivityEvent) error {
			events = append(events, evt.EventType)
			return nil
		}))

	account, err := resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        "ann@example.com",
		PasswordHash: mustHash(t, "pw-123456"),
	})
	require.NoError(t, err)
	resolver.AuthenticateByCredentials(ctx, "ann@example.com", "pw-123456")
	resolver.AuthenticateByCredentials(ctx, "ann@example.com", "nope")
	resolver.DeleteAccount(ctx, account.ID)

	assert.Equal(t, []identity.ActivityEventType{
		identity.ActivityEventAccountCreated,
		identity.ActivityEventLoginSuccess,
		identity.ActivityEventLoginFailure,
		identity.ActivityEventAccountDeleted,
	}, events)
}
