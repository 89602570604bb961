package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/goliatone/go-identity/migrations"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newSQLiteResolver(t *testing.T) (*bun.DB, *Resolver) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(context.Background(), sqldb, migrations.DialectSQLite, nil))

	return db, NewResolver(NewRepositoryManager(db), NewBcryptVerifier(4))
}

const fixedID = "4f5c7c1e-6a7b-4d1e-9a43-2f1d3c9b8e01"

func TestCreateAccount_CredentialFailureRollsBackAccount(t *testing.T) {
	ctx := context.Background()
	db, r := newSQLiteResolver(t)
	r.newID = func() string { return fixedID }

	// a stray credential row holding the id forces the second insert to fail
	_, err := db.NewInsert().Model(&Credential{
		ID:           fixedID,
		Email:        "stray@example.com",
		PasswordHash: "h",
		Active:       true,
		AuthProvider: ProviderCredentials,
	}).Exec(ctx)
	require.NoError(t, err)

	_, err = r.CreateAccount(ctx, CreateAccountInput{
		Email:        "ann@example.com",
		PasswordHash: "h",
	})
	require.Error(t, err)

	accounts, err := db.NewSelect().Model((*Account)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, accounts)

	creds, err := db.NewSelect().Model((*Credential)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, creds)
}

func TestDelete_CredentialErrorRollsBack(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "accounts"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "credentials"`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	r := NewResolver(NewRepositoryManager(db), NewBcryptVerifier(4))
	err = r.Delete(context.Background(), "acc-1")

	require.Error(t, err)
	assert.True(t, IsStorageFault(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_MissingAccountRowRollsBack(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "accounts"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	r := NewResolver(NewRepositoryManager(db), NewBcryptVerifier(4))
	err = r.Delete(context.Background(), "acc-1")

	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBoundary_ClassifiesUnknownErrors(t *testing.T) {
	r := &Resolver{logger: defLogger()}

	err := r.boundary("op", errors.New("boom"))
	assert.True(t, IsStorageFault(err))

	dup := duplicateIdentity(ChannelEmail, nil)
	assert.Same(t, dup, r.boundary("op", dup))

	conflict := ErrIdentityConflict.Clone()
	assert.True(t, IsIdentityConflict(r.boundary("op", conflict)))
}

func TestCreateTx_RequiresSharedUUID(t *testing.T) {
	ctx := context.Background()
	db, _ := newSQLiteResolver(t)
	repo := NewAccountsRepository(db)

	err := repo.CreateTx(ctx, db, &Account{ID: "acc-1"}, &Credential{ID: "acc-1"})
	assert.True(t, IsInvalidIdentity(err))

	err = repo.CreateTx(ctx, db, &Account{ID: fixedID}, &Credential{ID: "4f5c7c1e-6a7b-4d1e-9a43-2f1d3c9b8e02"})
	assert.True(t, IsInvalidIdentity(err))

	assert.Equal(t, uuid.Nil, parseID("acc-1"))
	assert.Equal(t, fixedID, parseID(fixedID).String())
}

func TestChannelQueries_RejectUnknownChannel(t *testing.T) {
	ctx := context.Background()
	db, _ := newSQLiteResolver(t)
	repo := NewAccountsRepository(db)

	_, _, err := repo.GetByChannelTx(ctx, db, Channel("role"), "admin")
	assert.True(t, IsInvalidIdentity(err))

	_, err = repo.ChannelTakenTx(ctx, db, Channel("name"), "Ann", "")
	assert.True(t, IsInvalidIdentity(err))
}

func TestNewResolver_DecoyWithoutHasher(t *testing.T) {
	ctx := context.Background()
	_, base := newSQLiteResolver(t)

	var seen []string
	verifier := VerifierFunc(func(plain, hash string) bool {
		seen = append(seen, hash)
		return false
	})
	r := NewResolver(base.repos, verifier)

	_, err := r.VerifyCredentials(ctx, "nobody@example.com", "secret")
	require.True(t, IsUnverified(err))
	require.Len(t, seen, 1)
	assert.NotEmpty(t, seen[0])
	assert.True(t, strings.HasPrefix(seen[0], "$2"))
}

func TestRepositoryManager_GenericContracts(t *testing.T) {
	db, r := newSQLiteResolver(t)

	var tm repository.TransactionManager = NewRepositoryManager(db)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tm.RunInTx(ctx, nil, func(context.Context, bun.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	var v repository.Validator = NewRepositoryManager(db)
	assert.NoError(t, v.Validate())
	assert.Panics(t, func() { mngr{}.MustValidate() })

	account, err := r.CreateAccount(context.Background(), CreateAccountInput{Email: "ann@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, parseID(account.ID))

	var credID string
	require.NoError(t, db.QueryRow("SELECT id FROM credentials WHERE email = ?", "ann@example.com").Scan(&credID))
	assert.Equal(t, account.ID, credID)
}
