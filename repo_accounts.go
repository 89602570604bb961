package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

const pgUniqueViolation = "23505"

// Accounts is the persistence boundary for Account and Credential rows.
// Every method has a Tx variant so callers can compose several steps in
// one transaction.
type Accounts interface {
	Create(ctx context.Context, account *Account, cred *Credential) error
	CreateTx(ctx context.Context, tx bun.IDB, account *Account, cred *Credential) error

	GetByID(ctx context.Context, id string) (*Account, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*Account, error)
	GetCredentialTx(ctx context.Context, tx bun.IDB, id string) (*Credential, error)

	GetByChannel(ctx context.Context, channel Channel, value string) (*Account, *Credential, error)
	GetByChannelTx(ctx context.Context, tx bun.IDB, channel Channel, value string) (*Account, *Credential, error)
	ChannelTakenTx(ctx context.Context, tx bun.IDB, channel Channel, value, excludeID string) (bool, error)

	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id, passwordHash string) (int64, error)
	UpdateEmailTx(ctx context.Context, tx bun.IDB, id, email string) (int64, error)
	UpdateAPIKeyTx(ctx context.Context, tx bun.IDB, id, apiKey string) (int64, error)
	BindExternalIDTx(ctx context.Context, tx bun.IDB, id, externalUserID string) (int64, error)
	RefreshProfileTx(ctx context.Context, tx bun.IDB, id string, patch ProfilePatch) (int64, error)

	DeleteAccountTx(ctx context.Context, tx bun.IDB, id string) (int64, error)
	DeleteCredentialTx(ctx context.Context, tx bun.IDB, id string) (int64, error)
}

// ProfilePatch lists the denormalized fields provisioning may refresh.
// Blank fields are left untouched.
type ProfilePatch struct {
	Name         string
	ProfileImage string
	AuthProvider AuthProvider
}

func (p ProfilePatch) empty() bool {
	return p.Name == "" && p.ProfileImage == "" && p.AuthProvider == ""
}

type accounts struct {
	repository.Repository[*Account]
	credentials repository.Repository[*Credential]
	db          *bun.DB
	now         func() time.Time
}

var _ Accounts = (*accounts)(nil)

// NewAccountsRepository returns the bun backed store
func NewAccountsRepository(db *bun.DB) Accounts {
	return &accounts{
		Repository: repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
			NewRecord: func() *Account { return &Account{} },
			GetID: func(a *Account) uuid.UUID {
				if a == nil {
					return uuid.Nil
				}
				return parseID(a.ID)
			},
			SetID: func(a *Account, id uuid.UUID) {
				if a != nil {
					a.ID = id.String()
				}
			},
		}),
		credentials: repository.NewRepository[*Credential](db, repository.ModelHandlers[*Credential]{
			NewRecord: func() *Credential { return &Credential{} },
			GetID: func(c *Credential) uuid.UUID {
				if c == nil {
					return uuid.Nil
				}
				return parseID(c.ID)
			},
			SetID: func(c *Credential, id uuid.UUID) {
				if c != nil {
					c.ID = id.String()
				}
			},
		}),
		db:  db,
		now: time.Now,
	}
}

// parseID maps ids that are not UUIDs to uuid.Nil
func parseID(id string) uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func (r *accounts) Create(ctx context.Context, account *Account, cred *Credential) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return r.CreateTx(ctx, tx, account, cred)
	})
}

// CreateTx inserts both halves of an account. The caller owns the
// transaction so a failed credential insert rolls back the account row.
func (r *accounts) CreateTx(ctx context.Context, tx bun.IDB, account *Account, cred *Credential) error {
	if account == nil || cred == nil {
		return invalidIdentity("account and credential are required", nil)
	}
	if parseID(account.ID) == uuid.Nil || account.ID != cred.ID {
		return invalidIdentity("account and credential must share a uuid", nil)
	}

	now := r.now().UTC()
	account.CreatedAt, account.UpdatedAt = now, now
	cred.CreatedAt, cred.UpdatedAt = now, now

	if _, err := r.Repository.CreateTx(ctx, tx, account); err != nil {
		return classifyStoreError("insert account", "", err)
	}
	if _, err := r.credentials.CreateTx(ctx, tx, cred); err != nil {
		return classifyStoreError("insert credential", "", err)
	}
	return nil
}

func (r *accounts) GetByID(ctx context.Context, id string) (*Account, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *accounts) GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*Account, error) {
	account := new(Account)
	err := tx.NewSelect().
		Model(account).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, classifyStoreError("get account", "", err)
	}
	return account, nil
}

func (r *accounts) GetCredentialTx(ctx context.Context, tx bun.IDB, id string) (*Credential, error) {
	cred := new(Credential)
	err := tx.NewSelect().
		Model(cred).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, classifyStoreError("get credential", "", err)
	}
	return cred, nil
}

func (r *accounts) GetByChannel(ctx context.Context, channel Channel, value string) (*Account, *Credential, error) {
	return r.GetByChannelTx(ctx, r.db, channel, value)
}

// GetByChannelTx resolves exactly one channel to an account whose credential
// is active. The lookup never falls through to another channel.
func (r *accounts) GetByChannelTx(ctx context.Context, tx bun.IDB, channel Channel, value string) (*Account, *Credential, error) {
	if !channel.Valid() {
		return nil, nil, invalidIdentity("unknown channel "+string(channel), nil)
	}
	if value == "" {
		return nil, nil, notFound(channel, nil)
	}

	if channel.CredentialHeld() {
		cred := new(Credential)
		err := tx.NewSelect().
			Model(cred).
			Where("? = ?", bun.Ident(string(channel)), value).
			Where("active = ?", true).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return nil, nil, classifyStoreError("get credential by channel", channel, err)
		}
		account, err := r.GetByIDTx(ctx, tx, cred.ID)
		if err != nil {
			return nil, nil, err
		}
		return account, cred, nil
	}

	account := new(Account)
	err := tx.NewSelect().
		Model(account).
		Where("? = ?", bun.Ident(string(channel)), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, nil, classifyStoreError("get account by channel", channel, err)
	}

	cred, err := r.GetCredentialTx(ctx, tx, account.ID)
	if err != nil {
		return nil, nil, err
	}
	if !cred.Active {
		return nil, nil, notFound(channel, nil)
	}
	return account, cred, nil
}

// ChannelTakenTx reports whether any row other than excludeID holds value
// on channel. Inactive rows count: uniqueness is not scoped to active rows.
func (r *accounts) ChannelTakenTx(ctx context.Context, tx bun.IDB, channel Channel, value, excludeID string) (bool, error) {
	if !channel.Valid() {
		return false, invalidIdentity("unknown channel "+string(channel), nil)
	}
	if value == "" {
		return false, nil
	}

	models := []any{(*Account)(nil)}
	if channel.CredentialHeld() {
		models = append(models, (*Credential)(nil))
	}

	for _, model := range models {
		q := tx.NewSelect().
			Model(model).
			Where("? = ?", bun.Ident(string(channel)), value)
		if excludeID != "" {
			q = q.Where("id != ?", excludeID)
		}
		exists, err := q.Exists(ctx)
		if err != nil {
			return false, classifyStoreError("check channel", channel, err)
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

func (r *accounts) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id, passwordHash string) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*Credential)(nil)).
		Set("password_hash = ?", nullable(passwordHash)).
		Set("updated_at = ?", r.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return 0, classifyStoreError("update password", "", err)
	}
	return rowsAffected(res)
}

// UpdateEmailTx writes the credential email and keeps the account copy in
// sync. The returned count is the credential rows changed.
func (r *accounts) UpdateEmailTx(ctx context.Context, tx bun.IDB, id, email string) (int64, error) {
	now := r.now().UTC()
	res, err := tx.NewUpdate().
		Model((*Credential)(nil)).
		Set("email = ?", nullable(email)).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return 0, classifyStoreError("update credential email", ChannelEmail, err)
	}
	n, err := rowsAffected(res)
	if err != nil || n != 1 {
		return n, err
	}

	if _, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("email = ?", nullable(email)).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx); err != nil {
		return 0, classifyStoreError("update account email", ChannelEmail, err)
	}
	return n, nil
}

func (r *accounts) UpdateAPIKeyTx(ctx context.Context, tx bun.IDB, id, apiKey string) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("api_key = ?", nullable(apiKey)).
		Set("updated_at = ?", r.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return 0, classifyStoreError("update api key", ChannelAPIKey, err)
	}
	return rowsAffected(res)
}

// BindExternalIDTx sets external_user_id on both rows, only where it is
// still NULL.
func (r *accounts) BindExternalIDTx(ctx context.Context, tx bun.IDB, id, externalUserID string) (int64, error) {
	now := r.now().UTC()
	res, err := tx.NewUpdate().
		Model((*Credential)(nil)).
		Set("external_user_id = ?", externalUserID).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("external_user_id IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, classifyStoreError("bind credential external id", ChannelExternalUserID, err)
	}
	n, err := rowsAffected(res)
	if err != nil || n != 1 {
		return n, err
	}

	if _, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("external_user_id = ?", externalUserID).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx); err != nil {
		return 0, classifyStoreError("bind account external id", ChannelExternalUserID, err)
	}
	return n, nil
}

func (r *accounts) RefreshProfileTx(ctx context.Context, tx bun.IDB, id string, patch ProfilePatch) (int64, error) {
	if patch.empty() {
		return 0, nil
	}
	now := r.now().UTC()

	q := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("updated_at = ?", now).
		Where("id = ?", id)
	if patch.Name != "" {
		q = q.Set("name = ?", patch.Name)
	}
	if patch.ProfileImage != "" {
		q = q.Set("profile_image_url = ?", patch.ProfileImage)
	}
	if patch.AuthProvider != "" {
		q = q.Set("auth_provider = ?", string(patch.AuthProvider))
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, classifyStoreError("refresh profile", "", err)
	}
	n, err := rowsAffected(res)
	if err != nil || patch.AuthProvider == "" {
		return n, err
	}

	if _, err := tx.NewUpdate().
		Model((*Credential)(nil)).
		Set("auth_provider = ?", string(patch.AuthProvider)).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx); err != nil {
		return 0, classifyStoreError("refresh credential provider", "", err)
	}
	return n, nil
}

func (r *accounts) DeleteAccountTx(ctx context.Context, tx bun.IDB, id string) (int64, error) {
	res, err := tx.NewDelete().
		Model((*Account)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return 0, classifyStoreError("delete account", "", err)
	}
	return rowsAffected(res)
}

func (r *accounts) DeleteCredentialTx(ctx context.Context, tx bun.IDB, id string) (int64, error) {
	res, err := tx.NewDelete().
		Model((*Credential)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return 0, classifyStoreError("delete credential", "", err)
	}
	return rowsAffected(res)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageFault("rows affected", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// classifyStoreError maps driver errors onto the identity taxonomy.
// channel is a hint used when the driver does not name the column.
func classifyStoreError(op string, channel Channel, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return notFound(channel, err)
	}
	if isUniqueViolation(err) {
		if c, ok := channelFromConstraint(constraintText(err)); ok {
			channel = c
		}
		return duplicateIdentity(channel, err)
	}
	return storageFault(op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func constraintText(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName + " " + pgErr.Detail
	}
	return err.Error()
}

func channelFromConstraint(text string) (Channel, bool) {
	for _, c := range Channels {
		if strings.Contains(text, string(c)) {
			return c, true
		}
	}
	return "", false
}
