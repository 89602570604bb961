package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddNamedMigrationContext("00003_channel_uniqueness.go", upChannelUniqueness, downChannelUniqueness)
}

// Email and password become optional and every channel gets a
// unique-if-present constraint. Blank legacy values are copied as NULL
// so they do not collide with each other.

func accountsV3(name string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
    id TEXT NOT NULL PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    email TEXT,
    phone TEXT,
    external_user_id TEXT,
    auth_provider TEXT,
    role TEXT NOT NULL DEFAULT 'pending',
    profile_image_url TEXT NOT NULL DEFAULT '/user.png',
    api_key TEXT,
    oauth_sub TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CONSTRAINT uq_accounts_email UNIQUE (email),
    CONSTRAINT uq_accounts_phone UNIQUE (phone),
    CONSTRAINT uq_accounts_external_user_id UNIQUE (external_user_id),
    CONSTRAINT uq_accounts_api_key UNIQUE (api_key),
    CONSTRAINT uq_accounts_oauth_sub UNIQUE (oauth_sub)
)`, name)
}

func credentialsV3(name string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
    id TEXT NOT NULL PRIMARY KEY,
    email TEXT,
    password_hash TEXT,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    external_user_id TEXT,
    phone TEXT,
    auth_provider TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CONSTRAINT uq_credentials_email UNIQUE (email),
    CONSTRAINT uq_credentials_phone UNIQUE (phone),
    CONSTRAINT uq_credentials_external_user_id UNIQUE (external_user_id)
)`, name)
}

func accountsV2(name string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
    id TEXT NOT NULL PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'pending',
    profile_image_url TEXT NOT NULL DEFAULT '/user.png',
    api_key TEXT,
    oauth_sub TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    phone TEXT,
    external_user_id TEXT,
    auth_provider TEXT
)`, name)
}

func credentialsV2(name string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
    id TEXT NOT NULL PRIMARY KEY,
    email TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    phone TEXT,
    external_user_id TEXT,
    auth_provider TEXT
)`, name)
}

func nullIfBlank(column string) ColumnCopy {
	return ColumnCopy{Name: column, Expr: fmt.Sprintf("NULLIF(TRIM(%s), '')", column)}
}

func blankIfNull(column string) ColumnCopy {
	return ColumnCopy{Name: column, Expr: fmt.Sprintf("COALESCE(%s, '')", column)}
}

func col(name string) ColumnCopy {
	return ColumnCopy{Name: name}
}

func upChannelUniqueness(ctx context.Context, tx *sql.Tx) error {
	rebuilds := []TableRebuild{
		{
			Table:  "accounts",
			Create: accountsV3,
			Columns: []ColumnCopy{
				col("id"), col("name"),
				ColumnCopy{Name: "email", Expr: "NULLIF(LOWER(TRIM(email)), '')"},
				nullIfBlank("phone"), nullIfBlank("external_user_id"), nullIfBlank("auth_provider"),
				col("role"), col("profile_image_url"),
				nullIfBlank("api_key"), nullIfBlank("oauth_sub"),
				col("created_at"), col("updated_at"),
			},
		},
		{
			Table:  "credentials",
			Create: credentialsV3,
			Columns: []ColumnCopy{
				col("id"),
				ColumnCopy{Name: "email", Expr: "NULLIF(LOWER(TRIM(email)), '')"},
				nullIfBlank("password_hash"), col("active"),
				nullIfBlank("external_user_id"), nullIfBlank("phone"), nullIfBlank("auth_provider"),
				col("created_at"), col("updated_at"),
			},
		},
	}
	for _, r := range rebuilds {
		if err := RebuildTable(ctx, tx, r); err != nil {
			return err
		}
	}
	return nil
}

func downChannelUniqueness(ctx context.Context, tx *sql.Tx) error {
	rebuilds := []TableRebuild{
		{
			Table:  "accounts",
			Create: accountsV2,
			Columns: []ColumnCopy{
				col("id"), col("name"), blankIfNull("email"), col("role"), col("profile_image_url"),
				col("api_key"), col("oauth_sub"), col("created_at"), col("updated_at"),
				col("phone"), col("external_user_id"), col("auth_provider"),
			},
		},
		{
			Table:  "credentials",
			Create: credentialsV2,
			Columns: []ColumnCopy{
				col("id"), blankIfNull("email"), blankIfNull("password_hash"), col("active"),
				col("created_at"), col("updated_at"),
				col("phone"), col("external_user_id"), col("auth_provider"),
			},
		},
	}
	for _, r := range rebuilds {
		if err := RebuildTable(ctx, tx, r); err != nil {
			return err
		}
	}
	return nil
}
