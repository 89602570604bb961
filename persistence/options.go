package persistence

import "go.uber.org/zap"

type migrateOptions struct {
	logger *zap.SugaredLogger
}

// MigrateOption configures Handle.Migrate
type MigrateOption func(*migrateOptions)

// WithMigrationLogger routes goose output through logger
func WithMigrationLogger(logger *zap.SugaredLogger) MigrateOption {
	return func(o *migrateOptions) {
		o.logger = logger
	}
}
