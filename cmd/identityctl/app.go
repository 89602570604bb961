package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/activitymap"
	"github.com/goliatone/go-identity/config"
	"github.com/goliatone/go-identity/gateway"
	"github.com/goliatone/go-identity/persistence"
	"github.com/goliatone/go-identity/signin"
	"github.com/goliatone/go-print"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type app struct {
	cfg         *config.Config
	zap         *zap.SugaredLogger
	logger      identity.Logger
	store       *persistence.Handle
	resolver    *identity.Resolver
	provisioner *identity.Provisioner
	signin      *signin.Service
	hasher      identity.BcryptVerifier
}

func newApp(ctx context.Context, envFile string, audit bool) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	zl, err := newZap(cfg.GetLogLevel())
	if err != nil {
		return nil, err
	}
	logger := identity.NewZapLogger(zl)

	store, err := persistence.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repos := identity.NewRepositoryManager(store.DB)
	repos.MustValidate()

	var sink identity.ActivitySink
	if audit {
		sink = auditSink(zl)
	}

	hasher := identity.NewBcryptVerifier(cfg.GetBcryptCost())
	resolver := identity.NewResolver(repos, hasher).
		WithLogger(logger).
		WithActivitySink(sink).
		WithPhoneRegion(cfg.GetPhoneRegion()).
		WithDefaultRole(cfg.GetDefaultRole())

	provisioner := identity.NewProvisioner(repos, resolver).
		WithLogger(logger).
		WithActivitySink(sink).
		WithFallbackLinking(cfg.ProvisionLinkFallback)

	upstream := gateway.New(cfg).WithLogger(logger)

	return &app{
		cfg:         cfg,
		zap:         zl,
		logger:      logger,
		store:       store,
		resolver:    resolver,
		provisioner: provisioner,
		signin:      signin.NewService(upstream, provisioner).WithLogger(logger),
		hasher:      hasher,
	}, nil
}

// auditSink writes every activity event as a structured log line
func auditSink(zl *zap.SugaredLogger) identity.ActivitySink {
	audit := zl.Named("audit")
	return activitymap.Sink(func(_ context.Context, n activitymap.Normalized) error {
		audit.Infow(n.Verb,
			"actor_id", n.ActorID,
			"object_id", n.ObjectID,
			"metadata", n.Metadata,
			"occurred_at", n.OccurredAt,
		)
		return nil
	})
}

func newZap(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store: %v", err)
	}
	_ = a.zap.Sync()
}

func (a *app) run(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return a.migrate(ctx)
	case "create":
		return a.create(ctx, rest)
	case "lookup":
		return a.lookup(ctx, rest)
	case "login":
		return a.login(ctx, rest)
	case "otp":
		if len(rest) == 0 {
			return errors.New("otp requires send or verify")
		}
		switch rest[0] {
		case "send":
			return a.otpSend(ctx, rest[1:])
		case "verify":
			return a.otpVerify(ctx, rest[1:])
		}
		return fmt.Errorf("unknown otp command %q", rest[0])
	case "google":
		return a.google(ctx, rest)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) migrate(ctx context.Context) error {
	if err := a.store.Migrate(ctx, persistence.WithMigrationLogger(a.zap)); err != nil {
		return err
	}
	a.logger.Info("identity schema is up to date")
	return nil
}

func (a *app) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "plain text password")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hash, err := a.hasher.Hash(*password)
	if err != nil {
		return err
	}
	account, err := a.resolver.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        *email,
		PasswordHash: hash,
		Name:         *name,
	})
	if err != nil {
		return err
	}
	return a.output(account)
}

func (a *app) lookup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	channel := fs.String("channel", string(identity.ChannelEmail), "email, phone, external_user_id, api_key or oauth_sub")
	value := fs.String("value", "", "channel value")
	if err := fs.Parse(args); err != nil {
		return err
	}

	account, err := a.resolver.Lookup(ctx, identity.Channel(*channel), *value)
	if err != nil {
		return err
	}
	return a.output(account)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "plain text password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	account, err := a.resolver.VerifyCredentials(ctx, *email, *password)
	if err != nil {
		return err
	}
	return a.output(account)
}

func (a *app) otpSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("otp send", flag.ContinueOnError)
	phone := fs.String("phone", "", "phone number")
	hash := fs.String("hash", "", "app hash used by SMS retrievers")
	ref := fs.String("ref", "", "affiliate code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	out := a.signin.RequestOTP(ctx, *phone, *hash, *ref)
	if !out.OK {
		return out.Err
	}
	return a.output(map[string]any{"message": out.Message, "session": out.Session})
}

func (a *app) otpVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("otp verify", flag.ContinueOnError)
	phone := fs.String("phone", "", "phone number")
	code := fs.String("code", "", "code received by SMS")
	session := fs.String("session", "", "session returned by otp send")
	ref := fs.String("ref", "", "affiliate code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := a.signin.SignInWithOTP(ctx, *phone, *code, *session, *ref)
	if err != nil {
		return err
	}
	return a.output(res)
}

func (a *app) google(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("google", flag.ContinueOnError)
	token := fs.String("token", "", "Google ID token")
	ref := fs.String("ref", "", "affiliate code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := a.signin.SignInWithGoogle(ctx, *token, *ref)
	if err != nil {
		return err
	}
	return a.output(res)
}

func (a *app) output(v any) error {
	fmt.Println(print.MaybePrettyJSON(v))
	return nil
}
