package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAccountCreated     ActivityEventType = "account.created"
	ActivityEventAccountDeleted     ActivityEventType = "account.deleted"
	ActivityEventAccountProvisioned ActivityEventType = "account.provisioned"
	ActivityEventAccountLinked      ActivityEventType = "account.linked"
	ActivityEventLoginSuccess       ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure       ActivityEventType = "auth.login.failure"
	ActivityEventPasswordUpdated    ActivityEventType = "credential.password.updated"
	ActivityEventEmailUpdated       ActivityEventType = "credential.email.updated"
	ActivityEventAPIKeyUpdated      ActivityEventType = "account.api_key.updated"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType    ActivityEventType
	AccountID    string
	Channel      Channel
	AuthProvider AuthProvider
	Metadata     map[string]any
	OccurredAt   time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity forwards evt to sink. Sink errors are logged and dropped.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, evt ActivityEvent) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, evt); err != nil {
		logger.Warn("activity sink failed for %s: %v", evt.EventType, err)
	}
}
