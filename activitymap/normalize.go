// Package activitymap flattens identity activity events into a transport
// agnostic record for audit feeds.
package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-identity"
)

const (
	// MetadataKeyIdentityChannel stores the channel the event resolved on
	MetadataKeyIdentityChannel = "identity_channel"
	// MetadataKeyAuthProvider stores the provider tag of the account
	MetadataKeyAuthProvider = "auth_provider"
)

const (
	defaultFeed       = "identity"
	defaultObjectType = "account"
	defaultActorID    = "system"
)

// Normalized is the flat shape downstream audit consumers receive
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Feed       string         `json:"feed,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	feed          string
	objectType    string
	actorFallback string
}

// Normalize converts an identity.ActivityEvent into a Normalized record.
// Failed logins carry no account id and are attributed to the fallback actor.
func Normalize(event identity.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		feed:          defaultFeed,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	accountID := strings.TrimSpace(event.AccountID)
	actorID := accountID
	if actorID == "" {
		actorID = options.actorFallback
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   accountID,
		Feed:       options.feed,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithFeed sets the feed name stamped on every record
func WithFeed(feed string) Option {
	return func(opts *normalizeOptions) {
		opts.feed = strings.TrimSpace(feed)
	}
}

func WithObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback sets the actor id used when the event has no account
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			opts.actorFallback = actorID
		}
	}
}

// Sink returns an ActivitySink that normalizes each event before handing
// it to emit.
func Sink(emit func(context.Context, Normalized) error, opts ...Option) identity.ActivitySink {
	return identity.ActivitySinkFunc(func(ctx context.Context, event identity.ActivityEvent) error {
		return emit(ctx, Normalize(event, opts...))
	})
}

func normalizeMetadata(event identity.ActivityEvent) map[string]any {
	var metadata map[string]any
	if len(event.Metadata) > 0 {
		metadata = make(map[string]any, len(event.Metadata)+2)
		for k, v := range event.Metadata {
			metadata[k] = v
		}
	}

	set := func(key, value string) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; !exists {
			metadata[key] = value
		}
	}
	set(MetadataKeyIdentityChannel, string(event.Channel))
	set(MetadataKeyAuthProvider, string(event.AuthProvider))

	return metadata
}
