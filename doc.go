// Package identity unifies the identity channels of an account (email,
// phone, upstream user id, API key and legacy OAuth subject) behind a
// single resolver.
//
// Storage:
//   - Every account is an accounts row plus a credentials row sharing the
//     same id. Resolver.CreateAccount and Resolver.Delete always touch both
//     rows inside one transaction.
//   - Channel values are unique across accounts while present and are
//     stored as NULL when absent, so empty values never collide.
//
// Resolution:
//   - Lookups use exactly one channel and only consider active credentials.
//     The Authenticate* helpers return nil on any failure; Lookup and the
//     Change* methods return the full outcome taxonomy (ErrNotFound,
//     ErrDuplicateIdentity, ErrInvalidIdentity, ErrUnverified,
//     ErrIdentityConflict, ErrStorageFault).
//   - Password checks pay for one hash comparison even for unknown emails.
//
// Provisioning:
//   - Provisioner maps an ExternalIdentity from the upstream auth service to
//     a local account: external_user_id first, then phone for OTP or email
//     for GOOGLE. Unbound accounts found on the fallback channel are linked;
//     accounts bound to another upstream user are refused.
//
// Activity sinks:
//   - ActivitySink receives account, login and credential events. Sinks run
//     best-effort (errors are logged) so they never fail an operation.
package identity
