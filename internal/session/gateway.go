// Package session provides the visitor-scoped key/value store the login flow
// writes its transient state into. Writes are buffered per request and only
// durably persisted by Close — the flow calls Close before any redirect or
// external network call that depends on those writes surviving a process
// change during the identity-provider round trip.
package session

import "context"

// Keys the login flow stores during the round trip. None of them survive a
// completed flow: return_url is always cleared on both the success and the
// failure path, and the rest go with the session on logout or fatal error.
const (
	KeyState     = "state"
	KeyIDToken   = "id_token"
	KeyUserInfo  = "userinfo"
	KeyReturnURL = "return_url"
)

// StateValid is the value of KeyState after a successful IdP exchange.
const StateValid = "valid"

// Gateway is the contract the login flow requires from session storage.
// A Gateway is bound to a single visitor; concurrent requests from the same
// visitor are not synchronized here — the design assumes a visitor does not
// run two simultaneous login attempts.
type Gateway interface {
	// Set stages a write. Not durable until Close.
	Set(ctx context.Context, key, value string) error

	// Get returns the staged or stored value for key, or "" when absent.
	Get(ctx context.Context, key string) (string, error)

	// Clear stages a removal of one key. Not durable until Close.
	Clear(ctx context.Context, key string) error

	// ClearAll removes every entry of the session immediately and durably,
	// discarding staged writes. Logout and the fatal-error sink rely on this
	// happening before anything else they do.
	ClearAll(ctx context.Context) error

	// Close durably persists all staged writes.
	Close(ctx context.Context) error
}
