package flow

import "fmt"

// Kind classifies terminal flow failures. Kinds exist for logging and
// diagnosis only — the user-facing rendering is uniform across kinds, and
// none of them is ever retried internally.
type Kind int

const (
	// KindConfiguration: a required option is missing or the installation's
	// configuration storage is misbehaving.
	KindConfiguration Kind = iota + 1

	// KindUnsafeLink: a return parameter arrived without a valid verifier.
	KindUnsafeLink

	// KindBadDestination: a verified return URL decoded to something empty,
	// relative, or off the allow-list.
	KindBadDestination

	// KindIdPSetup: constructing the OIDC client, or persisting state the
	// IdP round trip depends on, failed before the exchange.
	KindIdPSetup

	// KindIdPAuth: the authorization-code exchange itself failed.
	KindIdPAuth

	// KindUserInfo: fetching userinfo failed, or the configured username
	// claim is missing or unusable.
	KindUserInfo

	// KindLocalAccountIntegrity: a linked local account exists but is
	// structurally inconsistent, or binding a session to it failed.
	KindLocalAccountIntegrity
)

// String returns the log label for the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindUnsafeLink:
		return "unsafe_link"
	case KindBadDestination:
		return "bad_destination"
	case KindIdPSetup:
		return "idp_setup"
	case KindIdPAuth:
		return "idp_auth"
	case KindUserInfo:
		return "userinfo"
	case KindLocalAccountIntegrity:
		return "local_account_integrity"
	default:
		return "unknown"
	}
}

// FlowError is the single terminal error type of the login and logout flows.
// Every FlowError routes to the fatal error sink, which clears the session
// before rendering — no flow error can leave a half-authenticated session.
type FlowError struct {
	Kind Kind

	// Header is the short human summary shown on the error page.
	Header string

	// Detail is the technical message. It is escaped by the sink before
	// being embedded in the page.
	Detail string

	// Err is the underlying cause, when there is one.
	Err error
}

// Error implements error.
func (e *FlowError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("flow: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("flow: %s", e.Kind)
}

// Unwrap returns the underlying cause.
func (e *FlowError) Unwrap() error { return e.Err }

// fail builds a FlowError with the generic header for its kind.
func fail(kind Kind, err error, format string, args ...any) *FlowError {
	header := "Login failed"
	if kind == KindConfiguration {
		header = "Configuration error"
	}
	return &FlowError{
		Kind:   kind,
		Header: header,
		Detail: fmt.Sprintf(format, args...),
		Err:    err,
	}
}
