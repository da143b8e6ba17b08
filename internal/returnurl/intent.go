package returnurl

// Flow distinguishes the two actions a return destination can be resolved for.
type Flow string

const (
	FlowLogin  Flow = "login"
	FlowLogout Flow = "logout"
)

type intentKind int

const (
	kindUnset intentKind = iota
	kindHere
	kindHome
	kindSetting
	kindSmart
	kindExplicit
)

// Intent is a closed tagged variant describing where a visitor should land
// after a login or logout completes. Only Explicit carries a payload; the
// other cases are resolved against configuration and request context by
// Resolver.Resolve.
type Intent struct {
	kind intentKind
	url  string
}

// Here resolves to the current request path on the site's own origin.
func Here() Intent { return Intent{kind: kindHere} }

// Home resolves to the site home URL.
func Home() Intent { return Intent{kind: kindHome} }

// Setting resolves to the configured per-flow return URL.
func Setting() Intent { return Intent{kind: kindSetting} }

// Smart picks Here or Setting depending on flow and request context.
func Smart() Intent { return Intent{kind: kindSmart} }

// Explicit carries a caller-provided URL, validated during resolution.
func Explicit(raw string) Intent { return Intent{kind: kindExplicit, url: raw} }

// ParseIntent maps a configuration or request string to an Intent. The empty
// string parses to the zero Intent, which Resolve replaces with the per-flow
// default. Anything that is not a known keyword is treated as an explicit URL.
func ParseIntent(s string) Intent {
	switch s {
	case "":
		return Intent{}
	case "here":
		return Here()
	case "home":
		return Home()
	case "setting":
		return Setting()
	case "smart":
		return Smart()
	default:
		return Explicit(s)
	}
}

// IsZero reports whether the intent is unset.
func (i Intent) IsZero() bool { return i.kind == kindUnset }
