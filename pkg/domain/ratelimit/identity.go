package ratelimit

type IdentityType string

const (
	TypeUser  IdentityType = "user"
	TypeIP    IdentityType = "ip"
	TypeEmail IdentityType = "email"
)

// ResolvedIdentity is the identity component of a bucket key. For e-mail
// identities the Identifier is a keyed digest, never the address itself.
type ResolvedIdentity struct {
	Type       IdentityType
	Identifier string
}

// EmailCarrier is implemented by request payloads that carry a caller
// supplied e-mail address.
type EmailCarrier interface {
	GetEmail() string
}
