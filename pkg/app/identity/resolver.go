package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/iam"
	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/proxytrust"
)

const EmailParam = "email"

// Request is the slice of an inbound call the resolver needs.
type Request struct {
	PeerAddress  string
	ForwardedFor string
	Principal    *iam.Principal
	// Payload is the operation's decoded input, if it declared one.
	Payload any
	// Param looks up a query or form parameter.
	Param func(name string) string
}

type Resolver interface {
	Resolve(policy ratelimit.IdentityPolicy, req Request) (ratelimit.ResolvedIdentity, error)
}

type resolver struct {
	trust       proxytrust.Evaluator
	emailSecret []byte
}

func NewResolver(trust proxytrust.Evaluator, emailSecret string) Resolver {
	return &resolver{
		trust:       trust,
		emailSecret: []byte(emailSecret),
	}
}

func (r *resolver) Resolve(policy ratelimit.IdentityPolicy, req Request) (ratelimit.ResolvedIdentity, error) {
	switch policy {
	case ratelimit.IdentityUser:
		return r.resolveUser(req)
	case ratelimit.IdentityIP:
		return r.resolveIP(req)
	case ratelimit.IdentityEmail:
		return r.resolveEmail(req)
	case ratelimit.IdentityAuto, "":
		if req.Principal.Authenticated() {
			return r.resolveUser(req)
		}
		return r.resolveIP(req)
	default:
		return ratelimit.ResolvedIdentity{}, fmt.Errorf("%w: unknown policy %q", ratelimit.ErrIdentityUnavailable, policy)
	}
}

// resolveUser never falls back to the IP: a USER spec on an operation that
// anonymous callers can reach is a declaration bug.
func (r *resolver) resolveUser(req Request) (ratelimit.ResolvedIdentity, error) {
	if !req.Principal.Authenticated() {
		return ratelimit.ResolvedIdentity{}, fmt.Errorf("%w: no authenticated user", ratelimit.ErrIdentityUnavailable)
	}
	return ratelimit.ResolvedIdentity{Type: ratelimit.TypeUser, Identifier: req.Principal.UserID}, nil
}

func (r *resolver) resolveIP(req Request) (ratelimit.ResolvedIdentity, error) {
	addr := r.trust.EffectiveClientAddress(req.PeerAddress, req.ForwardedFor)
	if addr == "" {
		return ratelimit.ResolvedIdentity{}, fmt.Errorf("%w: no client address", ratelimit.ErrIdentityUnavailable)
	}
	return ratelimit.ResolvedIdentity{Type: ratelimit.TypeIP, Identifier: addr}, nil
}

func (r *resolver) resolveEmail(req Request) (ratelimit.ResolvedIdentity, error) {
	email := emailFromRequest(req)
	if email == "" {
		return ratelimit.ResolvedIdentity{}, fmt.Errorf("%w: request carries no email", ratelimit.ErrIdentityUnavailable)
	}
	return ratelimit.ResolvedIdentity{Type: ratelimit.TypeEmail, Identifier: HashEmail(r.emailSecret, email)}, nil
}

func emailFromRequest(req Request) string {
	if carrier, ok := req.Payload.(ratelimit.EmailCarrier); ok {
		if email := strings.TrimSpace(carrier.GetEmail()); email != "" {
			return email
		}
	}
	if req.Param != nil {
		return strings.TrimSpace(req.Param(EmailParam))
	}
	return ""
}

// HashEmail returns the hex HMAC-SHA256 of the normalised address so bucket
// keys and logs never contain the address itself.
func HashEmail(secret []byte, email string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(h.Sum(nil))
}
