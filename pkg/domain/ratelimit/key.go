package ratelimit

import "strings"

const (
	DefaultNamespace = "rl"
	keySeparator     = ":"
)

type BucketKey string

func (k BucketKey) String() string {
	return string(k)
}

// KeyFormat builds bucket keys as namespace:keyPrefix:identityType:identifier.
// The layout is persisted in the shared store and must stay stable.
type KeyFormat struct {
	Namespace   string
	UserPrefix  string
	IPPrefix    string
	EmailPrefix string
}

func DefaultKeyFormat() KeyFormat {
	return KeyFormat{
		Namespace:   DefaultNamespace,
		UserPrefix:  string(TypeUser),
		IPPrefix:    string(TypeIP),
		EmailPrefix: string(TypeEmail),
	}
}

func (f KeyFormat) Build(keyPrefix string, id ResolvedIdentity) BucketKey {
	return BucketKey(strings.Join([]string{
		f.Namespace,
		keyPrefix,
		f.typePrefix(id.Type),
		id.Identifier,
	}, keySeparator))
}

func (f KeyFormat) typePrefix(t IdentityType) string {
	var p string
	switch t {
	case TypeUser:
		p = f.UserPrefix
	case TypeIP:
		p = f.IPPrefix
	case TypeEmail:
		p = f.EmailPrefix
	}
	if p == "" {
		return string(t)
	}
	return p
}
