package admission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	"github.com/mitchellh/mapstructure"
)

var (
	ErrNoSpecs             = errors.New("operation declares no rate limit specs")
	ErrDuplicateOperation  = errors.New("operation already registered")
	ErrKeyPrefixCollision  = errors.New("rate limit key prefix collision")
	ErrOverlappingIdentity = errors.New("specs share key prefix and identity")
)

// Override replaces the coded numbers of every spec whose key prefix it is
// registered under. Nil fields keep the coded value.
type Override struct {
	Capacity            *uint `mapstructure:"capacity"`
	RefillTokens        *uint `mapstructure:"refill_tokens"`
	RefillPeriodSeconds *uint `mapstructure:"refill_period_seconds"`
	FailClosed          *bool `mapstructure:"fail_closed"`
}

func (o Override) apply(spec ratelimit.Spec) ratelimit.Spec {
	if o.Capacity != nil {
		spec.Capacity = *o.Capacity
	}
	if o.RefillTokens != nil {
		spec.RefillTokens = *o.RefillTokens
	}
	if o.RefillPeriodSeconds != nil {
		spec.RefillPeriodSeconds = *o.RefillPeriodSeconds
	}
	if o.FailClosed != nil {
		spec.FailClosed = *o.FailClosed
	}
	return spec
}

// DecodeOverrides turns the raw rate_limit.overrides config section into
// overrides keyed by lower-case key prefix.
func DecodeOverrides(raw map[string]interface{}) (map[string]Override, error) {
	overrides := make(map[string]Override, len(raw))
	for prefix, value := range raw {
		var o Override
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &o,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(value); err != nil {
			return nil, fmt.Errorf("rate limit override %q: %w", prefix, err)
		}
		overrides[strings.ToLower(prefix)] = o
	}
	return overrides, nil
}

type prefixOwner struct {
	operation string
	derived   bool
}

// Registry holds the spec list of every protected operation. It is filled
// while routes are registered and read-only afterwards.
type Registry struct {
	mu         sync.Mutex
	operations map[string]ratelimit.Operation
	owners     map[string]prefixOwner
	overrides  map[string]Override
}

func NewRegistry(overrides map[string]Override) *Registry {
	if overrides == nil {
		overrides = map[string]Override{}
	}
	return &Registry{
		operations: make(map[string]ratelimit.Operation),
		owners:     make(map[string]prefixOwner),
		overrides:  overrides,
	}
}

func OperationName(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Register validates specs for the route and stores them. Specs without a
// key prefix get one derived from the route; the second and later derived
// prefixes of one route are suffixed with their position.
func (r *Registry) Register(method, path string, specs ...ratelimit.Spec) (ratelimit.Operation, error) {
	name := OperationName(method, path)
	if len(specs) == 0 {
		return ratelimit.Operation{}, fmt.Errorf("%s: %w", name, ErrNoSpecs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[name]; exists {
		return ratelimit.Operation{}, fmt.Errorf("%s: %w", name, ErrDuplicateOperation)
	}

	base := DeriveKeyPrefix(method, path)
	resolved := make([]ratelimit.Spec, len(specs))
	derived := make([]bool, len(specs))
	for i, spec := range specs {
		spec = spec.WithDefaults()
		if spec.KeyPrefix == "" {
			spec.KeyPrefix = base
			if i > 0 {
				spec.KeyPrefix = fmt.Sprintf("%s_%d", base, i)
			}
			derived[i] = true
		}
		if o, ok := r.overrides[strings.ToLower(spec.KeyPrefix)]; ok {
			spec = o.apply(spec)
		}
		if err := spec.Validate(); err != nil {
			return ratelimit.Operation{}, fmt.Errorf("%s spec %d (%s): %w", name, i, spec.KeyPrefix, err)
		}
		resolved[i] = spec
	}

	for i := range resolved {
		for j := i + 1; j < len(resolved); j++ {
			if resolved[i].KeyPrefix == resolved[j].KeyPrefix && identitiesOverlap(resolved[i].Identity, resolved[j].Identity) {
				return ratelimit.Operation{}, fmt.Errorf("%s: %w: %s (%s, %s)",
					name, ErrOverlappingIdentity, resolved[i].KeyPrefix, resolved[i].Identity, resolved[j].Identity)
			}
		}
	}

	for i, spec := range resolved {
		owner, taken := r.owners[spec.KeyPrefix]
		if taken && owner.operation != name && (owner.derived || derived[i]) {
			return ratelimit.Operation{}, fmt.Errorf("%s: %w: %s already used by %s",
				name, ErrKeyPrefixCollision, spec.KeyPrefix, owner.operation)
		}
	}
	for i, spec := range resolved {
		if _, taken := r.owners[spec.KeyPrefix]; !taken {
			r.owners[spec.KeyPrefix] = prefixOwner{operation: name, derived: derived[i]}
		}
	}

	op := ratelimit.Operation{Name: name, Specs: resolved}
	r.operations[name] = op
	return op, nil
}

func (r *Registry) Lookup(method, path string) (ratelimit.Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.operations[OperationName(method, path)]
	return op, ok
}

func (r *Registry) Operations() []ratelimit.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]ratelimit.Operation, 0, len(r.operations))
	for _, op := range r.operations {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
	return ops
}

// identitiesOverlap reports whether two policies can resolve to the same
// identity type for one request, which would make both specs share a bucket.
func identitiesOverlap(a, b ratelimit.IdentityPolicy) bool {
	if a == b {
		return true
	}
	auto := func(p, other ratelimit.IdentityPolicy) bool {
		return p == ratelimit.IdentityAuto && (other == ratelimit.IdentityUser || other == ratelimit.IdentityIP)
	}
	return auto(a, b) || auto(b, a)
}

// DeriveKeyPrefix builds a stable prefix from the route,
// e.g. POST /api/posts/:id becomes post_api_posts_id.
func DeriveKeyPrefix(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	lastUnderscore := false
	for _, r := range strings.ToLower(path) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}
