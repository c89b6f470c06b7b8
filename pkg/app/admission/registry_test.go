package admission_test

import (
	"errors"
	"testing"

	"github.com/ArchiveLabs/ArchiveGate/pkg/app/admission"
	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyPrefix(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"POST", "/api/posts/:id", "post_api_posts_id"},
		{"post", "/api/posts", "post_api_posts"},
		{"GET", "/", "get"},
		{"DELETE", "/api/friends/:friendId/requests", "delete_api_friends_friendid_requests"},
		{"PUT", "/api/files/*", "put_api_files"},
		{"PATCH", "/api//diary-entries/:id?", "patch_api_diary_entries_id"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, admission.DeriveKeyPrefix(tt.method, tt.path))
		})
	}
}

func TestRegister_DefaultsAndDerivedPrefixes(t *testing.T) {
	registry := admission.NewRegistry(nil)

	op, err := registry.Register("POST", "/api/posts",
		ratelimit.Spec{Capacity: 10, RefillTokens: 10, Identity: ratelimit.IdentityUser},
		ratelimit.Spec{Capacity: 100, RefillTokens: 100, RefillPeriodSeconds: 3600, Identity: ratelimit.IdentityIP},
		ratelimit.Spec{Capacity: 3, RefillTokens: 1, KeyPrefix: "posting"},
	)

	require.NoError(t, err)
	assert.Equal(t, "POST /api/posts", op.Name)
	require.Len(t, op.Specs, 3)
	assert.Equal(t, "post_api_posts", op.Specs[0].KeyPrefix)
	assert.Equal(t, uint(60), op.Specs[0].RefillPeriodSeconds)
	assert.Equal(t, "post_api_posts_1", op.Specs[1].KeyPrefix)
	assert.Equal(t, "posting", op.Specs[2].KeyPrefix)
	assert.Equal(t, ratelimit.IdentityAuto, op.Specs[2].Identity)

	found, ok := registry.Lookup("post", "/api/posts")
	assert.True(t, ok)
	assert.Equal(t, op, found)
}

func TestRegister_Rejections(t *testing.T) {
	registry := admission.NewRegistry(nil)
	_, err := registry.Register("POST", "/api/posts", ratelimit.Spec{Capacity: 1, RefillTokens: 1})
	require.NoError(t, err)
	_, err = registry.Register("POST", "/api/shared", ratelimit.Spec{Capacity: 1, RefillTokens: 1, KeyPrefix: "shared"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		specs  []ratelimit.Spec
		want   error
	}{
		{
			name:   "no specs",
			method: "GET", path: "/api/files",
			want: admission.ErrNoSpecs,
		},
		{
			name:   "duplicate operation",
			method: "POST", path: "/api/posts",
			specs: []ratelimit.Spec{{Capacity: 1, RefillTokens: 1}},
			want:  admission.ErrDuplicateOperation,
		},
		{
			name:   "zero capacity",
			method: "GET", path: "/api/files",
			specs: []ratelimit.Spec{{RefillTokens: 1}},
			want:  ratelimit.ErrInvalidSpec,
		},
		{
			name:   "unknown identity",
			method: "GET", path: "/api/files",
			specs: []ratelimit.Spec{{Capacity: 1, RefillTokens: 1, Identity: "cookie"}},
			want:  ratelimit.ErrInvalidSpec,
		},
		{
			name:   "same prefix and identity",
			method: "GET", path: "/api/tickets",
			specs: []ratelimit.Spec{
				{Capacity: 1, RefillTokens: 1, KeyPrefix: "tickets", Identity: ratelimit.IdentityIP},
				{Capacity: 5, RefillTokens: 5, KeyPrefix: "tickets", Identity: ratelimit.IdentityAuto},
			},
			want: admission.ErrOverlappingIdentity,
		},
		{
			name:   "explicit prefix steals a derived one",
			method: "GET", path: "/api/diaries",
			specs: []ratelimit.Spec{{Capacity: 1, RefillTokens: 1, KeyPrefix: "post_api_posts"}},
			want:  admission.ErrKeyPrefixCollision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Register(tt.method, tt.path, tt.specs...)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestRegister_ExplicitPrefixMayBeShared(t *testing.T) {
	registry := admission.NewRegistry(nil)

	_, err := registry.Register("POST", "/api/login", ratelimit.Spec{Capacity: 5, RefillTokens: 5, KeyPrefix: "login", Identity: ratelimit.IdentityEmail})
	require.NoError(t, err)
	_, err = registry.Register("POST", "/api/login/otp", ratelimit.Spec{Capacity: 5, RefillTokens: 5, KeyPrefix: "login", Identity: ratelimit.IdentityEmail})
	require.NoError(t, err)

	_, err = registry.Register("GET", "/api/tickets",
		ratelimit.Spec{Capacity: 1, RefillTokens: 1, KeyPrefix: "tickets", Identity: ratelimit.IdentityUser},
		ratelimit.Spec{Capacity: 1, RefillTokens: 1, KeyPrefix: "tickets", Identity: ratelimit.IdentityIP},
	)
	require.NoError(t, err)

	assert.Len(t, registry.Operations(), 3)
}

func TestRegister_AppliesOverrides(t *testing.T) {
	overrides, err := admission.DecodeOverrides(map[string]interface{}{
		"POST_API_POSTS": map[string]interface{}{
			"capacity":    "20",
			"fail_closed": true,
		},
		"login": map[string]interface{}{
			"refill_tokens":         1,
			"refill_period_seconds": 300,
		},
	})
	require.NoError(t, err)
	registry := admission.NewRegistry(overrides)

	posts, err := registry.Register("POST", "/api/posts", ratelimit.Spec{Capacity: 10, RefillTokens: 10})
	require.NoError(t, err)
	login, err := registry.Register("POST", "/api/login", ratelimit.Spec{Capacity: 5, RefillTokens: 5, KeyPrefix: "login"})
	require.NoError(t, err)

	assert.Equal(t, uint(20), posts.Specs[0].Capacity)
	assert.Equal(t, uint(10), posts.Specs[0].RefillTokens)
	assert.True(t, posts.Specs[0].FailClosed)
	assert.Equal(t, uint(5), login.Specs[0].Capacity)
	assert.Equal(t, uint(1), login.Specs[0].RefillTokens)
	assert.Equal(t, uint(300), login.Specs[0].RefillPeriodSeconds)
}

func TestRegister_InvalidOverride(t *testing.T) {
	overrides, err := admission.DecodeOverrides(map[string]interface{}{
		"post_api_posts": map[string]interface{}{"capacity": 0},
	})
	require.NoError(t, err)

	_, err = admission.NewRegistry(overrides).Register("POST", "/api/posts", ratelimit.Spec{Capacity: 10, RefillTokens: 10})

	assert.True(t, errors.Is(err, ratelimit.ErrInvalidSpec))
}

func TestDecodeOverrides_UnknownField(t *testing.T) {
	_, err := admission.DecodeOverrides(map[string]interface{}{
		"post_api_posts": map[string]interface{}{"burst": 3},
	})

	assert.Error(t, err)
}
