package middleware_test

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/app/admission"
	"github.com/ArchiveLabs/ArchiveGate/pkg/app/identity"
	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/auth/jwt"
	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/bucketstore"
	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/proxytrust"
	"github.com/ArchiveLabs/ArchiveGate/pkg/server/middleware"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (r *loginRequest) GetEmail() string { return r.Email }

type limitedApp struct {
	app *fiber.App
	mr  *miniredis.Miniredis
}

func newLimitedApp(t *testing.T, trusted []string, specs ...ratelimit.Spec) *limitedApp {
	t.Helper()
	mr := miniredis.RunT(t)
	a := newLimitedAppOn(t, mr.Addr(), 200*time.Millisecond, 200*time.Millisecond, trusted, specs...)
	a.mr = mr
	return a
}

func newLimitedAppOn(t *testing.T, addr string, failOpenTimeout, failClosedTimeout time.Duration, trusted []string, specs ...ratelimit.Spec) *limitedApp {
	t.Helper()
	logger, _ := test.NewNullLogger()
	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Unix(1740730536, 0)
	newStore := func(name string, timeout time.Duration) bucketstore.Store {
		store, err := bucketstore.NewStore(client, bucketstore.Options{
			Name:           name,
			Timeout:        timeout,
			TimeProvider:   func() time.Time { return now },
			JitterProvider: func(time.Duration) time.Duration { return 0 },
		})
		require.NoError(t, err)
		return store
	}

	engine := admission.NewEngine(
		logger,
		identity.NewResolver(proxytrust.NewEvaluator(logger, trusted), "email-secret"),
		bucketstore.Pools{
			FailOpen:   newStore(bucketstore.PoolFailOpen, failOpenTimeout),
			FailClosed: newStore(bucketstore.PoolFailClosed, failClosedTimeout),
		},
		nil,
		admission.Config{Keys: ratelimit.DefaultKeyFormat()},
	)

	op, err := admission.NewRegistry(nil).Register(fiber.MethodPost, "/api/posts", specs...)
	require.NoError(t, err)

	app := fiber.New()
	app.Post("/api/posts",
		middleware.NewAuthMiddleware(logger, jwt.NewJwtManager(testSecret)).Middleware(),
		middleware.WithPayload[loginRequest](),
		middleware.NewRateLimiter(logger, engine).Limit(op),
		func(c *fiber.Ctx) error {
			return c.SendString("OK")
		},
	)
	return &limitedApp{app: app}
}

func (a *limitedApp) post(t *testing.T, body string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader(body))
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func TestRateLimit_AllowAllowReject(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 2, RefillTokens: 2, RefillPeriodSeconds: 60, Identity: ratelimit.IdentityIP})

	first := a.post(t, "", nil)
	assert.Equal(t, fiber.StatusOK, first.StatusCode)
	assert.Equal(t, "1", first.Header.Get("X-RateLimit-Remaining"))

	second := a.post(t, "", nil)
	assert.Equal(t, fiber.StatusOK, second.StatusCode)
	assert.Equal(t, "0", second.Header.Get("X-RateLimit-Remaining"))

	third := a.post(t, "", nil)
	assert.Equal(t, fiber.StatusTooManyRequests, third.StatusCode)
	assert.Equal(t, "30", third.Header.Get(fiber.HeaderRetryAfter))
	body := decodeBody(t, third)
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.Equal(t, float64(30), body["retry_after"])
}

func TestRateLimit_ForwardedHeaderFromUntrustedPeerIsIgnored(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 1, RefillTokens: 1, Identity: ratelimit.IdentityIP})

	resp := a.post(t, "", map[string]string{fiber.HeaderXForwardedFor: "1.1.1.1"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = a.post(t, "", map[string]string{fiber.HeaderXForwardedFor: "2.2.2.2"})
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Len(t, a.mr.Keys(), 1)
}

func TestRateLimit_ForwardedHeaderFromTrustedPeer(t *testing.T) {
	a := newLimitedApp(t, []string{"0.0.0.0/0", "::/0"}, ratelimit.Spec{Capacity: 1, RefillTokens: 1, Identity: ratelimit.IdentityIP})

	resp := a.post(t, "", map[string]string{fiber.HeaderXForwardedFor: "1.1.1.1, 10.0.0.1"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = a.post(t, "", map[string]string{fiber.HeaderXForwardedFor: "2.2.2.2, 10.0.0.1"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = a.post(t, "", map[string]string{fiber.HeaderXForwardedFor: "1.1.1.1"})
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	assert.True(t, a.mr.Exists("rl:post_api_posts:ip:1.1.1.1"))
	assert.True(t, a.mr.Exists("rl:post_api_posts:ip:2.2.2.2"))
}

func TestRateLimit_UserSpecWithoutLoginIsServerError(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 5, RefillTokens: 5, Identity: ratelimit.IdentityUser})

	resp := a.post(t, "", nil)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal server error", decodeBody(t, resp)["error"])
	assert.Empty(t, resp.Header.Get(fiber.HeaderRetryAfter))
	assert.Empty(t, a.mr.Keys())
}

func TestRateLimit_UserSpecWithBearerToken(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 1, RefillTokens: 1, Identity: ratelimit.IdentityUser})
	token, err := jwt.NewJwtManager(testSecret).CreateToken("42", "", time.Hour)
	require.NoError(t, err)
	auth := map[string]string{fiber.HeaderAuthorization: "Bearer " + token}

	assert.Equal(t, fiber.StatusOK, a.post(t, "", auth).StatusCode)
	assert.Equal(t, fiber.StatusTooManyRequests, a.post(t, "", auth).StatusCode)
	assert.True(t, a.mr.Exists("rl:post_api_posts:user:42"))
}

func TestRateLimit_AutoSpecSplitsUsersAndAnonymous(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 1, RefillTokens: 1})
	token, err := jwt.NewJwtManager(testSecret).CreateToken("42", "", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, a.post(t, "", nil).StatusCode)
	assert.Equal(t, fiber.StatusOK, a.post(t, "", map[string]string{fiber.HeaderAuthorization: "Bearer " + token}).StatusCode)
	assert.Equal(t, fiber.StatusTooManyRequests, a.post(t, "", nil).StatusCode)
}

func TestRateLimit_EmailSpecNormalisesAddress(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 1, RefillTokens: 1, Identity: ratelimit.IdentityEmail})

	resp := a.post(t, `{"email":"Reader@Archive.test","password":"x"}`, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = a.post(t, `{"email":"  reader@archive.test ","password":"y"}`, nil)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	resp = a.post(t, `{"email":"other@archive.test"}`, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	for _, key := range a.mr.Keys() {
		assert.NotContains(t, key, "archive.test")
		assert.True(t, strings.HasPrefix(key, "rl:post_api_posts:email:"))
	}
}

func TestRateLimit_EmailFromQueryParameter(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 1, RefillTokens: 1, Identity: ratelimit.IdentityEmail})

	req := httptest.NewRequest(http.MethodPost, "/api/posts?email=reader@archive.test", nil)
	resp, err := a.app.Test(req)

	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, a.mr.Keys(), 1)
}

func TestRateLimit_EmailSpecWithoutEmailIsServerError(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 1, RefillTokens: 1, Identity: ratelimit.IdentityEmail})

	resp := a.post(t, `{"password":"x"}`, nil)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestRateLimit_InvalidPayload(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 1, RefillTokens: 1, Identity: ratelimit.IdentityEmail})

	resp := a.post(t, `{"email":`, nil)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, a.mr.Keys())
}

func TestRateLimit_BackendDownFailOpen(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 1, RefillTokens: 1, Identity: ratelimit.IdentityIP})
	a.mr.Close()

	for i := 0; i < 3; i++ {
		resp := a.post(t, "", nil)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_BackendDownFailClosed(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 1, RefillTokens: 1, Identity: ratelimit.IdentityIP, FailClosed: true})
	a.mr.Close()

	resp := a.post(t, "", nil)

	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get(fiber.HeaderRetryAfter))
}

// newHangingBackend accepts connections and never answers on them.
func newHangingBackend(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	})
	return ln.Addr().String()
}

func TestRateLimit_HangingBackend(t *testing.T) {
	const (
		failOpenTimeout   = 50 * time.Millisecond
		failClosedTimeout = 500 * time.Millisecond
	)

	t.Run("fail open admits after its timeout", func(t *testing.T) {
		a := newLimitedAppOn(t, newHangingBackend(t), failOpenTimeout, failClosedTimeout, nil,
			ratelimit.Spec{Capacity: 1, RefillTokens: 1, Identity: ratelimit.IdentityIP})

		start := time.Now()
		resp := a.post(t, "", nil)
		elapsed := time.Since(start)

		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("X-RateLimit-Remaining"))
		assert.GreaterOrEqual(t, elapsed, failOpenTimeout-5*time.Millisecond)
		assert.Less(t, elapsed, failOpenTimeout+250*time.Millisecond)
	})

	t.Run("fail closed rejects after its timeout", func(t *testing.T) {
		a := newLimitedAppOn(t, newHangingBackend(t), failOpenTimeout, failClosedTimeout, nil,
			ratelimit.Spec{Capacity: 1, RefillTokens: 1, Identity: ratelimit.IdentityIP, FailClosed: true})

		start := time.Now()
		resp := a.post(t, "", nil)
		elapsed := time.Since(start)

		assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "5", resp.Header.Get(fiber.HeaderRetryAfter))
		assert.GreaterOrEqual(t, elapsed, failClosedTimeout-5*time.Millisecond)
		assert.Less(t, elapsed, failClosedTimeout+250*time.Millisecond)
	})
}

func TestRateLimit_InvalidBearerToken(t *testing.T) {
	a := newLimitedApp(t, nil, ratelimit.Spec{Capacity: 1, RefillTokens: 1})

	resp := a.post(t, "", map[string]string{fiber.HeaderAuthorization: "Bearer nope"})

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, a.mr.Keys())
}

func TestPayload_ReachesHandler(t *testing.T) {
	app := fiber.New()
	app.Post("/api/auth/login", middleware.WithPayload[loginRequest](), func(c *fiber.Ctx) error {
		payload, ok := middleware.Payload[loginRequest](c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(payload.Email)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"reader@archive.test"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "reader@archive.test", string(data))
}
