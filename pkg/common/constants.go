package common

const (
	RequestIDHeader          = "X-Request-Id"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
)
